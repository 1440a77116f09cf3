package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"jira-mention-notifier/pkg/notifier"
)

// Object names inside the bucket or local directory.
const (
	credentialsObject = "credentials.json"
	linksObject       = "links.json"
)

// BucketStore keeps two JSON documents in Cloud Storage, or in a local directory when localPath is set.
// Every mutation is a read-modify-write under mu, so a single instance must own the bucket.
type BucketStore struct {
	client    *storage.Client
	logger    *slog.Logger
	bucket    string
	localPath string
	mu        sync.Mutex
}

// NewBucket creates a bucket-backed store.
func NewBucket(client *storage.Client, bucket, localPath string, logger *slog.Logger) *BucketStore {
	return &BucketStore{
		client:    client,
		logger:    logger,
		bucket:    bucket,
		localPath: localPath,
	}
}

// linkTable is the links.json document, keyed by Jira account id.
type linkTable map[string]string

// load reads an object into v. A missing object leaves v untouched.
func (s *BucketStore) load(ctx context.Context, key string, v any) error {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		missing := false
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return nil
				}
				if openErr != nil {
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(5*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			return fmt.Errorf("load after retries: %w", err)
		}
		if missing {
			return nil
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *BucketStore) save(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Object saved to local storage", "path", filePath)
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	s.logger.Debug("Object saved", "bucket", s.bucket, "key", key)
	return nil
}

func (s *BucketStore) credentials(ctx context.Context) (*notifier.Credentials, error) {
	var creds notifier.Credentials
	if err := s.load(ctx, credentialsObject, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (s *BucketStore) credential(ctx context.Context, name string, field func(*notifier.Credentials) string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.credentials(ctx)
	if err != nil {
		return "", err
	}
	v := field(creds)
	if v == "" {
		return "", notFound(name)
	}
	return v, nil
}

func (s *BucketStore) updateCredentials(ctx context.Context, mutate func(*notifier.Credentials)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.credentials(ctx)
	if err != nil {
		return err
	}
	mutate(creds)
	return s.save(ctx, credentialsObject, creds)
}

// SlackToken returns the bot token stored by the Slack install flow.
func (s *BucketStore) SlackToken(ctx context.Context) (string, error) {
	return s.credential(ctx, keySlackToken, func(c *notifier.Credentials) string { return c.SlackToken })
}

// SetSlackToken stores the bot token.
func (s *BucketStore) SetSlackToken(ctx context.Context, token string) error {
	return s.updateCredentials(ctx, func(c *notifier.Credentials) { c.SlackToken = token })
}

// JiraToken returns the current Jira access token.
func (s *BucketStore) JiraToken(ctx context.Context) (string, error) {
	return s.credential(ctx, keyJiraToken, func(c *notifier.Credentials) string { return c.JiraToken })
}

// SetJiraToken stores the Jira access token.
func (s *BucketStore) SetJiraToken(ctx context.Context, token string) error {
	return s.updateCredentials(ctx, func(c *notifier.Credentials) { c.JiraToken = token })
}

// JiraRefreshToken returns the current Jira refresh token.
func (s *BucketStore) JiraRefreshToken(ctx context.Context) (string, error) {
	return s.credential(ctx, keyJiraRefreshToken, func(c *notifier.Credentials) string { return c.JiraRefreshToken })
}

// SetJiraRefreshToken stores the Jira refresh token.
func (s *BucketStore) SetJiraRefreshToken(ctx context.Context, token string) error {
	return s.updateCredentials(ctx, func(c *notifier.Credentials) { c.JiraRefreshToken = token })
}

// JiraInstance returns the cloud id and site URL of the connected Jira workspace.
func (s *BucketStore) JiraInstance(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.credentials(ctx)
	if err != nil {
		return "", "", err
	}
	if creds.JiraCloudID == "" || creds.JiraURL == "" {
		return "", "", notFound("jira instance")
	}
	return creds.JiraCloudID, creds.JiraURL, nil
}

// SetJiraInstance stores the cloud id and site URL.
func (s *BucketStore) SetJiraInstance(ctx context.Context, cloudID, siteURL string) error {
	return s.updateCredentials(ctx, func(c *notifier.Credentials) {
		c.JiraCloudID = cloudID
		c.JiraURL = siteURL
	})
}

func (s *BucketStore) links(ctx context.Context) (linkTable, error) {
	table := linkTable{}
	if err := s.load(ctx, linksObject, &table); err != nil {
		return nil, err
	}
	return table, nil
}

// Link returns the link record for a Jira account.
func (s *BucketStore) Link(ctx context.Context, jiraAccountID string) (*notifier.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.links(ctx)
	if err != nil {
		return nil, err
	}
	slackID, ok := table[jiraAccountID]
	if !ok {
		return nil, notFound("link " + jiraAccountID)
	}
	return &notifier.LinkRecord{JiraAccountID: jiraAccountID, SlackUserID: slackID}, nil
}

// JiraIDBySlackID returns the Jira account linked to a Slack user.
func (s *BucketStore) JiraIDBySlackID(ctx context.Context, slackUserID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.links(ctx)
	if err != nil {
		return "", err
	}
	for jiraID, slackID := range table {
		if slackID == slackUserID {
			return jiraID, nil
		}
	}
	return "", notFound("slack user " + slackUserID)
}

// SaveLink rewrites links.json with the new pair and without any earlier link of either side.
func (s *BucketStore) SaveLink(ctx context.Context, rec *notifier.LinkRecord) error {
	if err := validateLink(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.links(ctx)
	if err != nil {
		return err
	}
	for jiraID, slackID := range table {
		if slackID == rec.SlackUserID {
			delete(table, jiraID)
		}
	}
	table[rec.JiraAccountID] = rec.SlackUserID

	if err := s.save(ctx, linksObject, table); err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	s.logger.Info("Link saved", "jira_account_id", rec.JiraAccountID, "slack_user_id", rec.SlackUserID)
	return nil
}

// RemoveLink rewrites links.json without the pair for slackUserID.
func (s *BucketStore) RemoveLink(ctx context.Context, slackUserID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.links(ctx)
	if err != nil {
		return false, err
	}
	removed := false
	for jiraID, slackID := range table {
		if slackID == slackUserID {
			delete(table, jiraID)
			removed = true
		}
	}
	if !removed {
		return false, nil
	}

	if err := s.save(ctx, linksObject, table); err != nil {
		return false, fmt.Errorf("remove link: %w", err)
	}
	s.logger.Info("Link removed", "slack_user_id", slackUserID)
	return true, nil
}

// Close releases the Cloud Storage client, if any.
func (s *BucketStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
