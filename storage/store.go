// Package storage persists workspace credentials and the Jira to Slack link table.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"jira-mention-notifier/pkg/notifier"
)

// Credential keys. The Redis backend uses them verbatim as key names.
const (
	keySlackToken       = "SLACK_TOKEN"
	keyJiraToken        = "JIRA_TOKEN"
	keyJiraRefreshToken = "JIRA_REFRESH_TOKEN"
	keyJiraCloudID      = "JIRA_ID"
	keyJiraURL          = "JIRA_URL"
)

// Store is the credential and link persistence contract shared by all backends.
// Absent values are reported as errors wrapping notifier.ErrNotFound.
type Store interface {
	SlackToken(ctx context.Context) (string, error)
	SetSlackToken(ctx context.Context, token string) error
	JiraToken(ctx context.Context) (string, error)
	SetJiraToken(ctx context.Context, token string) error
	JiraRefreshToken(ctx context.Context) (string, error)
	SetJiraRefreshToken(ctx context.Context, token string) error
	JiraInstance(ctx context.Context) (cloudID, siteURL string, err error)
	SetJiraInstance(ctx context.Context, cloudID, siteURL string) error

	Link(ctx context.Context, jiraAccountID string) (*notifier.LinkRecord, error)
	JiraIDBySlackID(ctx context.Context, slackUserID string) (string, error)
	// SaveLink writes the forward and reverse entries together, replacing any
	// earlier link held by either side.
	SaveLink(ctx context.Context, rec *notifier.LinkRecord) error
	// RemoveLink deletes both entries for slackUserID and reports whether a link existed.
	RemoveLink(ctx context.Context, slackUserID string) (bool, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendBucket = "bucket"
)

// Config selects and configures a backend.
type Config struct {
	Backend         string
	RedisURL        string
	SQLitePath      string
	Bucket          string
	LocalPath       string
	CredentialsFile string
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedis(ctx, cfg.RedisURL, logger)
	case BackendSQLite:
		return NewSQLite(cfg.SQLitePath, logger)
	case BackendBucket:
		if cfg.LocalPath != "" {
			logger.Info("Using local storage", "path", cfg.LocalPath)
			return NewBucket(nil, "", cfg.LocalPath, logger), nil
		}
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)
		return NewBucket(client, cfg.Bucket, "", logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func notFound(key string) error {
	return fmt.Errorf("%s: %w", key, notifier.ErrNotFound)
}

var errEmptyLink = errors.New("link record needs both a jira account id and a slack user id")

func validateLink(rec *notifier.LinkRecord) error {
	if rec == nil || rec.JiraAccountID == "" || rec.SlackUserID == "" {
		return errEmptyLink
	}
	return nil
}
