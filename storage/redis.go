package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"jira-mention-notifier/pkg/notifier"
)

// Hash names for the link table.
const (
	hashLinks        = "subs"
	hashSlackToJira  = "slack_ids_to_jira_ids"
	redisDialTimeout = 5 * time.Second
)

// RedisStore keeps credentials in plain keys and links in two hashes.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("Redis connection established", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound(key)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SlackToken returns the bot token stored by the Slack install flow.
func (s *RedisStore) SlackToken(ctx context.Context) (string, error) {
	return s.get(ctx, keySlackToken)
}

// SetSlackToken stores the bot token.
func (s *RedisStore) SetSlackToken(ctx context.Context, token string) error {
	return s.set(ctx, keySlackToken, token)
}

// JiraToken returns the current Jira access token.
func (s *RedisStore) JiraToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyJiraToken)
}

// SetJiraToken stores the Jira access token.
func (s *RedisStore) SetJiraToken(ctx context.Context, token string) error {
	return s.set(ctx, keyJiraToken, token)
}

// JiraRefreshToken returns the current Jira refresh token.
func (s *RedisStore) JiraRefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyJiraRefreshToken)
}

// SetJiraRefreshToken stores the Jira refresh token.
func (s *RedisStore) SetJiraRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, keyJiraRefreshToken, token)
}

// JiraInstance returns the cloud id and site URL of the connected Jira workspace.
func (s *RedisStore) JiraInstance(ctx context.Context) (string, string, error) {
	vals, err := s.client.MGet(ctx, keyJiraCloudID, keyJiraURL).Result()
	if err != nil {
		return "", "", fmt.Errorf("get jira instance: %w", err)
	}
	cloudID, _ := vals[0].(string)
	siteURL, _ := vals[1].(string)
	if cloudID == "" || siteURL == "" {
		return "", "", notFound("jira instance")
	}
	return cloudID, siteURL, nil
}

// SetJiraInstance stores the cloud id and site URL together.
func (s *RedisStore) SetJiraInstance(ctx context.Context, cloudID, siteURL string) error {
	if err := s.client.MSet(ctx, keyJiraCloudID, cloudID, keyJiraURL, siteURL).Err(); err != nil {
		return fmt.Errorf("set jira instance: %w", err)
	}
	return nil
}

// Link returns the link record for a Jira account.
func (s *RedisStore) Link(ctx context.Context, jiraAccountID string) (*notifier.LinkRecord, error) {
	raw, err := s.client.HGet(ctx, hashLinks, jiraAccountID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("link " + jiraAccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get link %s: %w", jiraAccountID, err)
	}

	var rec notifier.LinkRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode link %s: %w", jiraAccountID, err)
	}
	rec.JiraAccountID = jiraAccountID
	return &rec, nil
}

// JiraIDBySlackID returns the Jira account linked to a Slack user.
func (s *RedisStore) JiraIDBySlackID(ctx context.Context, slackUserID string) (string, error) {
	id, err := s.client.HGet(ctx, hashSlackToJira, slackUserID).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound("slack user " + slackUserID)
	}
	if err != nil {
		return "", fmt.Errorf("get jira id for %s: %w", slackUserID, err)
	}
	return id, nil
}

// SaveLink writes both hash entries in one MULTI/EXEC.
func (s *RedisStore) SaveLink(ctx context.Context, rec *notifier.LinkRecord) error {
	if err := validateLink(rec); err != nil {
		return err
	}

	// Entries left behind by a previous link of either side.
	staleJira, err := s.client.HGet(ctx, hashSlackToJira, rec.SlackUserID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get previous link: %w", err)
	}
	var staleSlack string
	if prev, err := s.Link(ctx, rec.JiraAccountID); err == nil {
		staleSlack = prev.SlackUserID
	} else if !notifier.IsNotFound(err) {
		return err
	}

	payload, err := json.Marshal(map[string]string{"slack_id": rec.SlackUserID})
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if staleJira != "" && staleJira != rec.JiraAccountID {
			pipe.HDel(ctx, hashLinks, staleJira)
		}
		if staleSlack != "" && staleSlack != rec.SlackUserID {
			pipe.HDel(ctx, hashSlackToJira, staleSlack)
		}
		pipe.HSet(ctx, hashLinks, rec.JiraAccountID, string(payload))
		pipe.HSet(ctx, hashSlackToJira, rec.SlackUserID, rec.JiraAccountID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save link: %w", err)
	}

	s.logger.Info("Link saved", "jira_account_id", rec.JiraAccountID, "slack_user_id", rec.SlackUserID)
	return nil
}

// RemoveLink deletes both hash entries in one MULTI/EXEC.
func (s *RedisStore) RemoveLink(ctx context.Context, slackUserID string) (bool, error) {
	jiraID, err := s.JiraIDBySlackID(ctx, slackUserID)
	if notifier.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, hashLinks, jiraID)
		pipe.HDel(ctx, hashSlackToJira, slackUserID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove link: %w", err)
	}

	s.logger.Info("Link removed", "jira_account_id", jiraID, "slack_user_id", slackUserID)
	return true, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
