package jira

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"jira-mention-notifier/metrics"
	"jira-mention-notifier/pkg/notifier"
)

// CredentialStore is the subset of credential persistence the refresher needs.
type CredentialStore interface {
	JiraToken(ctx context.Context) (string, error)
	SetJiraToken(ctx context.Context, token string) error
	JiraRefreshToken(ctx context.Context) (string, error)
	SetJiraRefreshToken(ctx context.Context, token string) error
	JiraInstance(ctx context.Context) (cloudID, siteURL string, err error)
}

// Refresher fetches comments with the stored access token, refreshing it once when Jira rejects it.
// It is safe for concurrent use; refresh-and-persist is serialized.
type Refresher struct {
	client  *Client
	store   CredentialStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// NewRefresher creates a refresher around client and store.
func NewRefresher(client *Client, store CredentialStore, logger *slog.Logger, m *metrics.Metrics) *Refresher {
	return &Refresher{
		client:  client,
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// FetchComment returns the comment, or *AuthError once a refreshed token is rejected as well,
// or *UpstreamError for any other non-2xx response. It never calls Jira more than twice.
func (r *Refresher) FetchComment(ctx context.Context, issueID, commentID string) (*notifier.Comment, error) {
	cloudID, _, err := r.store.JiraInstance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jira instance: %w", err)
	}
	token, err := r.store.JiraToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jira token: %w", err)
	}

	comment, err := r.client.Comment(ctx, cloudID, token, issueID, commentID)
	if !IsTokenInvalid(err) {
		return comment, err
	}

	r.logger.Info("Jira rejected access token, refreshing", "issue_id", issueID, "comment_id", commentID)
	fresh, err := r.refresh(ctx, token)
	if err != nil {
		return nil, err
	}

	comment, err = r.client.Comment(ctx, cloudID, fresh, issueID, commentID)
	var invalid *TokenInvalidError
	if errors.As(err, &invalid) {
		return nil, &AuthError{Status: invalid.Status, Body: invalid.Body, Reason: "refreshed token rejected"}
	}
	return comment, err
}

// refresh returns a usable access token. When another caller already replaced the rejected token
// while this one waited for the lock, the stored token is reused without a second exchange.
func (r *Refresher) refresh(ctx context.Context, rejected string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.store.JiraToken(ctx)
	if err == nil && current != "" && current != rejected {
		r.metrics.TokenRefreshes.WithLabelValues("reused").Inc()
		r.logger.Info("Using access token refreshed by a concurrent request")
		return current, nil
	}

	refreshToken, err := r.store.JiraRefreshToken(ctx)
	if err != nil {
		r.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		if notifier.IsNotFound(err) {
			return "", &AuthError{Reason: "no refresh token stored"}
		}
		return "", fmt.Errorf("load refresh token: %w", err)
	}

	tokens, err := r.client.Refresh(ctx, refreshToken)
	if err != nil {
		r.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return "", err
	}

	if err := r.store.SetJiraToken(ctx, tokens.AccessToken); err != nil {
		r.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("save jira token: %w", err)
	}
	if tokens.RefreshToken != "" {
		if err := r.store.SetJiraRefreshToken(ctx, tokens.RefreshToken); err != nil {
			r.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
			return "", fmt.Errorf("save jira refresh token: %w", err)
		}
	}

	r.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	r.logger.Info("Jira access token refreshed", "rotated_refresh_token", tokens.RefreshToken != "")
	return tokens.AccessToken, nil
}
