// Package jira talks to the Jira Cloud REST and OAuth APIs and keeps the workspace access token fresh.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"jira-mention-notifier/pkg/notifier"
)

const (
	// DefaultAPIBaseURL is the Atlassian API gateway.
	DefaultAPIBaseURL = "https://api.atlassian.com"
	// DefaultAuthBaseURL is the Atlassian OAuth 2.0 (3LO) authorization server.
	DefaultAuthBaseURL = "https://auth.atlassian.com"

	maxResponseBytes = 1 << 20
)

// Config holds client configuration.
type Config struct {
	HTTPClient   *http.Client
	Logger       *slog.Logger
	APIBaseURL   string
	AuthBaseURL  string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client performs single Jira API calls. It never refreshes tokens on its own; see Refresher.
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	apiBaseURL   string
	authBaseURL  string
	clientID     string
	clientSecret string
	redirectURI  string
}

// New creates a new Jira client.
func New(cfg *Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}
	authBase := cfg.AuthBaseURL
	if authBase == "" {
		authBase = DefaultAuthBaseURL
	}
	return &Client{
		httpClient:   httpClient,
		logger:       cfg.Logger,
		apiBaseURL:   strings.TrimSuffix(apiBase, "/"),
		authBaseURL:  strings.TrimSuffix(authBase, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
	}
}

// Tokens is the token endpoint response. RefreshToken is empty when the server did not rotate it.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Resource is a Jira site the token can access.
type Resource struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Account is the authenticated Atlassian user.
type Account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// Comment fetches a single issue comment.
// A rejected token is reported as *TokenInvalidError, any other non-2xx as *UpstreamError.
func (c *Client) Comment(ctx context.Context, cloudID, accessToken, issueID, commentID string) (*notifier.Comment, error) {
	endpoint := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/issue/%s/comment/%s",
		c.apiBaseURL, url.PathEscape(cloudID), url.PathEscape(issueID), url.PathEscape(commentID))

	status, body, err := c.get(ctx, endpoint, accessToken)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if signalsTokenInvalid(body) {
			return nil, &TokenInvalidError{Status: status, Body: string(body)}
		}
		return nil, &UpstreamError{Status: status, Body: string(body)}
	}

	var comment notifier.Comment
	if err := json.Unmarshal(body, &comment); err != nil {
		return nil, fmt.Errorf("decode comment: %w", err)
	}
	return &comment, nil
}

// AccessibleResources lists the Jira sites authorized for the token.
func (c *Client) AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error) {
	var resources []Resource
	if err := c.getJSON(ctx, c.apiBaseURL+"/oauth/token/accessible-resources", accessToken, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context, accessToken string) (*Account, error) {
	var account Account
	if err := c.getJSON(ctx, c.apiBaseURL+"/me", accessToken, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ExchangeCode trades an OAuth authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	return c.exchange(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"redirect_uri":  c.redirectURI,
	})
}

// Refresh trades a refresh token for a new access token (and possibly a rotated refresh token).
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	return c.exchange(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
	})
}

// exchange posts to the token endpoint. Transport errors and 5xx are retried; a 4xx is an AuthError.
func (c *Client) exchange(ctx context.Context, payload map[string]string) (*Tokens, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	grant := payload["grant_type"]

	var tokens Tokens
	var rejected error
	err = retry.Do(
		func() error {
			c.logger.Info("Jira token request starting", "method", "POST", "endpoint", "oauth/token", "grant_type", grant)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+"/oauth/token", bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				c.logger.Warn("Jira token request failed, will retry", "duration_ms", duration.Milliseconds(), "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			if resp.StatusCode >= 500 {
				c.logger.Warn("Jira token endpoint returned server error, will retry", "status_code", resp.StatusCode)
				return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
			}
			if resp.StatusCode >= 300 {
				rejected = &AuthError{Status: resp.StatusCode, Body: string(body), Reason: grant + " grant rejected"}
				return retry.Unrecoverable(rejected)
			}

			if err := json.Unmarshal(body, &tokens); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode token response: %w", err))
			}
			if tokens.AccessToken == "" {
				rejected = &AuthError{Status: resp.StatusCode, Body: string(body), Reason: "token response without access_token"}
				return retry.Unrecoverable(rejected)
			}

			c.logger.Info("Jira token request completed",
				"grant_type", grant,
				"duration_ms", duration.Milliseconds(),
				"rotated_refresh_token", tokens.RefreshToken != "")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Jira token request after error", "attempt", n, "error", err)
		}),
	)
	if rejected != nil {
		return nil, rejected
	}
	if err != nil {
		return nil, fmt.Errorf("token exchange after retries: %w", err)
	}
	return &tokens, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string, out any) error {
	status, body, err := c.get(ctx, endpoint, accessToken)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &UpstreamError{Status: status, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, accessToken string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("Jira API request completed",
		"path", req.URL.Path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(startTime).Milliseconds())
	return resp.StatusCode, body, nil
}
