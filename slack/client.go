// Package slack sends notification messages and completes the app installation OAuth exchange.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com"

const maxResponseBytes = 1 << 20

// DeliveryError indicates chat.postMessage returned a status >= 300.
type DeliveryError struct {
	Channel string
	Status  int
	Body    string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("slack delivery to %s failed (HTTP %d): %s", e.Channel, e.Status, e.Body)
}

// IsDeliveryFailure checks if an error is a failed Slack delivery.
func IsDeliveryFailure(err error) bool {
	var delivery *DeliveryError
	return errors.As(err, &delivery)
}

// Attachment is a secondary message block.
type Attachment struct {
	Text string `json:"text"`
}

// Message is a chat.postMessage request.
type Message struct {
	Channel     string       `json:"channel"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Poster delivers messages to Slack.
type Poster interface {
	PostMessage(ctx context.Context, token string, msg *Message) error
}

// Config holds client configuration.
type Config struct {
	HTTPClient   *http.Client
	Logger       *slog.Logger
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client calls the Slack Web API.
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	baseURL      string
	clientID     string
	clientSecret string
	redirectURI  string
}

// New creates a new Slack client.
func New(cfg *Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		httpClient:   httpClient,
		logger:       cfg.Logger,
		baseURL:      strings.TrimSuffix(base, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
	}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PostMessage sends msg with a single attempt. A status >= 300 is returned as *DeliveryError.
// Slack reports most API errors as HTTP 200 with ok=false; those are logged but not treated as failures.
func (c *Client) PostMessage(ctx context.Context, token string, msg *Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.logger.Info("Slack API request starting",
		"method", "POST",
		"endpoint", "chat.postMessage",
		"channel", msg.Channel)

	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat.postMessage", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
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

	if resp.StatusCode >= 300 {
		c.logger.Warn("Slack API returned non-2xx status",
			"status_code", resp.StatusCode,
			"channel", msg.Channel,
			"duration_ms", duration.Milliseconds())
		return &DeliveryError{Channel: msg.Channel, Status: resp.StatusCode, Body: string(body)}
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err == nil && !result.OK {
		c.logger.Warn("Slack API accepted request but reported an error",
			"channel", msg.Channel,
			"slack_error", result.Error)
	}

	c.logger.Info("Slack API request completed",
		"endpoint", "chat.postMessage",
		"channel", msg.Channel,
		"duration_ms", duration.Milliseconds())
	return nil
}

// Installation is the outcome of the app installation OAuth exchange.
type Installation struct {
	AccessToken string
	TeamName    string
	UserID      string
}

// Access exchanges an OAuth code for the bot token (oauth.v2.access).
func (c *Client) Access(ctx context.Context, code string) (*Installation, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"redirect_uri":  {c.redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/oauth.v2.access", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth.v2.access: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oauth.v2.access returned HTTP %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		apiResponse
		AccessToken string `json:"access_token"`
		Team        struct {
			Name string `json:"name"`
		} `json:"team"`
		AuthedUser struct {
			ID string `json:"id"`
		} `json:"authed_user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode oauth response: %w", err)
	}
	if !payload.OK || payload.AccessToken == "" {
		return nil, fmt.Errorf("oauth.v2.access rejected: %s", payload.Error)
	}

	c.logger.Info("Slack app installed", "team", payload.Team.Name, "user_id", payload.AuthedUser.ID)
	return &Installation{
		AccessToken: payload.AccessToken,
		TeamName:    payload.Team.Name,
		UserID:      payload.AuthedUser.ID,
	}, nil
}
