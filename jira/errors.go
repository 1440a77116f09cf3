package jira

import (
	"encoding/json"
	"errors"
	"fmt"
)

// tokenInvalidCode is the error code Jira puts in the response body for expired or revoked tokens.
const tokenInvalidCode = 401

// TokenInvalidError indicates Jira rejected the access token used for a request.
type TokenInvalidError struct {
	Status int
	Body   string
}

func (e *TokenInvalidError) Error() string {
	return fmt.Sprintf("jira rejected access token (HTTP %d): %s", e.Status, e.Body)
}

// IsTokenInvalid checks if an error is a rejected access token.
func IsTokenInvalid(err error) bool {
	var invalid *TokenInvalidError
	return errors.As(err, &invalid)
}

// AuthError indicates Jira credentials are unusable: the refresh exchange was rejected, no refresh
// token is stored, or the refreshed token was rejected again. Not retried further.
type AuthError struct {
	Status int
	Body   string
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return "jira authentication failed: " + e.Reason
	}
	return fmt.Sprintf("jira authentication failed: %s (HTTP %d): %s", e.Reason, e.Status, e.Body)
}

// IsAuthFailure checks if an error is an unrecoverable Jira authentication failure.
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// UpstreamError is any other non-2xx response from Jira.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("jira API returned HTTP %d: %s", e.Status, e.Body)
}

// IsUpstreamFailure checks if an error is a non-auth Jira API failure.
func IsUpstreamFailure(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}

// signalsTokenInvalid inspects the parsed error body rather than the HTTP status alone.
func signalsTokenInvalid(body []byte) bool {
	var payload struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Code == tokenInvalidCode
}
