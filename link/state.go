package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultStateTTL = 15 * time.Minute
	stateIssuer     = "jira-mention-notifier"
	stateAudience   = "jira-link"
)

// ErrInvalidState is returned (wrapped) when an OAuth state parameter fails verification.
var ErrInvalidState = errors.New("invalid oauth state")

var errMissingStateSecret = errors.New("state signing secret must be provided")

// StateSigner issues and verifies the OAuth state that carries a Slack user id through the Jira
// authorization redirect.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewStateSigner creates a signer. A zero ttl uses the default; a nil clock uses time.Now.
func NewStateSigner(secret []byte, ttl time.Duration, clock func() time.Time) *StateSigner {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &StateSigner{secret: secret, ttl: ttl, clock: clock}
}

// Sign returns a state token whose subject is slackUserID.
func (s *StateSigner) Sign(slackUserID string) (string, error) {
	if len(s.secret) == 0 {
		return "", errMissingStateSecret
	}
	if slackUserID == "" {
		return "", errors.New("slack user id must be provided")
	}

	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   slackUserID,
		Issuer:    stateIssuer,
		Audience:  []string{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature, issuer, audience and expiry, and returns the Slack user id.
func (s *StateSigner) Verify(state string) (string, error) {
	if len(s.secret) == 0 {
		return "", errMissingStateSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		state,
		claims,
		func(token *jwt.Token) (any, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithAudience(stateAudience),
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidState)
	}
	return claims.Subject, nil
}
