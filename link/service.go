// Package link completes the Slack and Jira OAuth flows and maintains the Jira to Slack link table.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jira-mention-notifier/jira"
	"jira-mention-notifier/pkg/notifier"
	"jira-mention-notifier/slack"
)

// Store interface for the credentials and links this service writes.
type Store interface {
	SlackToken(ctx context.Context) (string, error)
	SetSlackToken(ctx context.Context, token string) error
	SetJiraToken(ctx context.Context, token string) error
	SetJiraRefreshToken(ctx context.Context, token string) error
	JiraInstance(ctx context.Context) (cloudID, siteURL string, err error)
	SetJiraInstance(ctx context.Context, cloudID, siteURL string) error
	JiraIDBySlackID(ctx context.Context, slackUserID string) (string, error)
	SaveLink(ctx context.Context, rec *notifier.LinkRecord) error
	RemoveLink(ctx context.Context, slackUserID string) (bool, error)
}

// Installer interface for the Slack app installation exchange.
type Installer interface {
	Access(ctx context.Context, code string) (*slack.Installation, error)
}

// Tracker interface for the Jira OAuth calls.
type Tracker interface {
	ExchangeCode(ctx context.Context, code string) (*jira.Tokens, error)
	AccessibleResources(ctx context.Context, accessToken string) ([]jira.Resource, error)
	Me(ctx context.Context, accessToken string) (*jira.Account, error)
}

// Service runs the OAuth completions and slash-command link operations.
type Service struct {
	store     Store
	installer Installer
	tracker   Tracker
	signer    *StateSigner
	urls      *URLs
	logger    *slog.Logger
}

// New creates a linking service.
func New(store Store, installer Installer, tracker Tracker, signer *StateSigner, urls *URLs, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		installer: installer,
		tracker:   tracker,
		signer:    signer,
		urls:      urls,
		logger:    logger,
	}
}

// URLs returns the authorization link builder.
func (s *Service) URLs() *URLs {
	return s.urls
}

// InstallResult describes the workspace after the Slack app was installed.
type InstallResult struct {
	TeamName string
	JiraURL  string // empty until Jira is set up
	SetupURL string // Jira authorization link, set when Jira is not set up yet
}

// CompleteChatInstall exchanges the Slack code and stores the bot token.
func (s *Service) CompleteChatInstall(ctx context.Context, code string) (*InstallResult, error) {
	inst, err := s.installer.Access(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("slack oauth: %w", err)
	}
	if err := s.store.SetSlackToken(ctx, inst.AccessToken); err != nil {
		return nil, fmt.Errorf("store slack token: %w", err)
	}

	res := &InstallResult{TeamName: inst.TeamName}
	_, siteURL, err := s.store.JiraInstance(ctx)
	switch {
	case err == nil:
		res.JiraURL = siteURL
	case notifier.IsNotFound(err):
		res.SetupURL = s.urls.JiraSetup()
	default:
		return nil, fmt.Errorf("load jira instance: %w", err)
	}
	return res, nil
}

// SetupResult describes the workspace after Jira was authorized.
type SetupResult struct {
	SiteURL    string
	InstallURL string // "Add to Slack" link, set when the Slack app is not installed yet
}

// CompleteTrackerSetup exchanges the workspace-level Jira code and stores tokens and the site.
func (s *Service) CompleteTrackerSetup(ctx context.Context, code string) (*SetupResult, error) {
	tokens, err := s.tracker.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("jira oauth: %w", err)
	}

	resources, err := s.tracker.AccessibleResources(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("list jira sites: %w", err)
	}
	if len(resources) == 0 {
		return nil, errors.New("authorization grants access to no Jira site")
	}
	site := resources[0]

	if err := s.store.SetJiraToken(ctx, tokens.AccessToken); err != nil {
		return nil, fmt.Errorf("store jira token: %w", err)
	}
	if tokens.RefreshToken != "" {
		if err := s.store.SetJiraRefreshToken(ctx, tokens.RefreshToken); err != nil {
			return nil, fmt.Errorf("store jira refresh token: %w", err)
		}
	} else {
		s.logger.Warn("Jira authorization returned no refresh token; offline_access scope missing?")
	}
	if err := s.store.SetJiraInstance(ctx, site.ID, site.URL); err != nil {
		return nil, fmt.Errorf("store jira instance: %w", err)
	}
	s.logger.Info("Jira workspace connected", "cloud_id", site.ID, "site_url", site.URL, "site_name", site.Name)

	res := &SetupResult{SiteURL: site.URL}
	_, err = s.store.SlackToken(ctx)
	switch {
	case notifier.IsNotFound(err):
		res.InstallURL = s.urls.SlackInstall()
	case err != nil:
		return nil, fmt.Errorf("load slack token: %w", err)
	}
	return res, nil
}

// LinkResult is a freshly stored link.
type LinkResult struct {
	notifier.LinkRecord
	Name string
}

// CompleteLink verifies state, resolves the authorizing Jira account, and links it to the Slack
// user carried in state. The user's Jira token is discarded.
func (s *Service) CompleteLink(ctx context.Context, code, state string) (*LinkResult, error) {
	slackUserID, err := s.signer.Verify(state)
	if err != nil {
		return nil, err
	}

	tokens, err := s.tracker.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("jira oauth: %w", err)
	}
	account, err := s.tracker.Me(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("load jira account: %w", err)
	}

	rec := notifier.LinkRecord{JiraAccountID: account.AccountID, SlackUserID: slackUserID}
	if err := s.store.SaveLink(ctx, &rec); err != nil {
		return nil, err
	}
	return &LinkResult{LinkRecord: rec, Name: account.Name}, nil
}

// SubscribeResult answers the subscribe slash command.
type SubscribeResult struct {
	AlreadyLinked bool
	AuthorizeURL  string
}

// Subscribe returns an authorization link for slackUserID unless the user is already linked.
func (s *Service) Subscribe(ctx context.Context, slackUserID string) (*SubscribeResult, error) {
	_, err := s.store.JiraIDBySlackID(ctx, slackUserID)
	if err == nil {
		return &SubscribeResult{AlreadyLinked: true}, nil
	}
	if !notifier.IsNotFound(err) {
		return nil, fmt.Errorf("look up link: %w", err)
	}

	state, err := s.signer.Sign(slackUserID)
	if err != nil {
		return nil, fmt.Errorf("sign state: %w", err)
	}
	return &SubscribeResult{AuthorizeURL: s.urls.JiraSubscribe(state)}, nil
}

// Unlink removes the link pair for slackUserID and reports whether one existed.
func (s *Service) Unlink(ctx context.Context, slackUserID string) (bool, error) {
	return s.store.RemoveLink(ctx, slackUserID)
}
