package link

import (
	"net/url"
	"strings"
)

// Default authorization endpoints.
const (
	DefaultJiraAuthorizeURL  = "https://auth.atlassian.com/authorize"
	DefaultSlackAuthorizeURL = "https://slack.com/oauth/v2/authorize"
)

// OAuth scopes requested by each flow.
const (
	jiraSetupScope     = "read:jira-work offline_access"
	jiraSubscribeScope = "read:me"
	slackInstallScope  = "im:read,im:write,chat:write,commands"
)

// URLs builds the authorization links the service hands to users.
type URLs struct {
	JiraAuthorizeURL  string
	SlackAuthorizeURL string
	JiraClientID      string
	SlackClientID     string
	JiraRedirectURI   string
	SlackRedirectURI  string
}

// JiraSetup is the workspace-level Jira authorization link. It requests a refresh token.
func (u *URLs) JiraSetup() string {
	return u.jira(jiraSetupScope, "")
}

// JiraSubscribe is the per-user Jira authorization link; state carries the signed Slack user id.
func (u *URLs) JiraSubscribe(state string) string {
	return u.jira(jiraSubscribeScope, state)
}

func (u *URLs) jira(scope, state string) string {
	q := url.Values{
		"audience":      {"api.atlassian.com"},
		"client_id":     {u.JiraClientID},
		"scope":         {scope},
		"redirect_uri":  {u.JiraRedirectURI},
		"response_type": {"code"},
		"prompt":        {"consent"},
	}
	if state != "" {
		q.Set("state", state)
	}
	return orDefault(u.JiraAuthorizeURL, DefaultJiraAuthorizeURL) + "?" + q.Encode()
}

// SlackInstall is the "Add to Slack" link.
func (u *URLs) SlackInstall() string {
	q := url.Values{
		"client_id": {u.SlackClientID},
		"scope":     {slackInstallScope},
	}
	if u.SlackRedirectURI != "" {
		q.Set("redirect_uri", u.SlackRedirectURI)
	}
	return orDefault(u.SlackAuthorizeURL, DefaultSlackAuthorizeURL) + "?" + q.Encode()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimSuffix(v, "/")
}
