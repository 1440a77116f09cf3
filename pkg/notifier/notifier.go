// Package notifier contains the core domain types for the Jira mention notification service.
package notifier

import "errors"

// ErrNotFound is returned (wrapped) by stores when a credential or link record is absent.
var ErrNotFound = errors.New("not found")

// IsNotFound checks if an error indicates a missing credential or link record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Author identifies the Jira user who wrote a comment.
type Author struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// Comment is a Jira issue comment as returned by the REST API.
type Comment struct {
	ID     string `json:"id"`
	Author Author `json:"author"`
	Body   Node   `json:"body"`
}

// Node is one element of an Atlassian Document Format tree.
type Node struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Attr returns a string attribute, or "" when the attribute is missing or not a string.
func (n Node) Attr(key string) string {
	return stringAttr(n.Attrs, key)
}

// Mark decorates a text node (link, strong, em, ...).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Attr returns a string attribute, or "" when the attribute is missing or not a string.
func (m Mark) Attr(key string) string {
	return stringAttr(m.Attrs, key)
}

func stringAttr(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	s, ok := attrs[key].(string)
	if !ok {
		return ""
	}
	return s
}

// LinkRecord maps a Jira account to the Slack user that should receive its mentions.
type LinkRecord struct {
	JiraAccountID string `json:"jira_account_id"`
	SlackUserID   string `json:"slack_id"`
}

// Credentials is the workspace-wide credential set populated by the two OAuth flows.
type Credentials struct {
	SlackToken       string `json:"slack_token,omitempty"`
	JiraToken        string `json:"jira_token,omitempty"`
	JiraRefreshToken string `json:"jira_refresh_token,omitempty"`
	JiraCloudID      string `json:"jira_cloud_id,omitempty"`
	JiraURL          string `json:"jira_url,omitempty"`
}
