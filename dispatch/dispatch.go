// Package dispatch fans a rendered comment out to the Slack users linked to the mentioned Jira accounts.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"jira-mention-notifier/metrics"
	"jira-mention-notifier/pkg/notifier"
	"jira-mention-notifier/slack"
)

// Store interface for link and credential lookups.
type Store interface {
	SlackToken(ctx context.Context) (string, error)
	JiraInstance(ctx context.Context) (cloudID, siteURL string, err error)
	Link(ctx context.Context, jiraAccountID string) (*notifier.LinkRecord, error)
}

// Notification is one rendered comment ready for delivery.
type Notification struct {
	Author   string
	IssueID  string
	Text     string
	Mentions []string // Jira account ids, in encounter order
}

// Dispatcher sends one Slack message per linked mention.
type Dispatcher struct {
	store   Store
	poster  slack.Poster
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a new dispatcher.
func New(store Store, poster slack.Poster, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		poster:  poster,
		logger:  logger,
		metrics: m,
	}
}

// Dispatch delivers n to every mentioned account that has a linked Slack user.
// Unlinked accounts are skipped silently. The first delivery failure aborts the remaining mentions
// and is returned as *slack.DeliveryError.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	if len(n.Mentions) == 0 {
		return nil
	}

	token, err := d.store.SlackToken(ctx)
	if err != nil {
		return fmt.Errorf("load slack token: %w", err)
	}
	_, siteURL, err := d.store.JiraInstance(ctx)
	if err != nil {
		return fmt.Errorf("load jira instance: %w", err)
	}
	header := Header(n.Author, siteURL, n.IssueID)

	var sent int
	for _, accountID := range n.Mentions {
		link, err := d.store.Link(ctx, accountID)
		if notifier.IsNotFound(err) {
			d.metrics.MentionsSkipped.Inc()
			d.logger.Debug("Mentioned account has no linked Slack user", "jira_account_id", accountID, "issue_id", n.IssueID)
			continue
		}
		if err != nil {
			return fmt.Errorf("look up link for %s: %w", accountID, err)
		}

		msg := &slack.Message{
			Channel:     link.SlackUserID,
			Text:        header,
			Attachments: []slack.Attachment{{Text: n.Text}},
		}
		if err := d.poster.PostMessage(ctx, token, msg); err != nil {
			return fmt.Errorf("notify %s: %w", link.SlackUserID, err)
		}
		sent++
		d.metrics.NotificationsSent.Inc()
	}

	d.logger.Info("Mentions dispatched",
		"issue_id", n.IssueID,
		"mentions", len(n.Mentions),
		"sent", sent)
	return nil
}

// Header is the message line linking back to the issue, in Slack mrkdwn.
func Header(author, siteURL, issueID string) string {
	issueURL := strings.TrimSuffix(siteURL, "/") + "/browse/" + issueID
	return fmt.Sprintf("%s mentioned you in <%s|*%s*>.", author, issueURL, issueID)
}
