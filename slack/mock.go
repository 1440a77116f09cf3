package slack

import (
	"context"
	"log/slog"
)

// LogPoster is a dry-run poster for local development.
type LogPoster struct {
	logger *slog.Logger
}

// NewLogPoster creates a poster that logs messages instead of sending them.
func NewLogPoster(logger *slog.Logger) *LogPoster {
	return &LogPoster{
		logger: logger,
	}
}

// PostMessage logs the message instead of sending it.
func (p *LogPoster) PostMessage(_ context.Context, _ string, msg *Message) error {
	attachmentLength := 0
	for _, a := range msg.Attachments {
		attachmentLength += len(a.Text)
	}
	p.logger.Info("MOCK SLACK MESSAGE",
		"channel", msg.Channel,
		"text", msg.Text,
		"attachment_length", attachmentLength)
	return nil
}
