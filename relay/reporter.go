package relay

import (
	"context"
	"errors"
	"log/slog"

	"jira-mention-notifier/jira"
	"jira-mention-notifier/metrics"
	"jira-mention-notifier/slack"
)

// Reporter receives every pipeline failure. Reporting never feeds back into the pipeline.
type Reporter interface {
	Report(ctx context.Context, job Job, err error)
}

// LogReporter logs failures and counts them by kind.
type LogReporter struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLogReporter creates the default reporter.
func NewLogReporter(logger *slog.Logger, m *metrics.Metrics) *LogReporter {
	return &LogReporter{
		logger:  logger,
		metrics: m,
	}
}

// Report logs err at Error level and increments the failure counter.
func (r *LogReporter) Report(_ context.Context, job Job, err error) {
	kind := Classify(err)
	r.metrics.PipelineFailures.WithLabelValues(kind).Inc()
	r.logger.Error("Pipeline failed",
		"job_id", job.ID,
		"issue_id", job.IssueID,
		"comment_id", job.CommentID,
		"kind", kind,
		"error", err)
}

// Classify maps a pipeline error to its failure kind label.
func Classify(err error) string {
	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
		return metrics.KindPanic
	case jira.IsAuthFailure(err):
		return metrics.KindAuth
	case jira.IsUpstreamFailure(err):
		return metrics.KindUpstream
	case slack.IsDeliveryFailure(err):
		return metrics.KindDelivery
	default:
		return metrics.KindOther
	}
}
