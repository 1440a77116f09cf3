// Package relay runs the fetch, render and dispatch pipeline for each accepted comment webhook.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jira-mention-notifier/adf"
	"jira-mention-notifier/dispatch"
	"jira-mention-notifier/metrics"
	"jira-mention-notifier/pkg/notifier"
)

// Defaults for Config fields left at zero.
const (
	DefaultWorkers = 8
	DefaultTimeout = 60 * time.Second
)

// CommentFetcher interface for loading a comment from Jira.
type CommentFetcher interface {
	FetchComment(ctx context.Context, issueID, commentID string) (*notifier.Comment, error)
}

// Dispatcher interface for delivering a rendered comment.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *dispatch.Notification) error
}

// Job identifies one webhook being processed.
type Job struct {
	ID        string
	IssueID   string
	CommentID string
	Accepted  time.Time
}

// PanicError wraps a value recovered from a pipeline goroutine.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pipeline panic: %v", e.Value)
}

// Config holds relay configuration.
type Config struct {
	Workers int           // max pipelines running at once
	Timeout time.Duration // per pipeline
}

// Relay schedules pipelines in the background. Completion is only observable through the Reporter,
// logs and metrics.
type Relay struct {
	fetcher    CommentFetcher
	dispatcher Dispatcher
	reporter   Reporter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	slots      chan struct{}
	wg         sync.WaitGroup
}

// New creates a relay.
func New(cfg *Config, fetcher CommentFetcher, dispatcher Dispatcher, reporter Reporter, logger *slog.Logger, m *metrics.Metrics) *Relay {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Relay{
		fetcher:    fetcher,
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger,
		metrics:    m,
		timeout:    timeout,
		slots:      make(chan struct{}, workers),
	}
}

// Trigger schedules the pipeline for one comment and returns its job id without waiting.
func (r *Relay) Trigger(issueID, commentID string) string {
	job := Job{
		ID:        uuid.NewString(),
		IssueID:   issueID,
		CommentID: commentID,
		Accepted:  time.Now(),
	}
	r.metrics.WebhooksReceived.Inc()
	r.logger.Info("Webhook accepted", "job_id", job.ID, "issue_id", issueID, "comment_id", commentID)

	r.wg.Add(1)
	go r.run(job)
	return job.ID
}

func (r *Relay) run(job Job) {
	defer r.wg.Done()

	r.slots <- struct{}{}
	defer func() { <-r.slots }()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	defer func() {
		if v := recover(); v != nil {
			r.reporter.Report(ctx, job, &PanicError{Value: v})
		}
		r.metrics.PipelineDuration.Observe(time.Since(job.Accepted).Seconds())
	}()

	if err := r.Process(ctx, job.IssueID, job.CommentID); err != nil {
		r.reporter.Report(ctx, job, err)
		return
	}
	r.logger.Info("Pipeline completed",
		"job_id", job.ID,
		"issue_id", job.IssueID,
		"duration_ms", time.Since(job.Accepted).Milliseconds())
}

// Process fetches the comment, renders it, and notifies every linked mention. It runs synchronously.
func (r *Relay) Process(ctx context.Context, issueID, commentID string) error {
	comment, err := r.fetcher.FetchComment(ctx, issueID, commentID)
	if err != nil {
		return fmt.Errorf("fetch comment %s/%s: %w", issueID, commentID, err)
	}

	mentions := adf.ExtractMentions(comment.Body)
	if len(mentions) == 0 {
		r.logger.Debug("Comment has no mentions", "issue_id", issueID, "comment_id", commentID)
		return nil
	}

	n := &dispatch.Notification{
		Author:   comment.Author.DisplayName,
		IssueID:  issueID,
		Text:     adf.Render(comment.Body),
		Mentions: mentions,
	}
	if err := r.dispatcher.Dispatch(ctx, n); err != nil {
		return fmt.Errorf("dispatch %s/%s: %w", issueID, commentID, err)
	}
	return nil
}

// Wait blocks until every scheduled pipeline has finished or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
