package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"jira-mention-notifier/dispatch"
	"jira-mention-notifier/jira"
	"jira-mention-notifier/metrics"
	"jira-mention-notifier/pkg/notifier"
	"jira-mention-notifier/slack"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mentionComment(ids ...string) *notifier.Comment {
	var inline []notifier.Node
	for _, id := range ids {
		inline = append(inline,
			notifier.Node{Type: "mention", Attrs: map[string]any{"id": id, "text": "@" + id}},
			notifier.Node{Type: "text", Text: " "})
	}
	inline = append(inline, notifier.Node{Type: "text", Text: "please look"})
	return &notifier.Comment{
		ID:     "10001",
		Author: notifier.Author{AccountID: "author-1", DisplayName: "Mia Krystof"},
		Body: notifier.Node{Type: "doc", Content: []notifier.Node{
			{Type: "paragraph", Content: inline},
		}},
	}
}

type fetcherFunc func(ctx context.Context, issueID, commentID string) (*notifier.Comment, error)

func (f fetcherFunc) FetchComment(ctx context.Context, issueID, commentID string) (*notifier.Comment, error) {
	return f(ctx, issueID, commentID)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []*dispatch.Notification
	fail error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n *dispatch.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, n)
	return d.fail
}

func (d *recordingDispatcher) calls() []*dispatch.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*dispatch.Notification(nil), d.got...)
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
	jobs []Job
}

func (r *recordingReporter) Report(_ context.Context, job Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) reported() ([]Job, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.jobs...), append([]error(nil), r.errs...)
}

func newRelay(cfg *Config, f CommentFetcher, d Dispatcher, rep Reporter) (*Relay, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return New(cfg, f, d, rep, discardLogger(), m), m
}

func waitAll(t *testing.T, r *Relay) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestProcess(t *testing.T) {
	fetch := fetcherFunc(func(_ context.Context, issueID, commentID string) (*notifier.Comment, error) {
		if issueID != "ABC-1" || commentID != "10001" {
			t.Errorf("FetchComment(%s, %s)", issueID, commentID)
		}
		return mentionComment("acc-1", "acc-2", "acc-1"), nil
	})
	d := &recordingDispatcher{}
	r, _ := newRelay(&Config{}, fetch, d, &recordingReporter{})

	if err := r.Process(context.Background(), "ABC-1", "10001"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	calls := d.calls()
	if len(calls) != 1 {
		t.Fatalf("Dispatch called %d times, want 1", len(calls))
	}
	n := calls[0]
	if n.Author != "Mia Krystof" || n.IssueID != "ABC-1" {
		t.Errorf("notification = %+v", n)
	}
	if len(n.Mentions) != 2 || n.Mentions[0] != "acc-1" || n.Mentions[1] != "acc-2" {
		t.Errorf("mentions = %v, want [acc-1 acc-2]", n.Mentions)
	}
	if want := "@acc-1 @acc-2 @acc-1 please look"; n.Text != want {
		t.Errorf("text = %q, want %q", n.Text, want)
	}
}

func TestProcessWithoutMentionsSkipsDispatch(t *testing.T) {
	fetch := fetcherFunc(func(context.Context, string, string) (*notifier.Comment, error) {
		return mentionComment(), nil
	})
	d := &recordingDispatcher{}
	r, _ := newRelay(&Config{}, fetch, d, &recordingReporter{})

	if err := r.Process(context.Background(), "ABC-1", "10001"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n := len(d.calls()); n != 0 {
		t.Errorf("Dispatch called %d times, want 0", n)
	}
}

func TestTriggerReportsFailures(t *testing.T) {
	fetch := fetcherFunc(func(context.Context, string, string) (*notifier.Comment, error) {
		return nil, &jira.UpstreamError{Status: 404, Body: "Issue does not exist"}
	})
	rep := &recordingReporter{}
	r, m := newRelay(&Config{}, fetch, &recordingDispatcher{}, rep)

	id := r.Trigger("ABC-1", "10001")
	if id == "" {
		t.Fatal("Trigger() returned empty job id")
	}
	waitAll(t, r)

	jobs, errs := rep.reported()
	if len(errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(errs))
	}
	if !jira.IsUpstreamFailure(errs[0]) {
		t.Errorf("reported error = %v, want UpstreamError", errs[0])
	}
	if jobs[0].ID != id || jobs[0].IssueID != "ABC-1" || jobs[0].CommentID != "10001" {
		t.Errorf("job = %+v", jobs[0])
	}
	if got := testutil.ToFloat64(m.WebhooksReceived); got != 1 {
		t.Errorf("webhooks received = %v, want 1", got)
	}
}

func TestTriggerRecoversPanics(t *testing.T) {
	fetch := fetcherFunc(func(context.Context, string, string) (*notifier.Comment, error) {
		panic("nil map write")
	})
	rep := &recordingReporter{}
	r, _ := newRelay(&Config{}, fetch, &recordingDispatcher{}, rep)

	r.Trigger("ABC-1", "10001")
	waitAll(t, r)

	_, errs := rep.reported()
	if len(errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(errs))
	}
	var panicErr *PanicError
	if !errors.As(errs[0], &panicErr) || panicErr.Value != "nil map write" {
		t.Errorf("reported error = %v, want PanicError", errs[0])
	}
}

func TestTriggerBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	fetch := fetcherFunc(func(context.Context, string, string) (*notifier.Comment, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return mentionComment(), nil
	})
	r, _ := newRelay(&Config{Workers: 2}, fetch, &recordingDispatcher{}, &recordingReporter{})

	for range 6 {
		r.Trigger("ABC-1", "10001")
	}
	// Let the first two occupy their slots before releasing.
	deadline := time.Now().Add(2 * time.Second)
	for running.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	waitAll(t, r)

	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}
}

func TestTriggerAppliesTimeout(t *testing.T) {
	fetch := fetcherFunc(func(ctx context.Context, _, _ string) (*notifier.Comment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rep := &recordingReporter{}
	r, _ := newRelay(&Config{Timeout: 20 * time.Millisecond}, fetch, &recordingDispatcher{}, rep)

	r.Trigger("ABC-1", "10001")
	waitAll(t, r)

	_, errs := rep.reported()
	if len(errs) != 1 || !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Errorf("reported = %v, want deadline exceeded", errs)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "auth", err: &jira.AuthError{Status: 401, Reason: "refreshed token rejected"}, want: metrics.KindAuth},
		{name: "upstream", err: &jira.UpstreamError{Status: 500}, want: metrics.KindUpstream},
		{name: "delivery", err: &slack.DeliveryError{Channel: "U1", Status: 500}, want: metrics.KindDelivery},
		{name: "panic", err: &PanicError{Value: "boom"}, want: metrics.KindPanic},
		{name: "other", err: errors.New("connection refused"), want: metrics.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := errors.Join(errors.New("dispatch ABC-1/10001"), tt.err)
			if got := Classify(wrapped); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestLogReporterCountsByKind(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	rep := NewLogReporter(discardLogger(), m)

	rep.Report(context.Background(), Job{ID: "j1"}, &slack.DeliveryError{Channel: "U1", Status: 500})
	rep.Report(context.Background(), Job{ID: "j2"}, &slack.DeliveryError{Channel: "U2", Status: 502})
	rep.Report(context.Background(), Job{ID: "j3"}, &jira.AuthError{Status: 401})

	if got := testutil.ToFloat64(m.PipelineFailures.WithLabelValues(metrics.KindDelivery)); got != 2 {
		t.Errorf("delivery failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PipelineFailures.WithLabelValues(metrics.KindAuth)); got != 1 {
		t.Errorf("auth failures = %v, want 1", got)
	}
}
