// Package metrics defines the Prometheus collectors for the notification pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure kinds used as the "kind" label of PipelineFailures.
const (
	KindAuth     = "auth"
	KindUpstream = "upstream"
	KindDelivery = "delivery"
	KindPanic    = "panic"
	KindOther    = "other"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	WebhooksReceived  prometheus.Counter
	NotificationsSent prometheus.Counter
	MentionsSkipped   prometheus.Counter
	TokenRefreshes    *prometheus.CounterVec // result: success, failure, reused
	PipelineFailures  *prometheus.CounterVec // kind: auth, upstream, delivery, panic, other
	PipelineDuration  prometheus.Histogram
}

// New registers the pipeline collectors with reg.
// Tests pass a fresh prometheus.NewRegistry() so collectors never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifier_webhooks_received_total",
			Help: "Total number of comment webhooks accepted",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifier_notifications_sent_total",
			Help: "Total number of Slack messages delivered",
		}),
		MentionsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifier_mentions_unlinked_total",
			Help: "Mentions of Jira users without a linked Slack account",
		}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_jira_token_refreshes_total",
			Help: "Jira access token refresh attempts by result",
		}, []string{"result"}),
		PipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_pipeline_failures_total",
			Help: "Failed webhook pipelines by failure kind",
		}, []string{"kind"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifier_pipeline_duration_seconds",
			Help:    "Time from webhook acceptance to pipeline completion",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}
