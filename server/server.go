// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jira-mention-notifier/link"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Relay interface for scheduling comment pipelines.
type Relay interface {
	Trigger(issueID, commentID string) string
}

// Linker interface for the OAuth completions and slash-command operations.
type Linker interface {
	CompleteChatInstall(ctx context.Context, code string) (*link.InstallResult, error)
	CompleteTrackerSetup(ctx context.Context, code string) (*link.SetupResult, error)
	CompleteLink(ctx context.Context, code, state string) (*link.LinkResult, error)
	Subscribe(ctx context.Context, slackUserID string) (*link.SubscribeResult, error)
	Unlink(ctx context.Context, slackUserID string) (bool, error)
	URLs() *link.URLs
}

// Server handles HTTP requests.
type Server struct {
	relay    Relay
	linker   Linker
	gatherer prometheus.Gatherer
	limiter  *userLimiter
	logger   *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Relay    Relay
	Linker   Linker
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	// Slash commands allowed per Slack user: a burst, refilled at one per RateInterval.
	RateBurst    int
	RateInterval time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}
	interval := cfg.RateInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		relay:    cfg.Relay,
		linker:   cfg.Linker,
		gatherer: gatherer,
		limiter:  newUserLimiter(interval, burst),
		logger:   cfg.Logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /oauth", s.handleSlackOAuth)
	mux.HandleFunc("POST /oauth", s.handleSlackOAuthPost)
	mux.HandleFunc("GET /jira/oauth", s.handleJiraOAuth)

	mux.HandleFunc("POST /sub", s.handleSubscribe)
	mux.HandleFunc("POST /unsub", s.handleUnsubscribe)
	mux.HandleFunc("DELETE /unsub", s.handleUnsubscribe)

	mux.HandleFunc("POST /{project}/{issue}/{comment}", s.handleWebhook)
	return mux
}

// HTTPServer wraps Handler with the listener timeouts.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	setPageHeaders(w)
	data := map[string]string{
		"InstallURL": s.linker.URLs().SlackInstall(),
	}
	if err := templates.ExecuteTemplate(w, "index.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "index.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("issue")
	commentID := r.PathValue("comment")

	jobID := s.relay.Trigger(issueID, commentID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"accepted","job_id":%q}`, jobID); err != nil {
		s.logger.Warn("Failed to write webhook response", "error", err)
	}
}

// page is the data for message.tmpl.
type page struct {
	Title    string
	Message  string
	LinkURL  string
	LinkText string
}

func (s *Server) renderPage(w http.ResponseWriter, status int, p page) {
	setPageHeaders(w)
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, "message.tmpl", p); err != nil {
		s.logger.Error("Failed to render template", "template", "message.tmpl", "error", err)
	}
}

func setPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' https://platform.slack-edge.com")
}

func writeText(w http.ResponseWriter, text string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := fmt.Fprint(w, text)
	return err
}

func (s *Server) oauthFailed(w http.ResponseWriter, flow string, err error) {
	if errors.Is(err, link.ErrInvalidState) {
		s.logger.Warn("Rejected OAuth state", "flow", flow, "error", err)
		s.renderPage(w, http.StatusBadRequest, page{
			Title:   "Link expired",
			Message: "This authorization link is invalid or has expired. Run /sub in Slack to get a new one.",
		})
		return
	}
	s.logger.Error("OAuth flow failed", "flow", flow, "error", err)
	s.renderPage(w, http.StatusBadGateway, page{
		Title:   "Authorization failed",
		Message: "Something went wrong while talking to the other side. Please try again.",
	})
}
