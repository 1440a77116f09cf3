// Package main runs a service that relays Jira comment mentions to Slack direct messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jira-mention-notifier/config"
	"jira-mention-notifier/dispatch"
	"jira-mention-notifier/jira"
	"jira-mention-notifier/link"
	"jira-mention-notifier/metrics"
	"jira-mention-notifier/relay"
	"jira-mention-notifier/server"
	"jira-mention-notifier/slack"
	"jira-mention-notifier/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "jira-mention-notifier",
		Short:        "Notify Slack users when they are mentioned in Jira comments",
		SilenceUsage: true,
		PreRunE: func(*cobra.Command, []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("port", defaults.GetString("http.port"), "HTTP listen port")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Credential store (redis, sqlite, bucket)")
	cmd.PersistentFlags().Int("workers", defaults.GetInt("relay.workers"), "Max concurrently processed webhooks")
	cmd.PersistentFlags().Bool("dry-run", false, "Log Slack messages instead of sending them")

	bindFlag(cmd, "http.port", "port")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "relay.workers", "workers")
	bindFlag(cmd, "slack.dry_run", "dry-run")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := storage.Open(ctx, &cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	jiraClient := jira.New(&jira.Config{
		HTTPClient:   httpClient,
		Logger:       logger,
		ClientID:     cfg.JiraClientID,
		ClientSecret: cfg.JiraClientSecret,
		RedirectURI:  cfg.JiraRedirectURI(),
	})
	slackClient := slack.New(&slack.Config{
		HTTPClient:   httpClient,
		Logger:       logger,
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURI:  cfg.SlackRedirectURI(),
	})

	var poster slack.Poster = slackClient
	if cfg.SlackDryRun {
		logger.Info("Dry-run mode: Slack messages are logged, not sent")
		poster = slack.NewLogPoster(logger)
	}

	refresher := jira.NewRefresher(jiraClient, store, logger, m)
	dispatcher := dispatch.New(store, poster, logger, m)
	pipelines := relay.New(
		&relay.Config{Workers: cfg.RelayWorkers, Timeout: cfg.RelayTimeout},
		refresher,
		dispatcher,
		relay.NewLogReporter(logger, m),
		logger,
		m,
	)

	linker := link.New(
		store,
		slackClient,
		jiraClient,
		link.NewStateSigner([]byte(cfg.StateSecret), cfg.StateTTL, nil),
		&link.URLs{
			JiraClientID:     cfg.JiraClientID,
			SlackClientID:    cfg.SlackClientID,
			JiraRedirectURI:  cfg.JiraRedirectURI(),
			SlackRedirectURI: cfg.SlackRedirectURI(),
		},
		logger,
	)

	srv := server.New(&server.Config{
		Relay:        pipelines,
		Linker:       linker,
		Gatherer:     reg,
		Logger:       logger,
		RateBurst:    cfg.RateBurst,
		RateInterval: cfg.RateInterval,
	})
	httpServer := srv.HTTPServer(cfg.Port)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			"port", cfg.Port,
			"storage_backend", cfg.Storage.Backend,
			"workers", cfg.RelayWorkers)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down", "grace", cfg.ShutdownGrace().String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if err := pipelines.Wait(shutdownCtx); err != nil {
		logger.Warn("Abandoning in-flight pipelines", "error", err)
	}
	return nil
}
