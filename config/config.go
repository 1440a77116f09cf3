// Package config loads runtime configuration from flags, environment and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"jira-mention-notifier/storage"
)

const (
	envPrefix          = "NOTIFIER"
	defaultPort        = "8080"
	defaultLogLevel    = "info"
	defaultBackend     = storage.BackendRedis
	defaultRedisURL    = "redis://localhost:6379/0"
	defaultSQLitePath  = "notifier.db"
	defaultWorkers     = 8
	defaultTimeout     = 60 * time.Second
	defaultStateTTL    = 15 * time.Minute
	defaultRateBurst   = 5
	defaultRateEvery   = 10 * time.Second
	slackRedirectPath  = "/oauth"
	jiraRedirectPath   = "/jira/oauth"
	shutdownGraceCeil  = 30 * time.Second
	shutdownGraceFloor = 5 * time.Second
)

// legacyEnv maps keys to the unprefixed variable names existing deployments set.
var legacyEnv = map[string]string{
	"http.port":           "PORT",
	"redirect.uri":        "REDIRECT_URI",
	"slack.client_id":     "SLACK_CLIENT_ID",
	"slack.client_secret": "SLACK_CLIENT_SECRET",
	"jira.client_id":      "JIRA_CLIENT_ID",
	"jira.client_secret":  "JIRA_CLIENT_SECRET",
	"storage.redis_url":   "REDIS_URL",
}

// AppConfig captures runtime configuration for the notifier.
type AppConfig struct {
	Port     string
	LogLevel string

	RedirectURI       string
	SlackClientID     string
	SlackClientSecret string
	SlackDryRun       bool
	JiraClientID      string
	JiraClientSecret  string

	StateSecret string
	StateTTL    time.Duration

	Storage storage.Config

	RelayWorkers int
	RelayTimeout time.Duration

	RateBurst    int
	RateInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			panic(err)
		}
	}

	v.SetDefault("http.port", defaultPort)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("slack.dry_run", false)
	v.SetDefault("state.ttl", defaultStateTTL)
	v.SetDefault("storage.backend", defaultBackend)
	v.SetDefault("storage.redis_url", defaultRedisURL)
	v.SetDefault("storage.sqlite_path", defaultSQLitePath)
	v.SetDefault("relay.workers", defaultWorkers)
	v.SetDefault("relay.timeout", defaultTimeout)
	v.SetDefault("ratelimit.burst", defaultRateBurst)
	v.SetDefault("ratelimit.interval", defaultRateEvery)
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		Port:              v.GetString("http.port"),
		LogLevel:          v.GetString("log.level"),
		RedirectURI:       strings.TrimSuffix(v.GetString("redirect.uri"), "/"),
		SlackClientID:     v.GetString("slack.client_id"),
		SlackClientSecret: v.GetString("slack.client_secret"),
		SlackDryRun:       v.GetBool("slack.dry_run"),
		JiraClientID:      v.GetString("jira.client_id"),
		JiraClientSecret:  v.GetString("jira.client_secret"),
		StateSecret:       v.GetString("state.secret"),
		StateTTL:          v.GetDuration("state.ttl"),
		Storage: storage.Config{
			Backend:         v.GetString("storage.backend"),
			RedisURL:        v.GetString("storage.redis_url"),
			SQLitePath:      v.GetString("storage.sqlite_path"),
			Bucket:          v.GetString("storage.bucket"),
			LocalPath:       v.GetString("storage.local_path"),
			CredentialsFile: v.GetString("storage.credentials_file"),
		},
		RelayWorkers: v.GetInt("relay.workers"),
		RelayTimeout: v.GetDuration("relay.timeout"),
		RateBurst:    v.GetInt("ratelimit.burst"),
		RateInterval: v.GetDuration("ratelimit.interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	required := []struct{ key, value string }{
		{"redirect.uri", c.RedirectURI},
		{"slack.client_id", c.SlackClientID},
		{"slack.client_secret", c.SlackClientSecret},
		{"jira.client_id", c.JiraClientID},
		{"jira.client_secret", c.JiraClientSecret},
		{"state.secret", c.StateSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	switch c.Storage.Backend {
	case storage.BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case storage.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case storage.BackendBucket:
		if c.Storage.Bucket == "" && c.Storage.LocalPath == "" {
			return fmt.Errorf("storage.bucket or storage.local_path is required for the bucket backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of redis, sqlite, bucket (got %q)", c.Storage.Backend)
	}

	if c.RelayWorkers <= 0 {
		return fmt.Errorf("relay.workers must be positive")
	}
	if c.RelayTimeout <= 0 {
		return fmt.Errorf("relay.timeout must be positive")
	}
	return nil
}

// SlackRedirectURI is where Slack sends the installation code.
func (c AppConfig) SlackRedirectURI() string {
	return c.RedirectURI + slackRedirectPath
}

// JiraRedirectURI is where Jira sends both workspace and user authorization codes.
func (c AppConfig) JiraRedirectURI() string {
	return c.RedirectURI + jiraRedirectPath
}

// ShutdownGrace is how long shutdown waits for in-flight pipelines: the relay timeout, clamped.
func (c AppConfig) ShutdownGrace() time.Duration {
	return min(max(c.RelayTimeout, shutdownGraceFloor), shutdownGraceCeil)
}
