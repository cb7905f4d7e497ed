package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Runtime  RuntimeConfig
	Duolingo DuolingoConfig
	Watcher  WatcherConfig
	Refresh  RefreshConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"SERVER_PORT" default:"8787"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"` // SSE streams stay open
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"will-save"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// RuntimeConfig selects and configures the host runtime.
type RuntimeConfig struct {
	// Probes is the capability probe order; the first runtime that
	// initializes wins.
	Probes []string `envconfig:"RUNTIME_PROBES" default:"redis,local"`

	RedisHost      string `envconfig:"REDIS_HOST" default:""`
	RedisPort      int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"willsave"`

	ProfilePath  string `envconfig:"PROFILE_PATH" default:"./data/profile.db"`
	ResourceBase string `envconfig:"RESOURCE_BASE" default:"chrome-extension://will-save/"`
	TabID        int    `envconfig:"TAB_ID" default:"-1"`
}

// DuolingoConfig holds progress API settings.
type DuolingoConfig struct {
	BaseURL       string        `envconfig:"DUOLINGO_BASE_URL" default:"https://www.duolingo.com"`
	Timeout       time.Duration `envconfig:"DUOLINGO_TIMEOUT" default:"10s"`
	MinCheckGap   time.Duration `envconfig:"DUOLINGO_MIN_CHECK_GAP" default:"5s"`
	NewTabSpacing time.Duration `envconfig:"NEW_TAB_SPACING" default:"2s"`
}

// WatcherConfig holds page watcher settings.
type WatcherConfig struct {
	PollInterval time.Duration `envconfig:"WATCHER_POLL_INTERVAL" default:"100ms"`
}

// RefreshConfig holds the periodic currency refresh settings.
type RefreshConfig struct {
	// Interval of 0 disables the scheduler.
	Interval time.Duration `envconfig:"REFRESH_INTERVAL" default:"15m"`
}

// AuthConfig holds API key settings for the HTTP surface.
type AuthConfig struct {
	APIKeys []string `envconfig:"API_KEYS" default:""`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format, or an empty
// string when Redis is not configured.
func (r *RuntimeConfig) RedisAddress() string {
	if r.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.RedisHost, r.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for i := range cfg.Runtime.Probes {
		cfg.Runtime.Probes[i] = strings.ToLower(strings.TrimSpace(cfg.Runtime.Probes[i]))
	}
	cfg.Auth.APIKeys = nonEmpty(cfg.Auth.APIKeys)

	if cfg.Watcher.PollInterval <= 0 {
		return nil, fmt.Errorf("failed to load config: WATCHER_POLL_INTERVAL must be positive")
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
