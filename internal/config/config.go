package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/p-blackswan/taskflow/internal/models"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	DBPath      string `envconfig:"DB_PATH" default:"taskflow.db"`

	// Timers and timesheets
	TimerScope         string `envconfig:"TIMER_SCOPE" default:"user"` // "user" or "user_task"
	ReferenceTimezone  string `envconfig:"REFERENCE_TIMEZONE" default:"UTC"`
	PropagateTaskHours bool   `envconfig:"PROPAGATE_TASK_HOURS" default:"true"`

	// Auth
	AuthMode   string        `envconfig:"AUTH_MODE" default:"jwt"` // "jwt" or "none" (dev only)
	JWTSecret  string        `envconfig:"JWT_SECRET"`
	JWTIssuer  string        `envconfig:"JWT_ISSUER" default:"taskflow"`
	TokenTTL   time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	PolicyFile string        `envconfig:"POLICY_FILE"` // overrides the embedded authorization table

	// HTTP
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	TLSCert        string `envconfig:"TLS_CERT"`
	TLSKey         string `envconfig:"TLS_KEY"`

	// Background jobs
	DeadLetterInterval time.Duration `envconfig:"DEAD_LETTER_INTERVAL" default:"1m"`
	RetentionInterval  time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`
	ActivityRetention  time.Duration `envconfig:"ACTIVITY_RETENTION" default:"720h"`
}

// Scope returns the parsed timer exclusivity scope.
func (c *Config) Scope() models.Scope {
	s, ok := models.ParseScope(c.TimerScope)
	if !ok {
		return models.ScopeUser
	}
	return s
}

// Location returns the reference timezone for timesheet day boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReferenceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// TLSEnabled returns true if both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if _, ok := models.ParseScope(c.TimerScope); !ok {
		return fmt.Errorf("invalid TIMER_SCOPE %q: want user or user_task", c.TimerScope)
	}
	if _, err := time.LoadLocation(c.ReferenceTimezone); err != nil {
		return fmt.Errorf("invalid REFERENCE_TIMEZONE %q: %w", c.ReferenceTimezone, err)
	}
	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "none":
	default:
		return fmt.Errorf("invalid AUTH_MODE %q: want jwt or none", c.AuthMode)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit values must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}
	return nil
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
