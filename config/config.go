// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Limits   LimitsConfig   `yaml:"limits"`
	Capacity CapacityConfig `yaml:"capacity"`
	Abuse    AbuseConfig    `yaml:"abuse"`
	Admin    AdminConfig    `yaml:"admin"`
	Cookie   CookieConfig   `yaml:"cookie"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig configures the image-generation API.
type UpstreamConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures the external auth backend used to verify bearer
// tokens.
type AuthConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LimitsConfig configures the bounded tiers' monthly allotments.
type LimitsConfig struct {
	AnonymousMonthly int64 `yaml:"anonymous_monthly"`
	FreeMonthly      int64 `yaml:"free_monthly"`
}

// CapacityConfig configures the global fixed-window guard.
type CapacityConfig struct {
	Limit  int64         `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// AbuseConfig configures the per-IP sliding-window guard.
type AbuseConfig struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	GCHorizon time.Duration `yaml:"gc_horizon"`
}

// AdminConfig configures privileged access.
type AdminConfig struct {
	PasswordHash string        `yaml:"password_hash"` // bcrypt
	SessionTTL   time.Duration `yaml:"session_ttl"`
	TestSecret   string        `yaml:"test_secret"` // empty = test bypass disabled
}

// CookieConfig configures the anonymous-identity cookie.
type CookieConfig struct {
	Name   string        `yaml:"name"`
	Secret string        `yaml:"secret"` // HMAC key for cookie signing
	MaxAge time.Duration `yaml:"max_age"`
}

// ProxyConfig declares how many trusted reverse proxies sit in front of the
// process. Zero means forwarded-for headers are ignored.
type ProxyConfig struct {
	TrustedHops int `yaml:"trusted_hops"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			Timeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "trumpswap.db",
		},
		Limits: LimitsConfig{
			AnonymousMonthly: 1,
			FreeMonthly:      3,
		},
		Capacity: CapacityConfig{
			Limit:  500,
			Window: time.Hour,
		},
		Abuse: AbuseConfig{
			Threshold: 10,
			Window:    5 * time.Minute,
			GCHorizon: time.Hour,
		},
		Admin: AdminConfig{
			SessionTTL: 12 * time.Hour,
		},
		Cookie: CookieConfig{
			Name:   "ts_anon",
			MaxAge: 365 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from TRUMPSWAP_* environment variables
// (Docker deployments).
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("TRUMPSWAP_SERVER_HOST", &cfg.Server.Host)
	setInt("TRUMPSWAP_SERVER_PORT", &cfg.Server.Port)
	setString("TRUMPSWAP_UPSTREAM_URL", &cfg.Upstream.URL)
	setString("TRUMPSWAP_UPSTREAM_API_KEY", &cfg.Upstream.APIKey)
	setDuration("TRUMPSWAP_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	setString("TRUMPSWAP_AUTH_URL", &cfg.Auth.URL)
	setString("TRUMPSWAP_DATABASE_DSN", &cfg.Database.DSN)
	setInt64("TRUMPSWAP_LIMIT_ANONYMOUS", &cfg.Limits.AnonymousMonthly)
	setInt64("TRUMPSWAP_LIMIT_FREE", &cfg.Limits.FreeMonthly)
	setInt64("TRUMPSWAP_CAPACITY_LIMIT", &cfg.Capacity.Limit)
	setDuration("TRUMPSWAP_CAPACITY_WINDOW", &cfg.Capacity.Window)
	setInt("TRUMPSWAP_ABUSE_THRESHOLD", &cfg.Abuse.Threshold)
	setDuration("TRUMPSWAP_ABUSE_WINDOW", &cfg.Abuse.Window)
	setString("TRUMPSWAP_ADMIN_PASSWORD_HASH", &cfg.Admin.PasswordHash)
	setString("TRUMPSWAP_TEST_SECRET", &cfg.Admin.TestSecret)
	setString("TRUMPSWAP_COOKIE_SECRET", &cfg.Cookie.Secret)
	setInt("TRUMPSWAP_PROXY_TRUSTED_HOPS", &cfg.Proxy.TrustedHops)
	setString("TRUMPSWAP_LOG_LEVEL", &cfg.Logging.Level)
	setString("TRUMPSWAP_LOG_FORMAT", &cfg.Logging.Format)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("config: upstream.url is required")
	}
	if c.Auth.URL == "" {
		return fmt.Errorf("config: auth.url is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Cookie.Secret == "" {
		return fmt.Errorf("config: cookie.secret is required (anonymous ids are signed with it)")
	}
	if c.Limits.AnonymousMonthly < 0 || c.Limits.FreeMonthly < 0 {
		return fmt.Errorf("config: tier limits must be non-negative")
	}
	if c.Capacity.Limit <= 0 {
		return fmt.Errorf("config: capacity.limit must be positive")
	}
	if c.Capacity.Window <= 0 {
		return fmt.Errorf("config: capacity.window must be positive")
	}
	if c.Abuse.Threshold <= 0 {
		return fmt.Errorf("config: abuse.threshold must be positive")
	}
	if c.Abuse.Window <= 0 || c.Abuse.GCHorizon < c.Abuse.Window {
		return fmt.Errorf("config: abuse gc_horizon must cover the detection window")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}
