package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	// Database connection.
	DatabaseURL  string        `yaml:"database_url" env:"DATABASE_URL"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT" env-default:"0s"` // 0 means no limit

	// Schema filtering.
	Schemas []string `yaml:"schemas" env:"SCHEMAS" env-separator:","` // empty means all non-system schemas

	// Statistics source: "exact" (default) or "catalog".
	StatsMode string `yaml:"stats_mode" env:"STATS_MODE" env-default:"exact"`

	// Logging.
	LogLevelName string     `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogLevel     slog.Level `yaml:"-"`

	// Transport for `serve`.
	Transport       string `yaml:"transport" env:"TRANSPORT" env-default:"stdio"`
	HTTPAddr        string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`
	HTTPBearerToken string `yaml:"-" env:"HTTP_BEARER_TOKEN"` // secret, never read from the file

	Pool PoolConfig `yaml:"pool"`

	// Observability.
	OTelEnabled bool   `yaml:"otel_enabled" env:"OTEL_ENABLED"`
	AuditLog    string `yaml:"audit_log" env:"AUDIT_LOG"` // path to NDJSON audit log file

	// CLI-only fields.
	Format       string `yaml:"-"` // text, json or yaml
	EstimateOnly bool   `yaml:"-"`
	WithPlanner  bool   `yaml:"-"`
}

type PoolConfig struct {
	MaxConns        int32         `yaml:"max_conns" env:"POOL_MAX_CONNS" env-default:"5"`
	MinConns        int32         `yaml:"min_conns" env:"POOL_MIN_CONNS" env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"POOL_MAX_CONN_LIFETIME" env-default:"30m"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"POOL_MAX_CONN_IDLE_TIME" env-default:"5m"`
}

// Overrides holds CLI flag values that override the file and environment.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	DatabaseURL     *string
	Schemas         []string
	StatsMode       *string
	QueryTimeout    *time.Duration
	LogLevel        *string
	Transport       *string
	HTTPAddr        *string
	HTTPBearerToken *string
	AuditLog        *string
	OTelEnabled     bool

	Format       string
	EstimateOnly bool
	WithPlanner  bool

	// Connection pool overrides.
	PoolMaxConns        *int32
	PoolMinConns        *int32
	PoolMaxConnLifetime *time.Duration
}

// Load reads the optional YAML file at path, then environment variables
// (which win over the file), then applies CLI overrides and validates the
// result.
func Load(path string, overrides Overrides) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.normalize()

	level, err := parseLogLevel(cfg.LogLevelName)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Usage describes the supported environment variables.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}
	return desc
}

func (c *Config) normalize() {
	c.Schemas = splitSchemas(c.Schemas)
	c.StatsMode = strings.ToLower(strings.TrimSpace(c.StatsMode))
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Format == "" {
		c.Format = "text"
	}
}

func splitSchemas(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// applyOverrides applies CLI flag values on top of the file and env config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.Schemas != nil {
		cfg.Schemas = splitSchemas(o.Schemas)
	}
	if o.StatsMode != nil {
		cfg.StatsMode = strings.ToLower(strings.TrimSpace(*o.StatsMode))
	}
	if o.QueryTimeout != nil {
		cfg.QueryTimeout = *o.QueryTimeout
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevelName = *o.LogLevel
		cfg.LogLevel = level
	}
	if o.Transport != nil {
		cfg.Transport = strings.ToLower(strings.TrimSpace(*o.Transport))
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.AuditLog != nil {
		cfg.AuditLog = *o.AuditLog
	}

	if err := applyPoolOverrides(cfg, o); err != nil {
		return err
	}

	if o.Format != "" {
		cfg.Format = strings.ToLower(o.Format)
	}
	cfg.EstimateOnly = o.EstimateOnly
	cfg.WithPlanner = o.WithPlanner
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

// applyPoolOverrides applies connection pool CLI flag overrides.
func applyPoolOverrides(cfg *Config, o Overrides) error {
	if o.PoolMaxConns != nil {
		if *o.PoolMaxConns <= 0 {
			return fmt.Errorf("invalid --pool-max-conns value: must be a positive integer")
		}
		cfg.Pool.MaxConns = *o.PoolMaxConns
	}
	if o.PoolMinConns != nil {
		if *o.PoolMinConns < 0 {
			return fmt.Errorf("invalid --pool-min-conns value: must be a non-negative integer")
		}
		cfg.Pool.MinConns = *o.PoolMinConns
	}
	if o.PoolMaxConnLifetime != nil {
		cfg.Pool.MaxConnLifetime = *o.PoolMaxConnLifetime
	}
	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required (set via env var, config file or --database-url flag)")
	}

	if cfg.QueryTimeout < 0 {
		return fmt.Errorf("invalid QUERY_TIMEOUT value %s: must not be negative", cfg.QueryTimeout)
	}

	switch cfg.StatsMode {
	case "exact", "catalog":
	default:
		return fmt.Errorf("invalid STATS_MODE value %q: must be \"exact\" or \"catalog\"", cfg.StatsMode)
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	switch cfg.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid --format value %q: must be text, json or yaml", cfg.Format)
	}

	if cfg.Pool.MaxConns <= 0 {
		return fmt.Errorf("POOL_MAX_CONNS (%d) must be a positive integer", cfg.Pool.MaxConns)
	}
	if cfg.Pool.MinConns > cfg.Pool.MaxConns {
		return fmt.Errorf("POOL_MIN_CONNS (%d) must not exceed POOL_MAX_CONNS (%d)", cfg.Pool.MinConns, cfg.Pool.MaxConns)
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
