// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Schema        SchemaConfig        `yaml:"schema"`
	Drafts        DraftsConfig        `yaml:"drafts"`
	Sync          SyncConfig          `yaml:"sync"`
	Submission    SubmissionConfig    `yaml:"submission"`
	Queries       QueriesConfig       `yaml:"queries"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// BackendConfig describes the remote workflow service.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	HealthPath     string               `yaml:"health_path"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for backend calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// SchemaConfig selects the questionnaire schema. An empty file uses the
// schema compiled into the binary.
type SchemaConfig struct {
	File string `yaml:"file"`
}

// DraftsConfig describes local draft persistence.
type DraftsConfig struct {
	Driver    string        `yaml:"driver"`
	Path      string        `yaml:"path"`
	DSNEnv    string        `yaml:"dsn_env"`
	AddrEnv   string        `yaml:"addr_env"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// SyncConfig describes auto-save and connectivity settings.
type SyncConfig struct {
	AutoSave         bool          `yaml:"auto_save"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`
	PushTimeout      time.Duration `yaml:"push_timeout"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
}

// SubmissionConfig describes submission gating.
type SubmissionConfig struct {
	ConfirmBelowPercent int `yaml:"confirm_below_percent"`
}

// QueriesConfig describes query display settings.
type QueriesConfig struct {
	SLA time.Duration `yaml:"sla"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Backend: BackendConfig{
			Timeout:    10 * time.Second,
			HealthPath: "/health",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
				IdempotentOnly:    true,
			},
		},
		Drafts: DraftsConfig{
			Driver:    "sqlite",
			Path:      "msds-drafts.db",
			KeyPrefix: "msds_draft_",
			Retention: 7 * 24 * time.Hour,
		},
		Sync: SyncConfig{
			AutoSave:         true,
			AutoSaveInterval: 30 * time.Second,
			PushTimeout:      15 * time.Second,
			ProbeInterval:    15 * time.Second,
		},
		Submission: SubmissionConfig{
			ConfirmBelowPercent: 80,
		},
		Queries: QueriesConfig{
			SLA: 72 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	switch c.Drafts.Driver {
	case "memory", "sqlite", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("drafts.driver %q is not supported (memory, sqlite, redis, postgres)", c.Drafts.Driver))
	}
	if c.Drafts.Driver == "sqlite" && c.Drafts.Path == "" {
		errs = append(errs, "drafts.path is required for the sqlite driver")
	}
	if c.Drafts.Retention <= 0 {
		errs = append(errs, "drafts.retention must be positive")
	}
	if c.Sync.AutoSave && c.Sync.AutoSaveInterval < time.Second {
		errs = append(errs, "sync.auto_save_interval must be at least 1s")
	}
	if c.Submission.ConfirmBelowPercent < 0 || c.Submission.ConfirmBelowPercent > 100 {
		errs = append(errs, "submission.confirm_below_percent must be between 0 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads MSDS_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MSDS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MSDS_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("MSDS_DRAFTS_DRIVER"); v != "" {
		cfg.Drafts.Driver = v
	}
	if v := os.Getenv("MSDS_DRAFTS_PATH"); v != "" {
		cfg.Drafts.Path = v
	}
	if v := os.Getenv("MSDS_SCHEMA_FILE"); v != "" {
		cfg.Schema.File = v
	}
	if v := os.Getenv("MSDS_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("MSDS_SYNC_AUTO_SAVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sync.AutoSave = b
		}
	}
}
