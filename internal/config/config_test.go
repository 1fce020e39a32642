package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.BaseURL != "https://workflow.internal/api" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("Backend.Timeout = %v, want 5s", cfg.Backend.Timeout)
	}
	if cfg.Backend.CircuitBreaker.FailureThreshold != 4 {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want 4", cfg.Backend.CircuitBreaker.FailureThreshold)
	}
	// Unset nested values keep their defaults.
	if cfg.Backend.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("CircuitBreaker.SuccessThreshold = %d, want default 2", cfg.Backend.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Drafts.Path != "/var/lib/msds/drafts.db" {
		t.Errorf("Drafts.Path = %q", cfg.Drafts.Path)
	}
	if cfg.Drafts.Retention != 7*24*time.Hour {
		t.Errorf("Drafts.Retention = %v, want 168h", cfg.Drafts.Retention)
	}
	if cfg.Drafts.MaxBytes != 1<<20 {
		t.Errorf("Drafts.MaxBytes = %d, want 1MiB", cfg.Drafts.MaxBytes)
	}
	if cfg.Sync.AutoSaveInterval != 20*time.Second {
		t.Errorf("Sync.AutoSaveInterval = %v, want 20s", cfg.Sync.AutoSaveInterval)
	}
	if cfg.Submission.ConfirmBelowPercent != 75 {
		t.Errorf("Submission.ConfirmBelowPercent = %d, want 75", cfg.Submission.ConfirmBelowPercent)
	}
	if cfg.Queries.SLA != 48*time.Hour {
		t.Errorf("Queries.SLA = %v, want 48h", cfg.Queries.SLA)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_backend(t *testing.T) {
	_, err := Load("testdata/missing_backend.yaml")
	if err == nil {
		t.Fatal("Load() with missing backend.base_url should return error")
	}
	if !strings.Contains(err.Error(), "backend.base_url") {
		t.Errorf("error = %v, want mention of backend.base_url", err)
	}
}

func TestLoad_unsupported_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unsupported driver should return error")
	}
	if !strings.Contains(err.Error(), "leveldb") {
		t.Errorf("error = %v, want mention of the driver", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Drafts.Retention != 7*24*time.Hour {
		t.Errorf("default Drafts.Retention = %v, want 7 days", cfg.Drafts.Retention)
	}
	if cfg.Sync.AutoSaveInterval != 30*time.Second {
		t.Errorf("default Sync.AutoSaveInterval = %v, want 30s", cfg.Sync.AutoSaveInterval)
	}
	if cfg.Submission.ConfirmBelowPercent != 80 {
		t.Errorf("default ConfirmBelowPercent = %d, want 80", cfg.Submission.ConfirmBelowPercent)
	}
	if cfg.Drafts.KeyPrefix != "msds_draft_" {
		t.Errorf("default KeyPrefix = %q", cfg.Drafts.KeyPrefix)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MSDS_SERVER_PORT", "3000")
	t.Setenv("MSDS_BACKEND_BASE_URL", "https://env-backend.example.com")
	t.Setenv("MSDS_DRAFTS_DRIVER", "memory")
	t.Setenv("MSDS_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("MSDS_SYNC_AUTO_SAVE", "false")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://env-backend.example.com" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.Drafts.Driver != "memory" {
		t.Errorf("Drafts.Driver = %q, want memory", cfg.Drafts.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.Sync.AutoSave {
		t.Error("Sync.AutoSave = true, want false (env override)")
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://workflow.internal"
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_confirmThresholdRange(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://workflow.internal"
	cfg.Submission.ConfirmBelowPercent = 120

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with threshold 120 should return error")
	}
}

func TestValidate_autoSaveInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://workflow.internal"
	cfg.Sync.AutoSaveInterval = 100 * time.Millisecond

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with sub-second auto-save interval should return error")
	}

	cfg.Sync.AutoSave = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with auto-save disabled = %v, want nil", err)
	}
}
