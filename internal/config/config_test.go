package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseOverlaysDefaults(t *testing.T) {
	t.Parallel()

	raw := []byte(`
database:
  driver: postgres
  dsn: postgres://citysense@localhost/citysense
retry:
  maxAttempts: 6
  attemptTimeout: 5s
scoring:
  authenticityFloor: 0.25
scheduler:
  timezone: UTC
`)

	cfg, err := Parse(raw, Default())
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if cfg.Database.Driver != DriverPostgres {
		t.Fatalf("unexpected driver: %s", cfg.Database.Driver)
	}
	if cfg.Retry.MaxAttempts != 6 || cfg.Retry.AttemptTimeout != 5*time.Second {
		t.Fatalf("unexpected retry policy: %+v", cfg.Retry)
	}
	if cfg.Retry.InitialInterval != Default().Retry.InitialInterval {
		t.Fatalf("expected default initial interval to survive, got %v", cfg.Retry.InitialInterval)
	}
	if cfg.Scoring.AuthenticityFloor != 0.25 || cfg.Scoring.MaxSeverity != 10 {
		t.Fatalf("unexpected scoring policy: %+v", cfg.Scoring)
	}
	if cfg.Scheduler.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", cfg.Scheduler.Location())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Database.Driver = "mysql"
	cfg.Scoring.AuthenticityExponent = 0
	cfg.Retry.MaxAttempts = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citysense.yaml")
	if err := os.WriteFile(path, []byte("dispatcher:\n  queueSize: 16\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "file:override.db")
	t.Setenv(workersEnv, "9")
	t.Setenv(llmAPIKeyEnv, "sk-test")

	cfg := Load()

	if cfg.Dispatcher.QueueSize != 16 {
		t.Fatalf("expected queue size from file, got %d", cfg.Dispatcher.QueueSize)
	}
	if cfg.Dispatcher.Workers != 9 {
		t.Fatalf("expected workers from env, got %d", cfg.Dispatcher.Workers)
	}
	if cfg.Database.DSN != "file:override.db" {
		t.Fatalf("expected dsn from env, got %s", cfg.Database.DSN)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
}
