package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from a directory with no config file.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend != BackendRedis {
		t.Errorf("backend = %q, want redis", cfg.Backend)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q, want :8080", cfg.Listen)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.Worker.PollInterval)
	}
	if cfg.Retention.Days != 7 {
		t.Errorf("retention days = %d, want 7", cfg.Retention.Days)
	}
	if cfg.Retention.Schedule != "0 3 * * *" {
		t.Errorf("retention schedule = %q", cfg.Retention.Schedule)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.OpenAI.Model)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storytriage.yaml")
	content := `backend: sqlite
db_path: /tmp/custom.db
listen: ":9090"
worker:
  poll_interval: 5s
  task_types: [triage, analysis]
retention:
  days: 14
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend != BackendSQLite {
		t.Errorf("backend = %q, want sqlite", cfg.Backend)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v", cfg.Worker.PollInterval)
	}
	if len(cfg.Worker.TaskTypes) != 2 {
		t.Errorf("task types = %v", cfg.Worker.TaskTypes)
	}
	if cfg.Retention.Days != 14 {
		t.Errorf("retention days = %d", cfg.Retention.Days)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_URL", "redis://queue.internal:6379/1")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://queue.internal:6379/1" {
		t.Errorf("redis_url = %q", cfg.RedisURL)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.OpenAI.APIKey)
	}
}

func TestWorkspaceToken(t *testing.T) {
	cfg := &Config{}

	t.Setenv("SHORTCUT_API_KEY", "default-token")
	t.Setenv("SHORTCUT_API_KEY_ACME", "acme-token")

	if got := cfg.WorkspaceToken("acme"); got != "acme-token" {
		t.Errorf("WorkspaceToken(acme) = %q, want workspace-specific token", got)
	}
	if got := cfg.WorkspaceToken("other"); got != "default-token" {
		t.Errorf("WorkspaceToken(other) = %q, want default token", got)
	}
}

func TestWorkerID(t *testing.T) {
	cfg := &Config{}
	cfg.Worker.ID = "custom-worker"
	if got := cfg.WorkerID(); got != "custom-worker" {
		t.Errorf("WorkerID = %q", got)
	}

	cfg.Worker.ID = ""
	if got := cfg.WorkerID(); got == "" {
		t.Error("WorkerID fallback should not be empty")
	}
}

func TestValidateWorker(t *testing.T) {
	cfg := &Config{Backend: BackendSQLite}
	cfg.OpenAI.APIKey = "sk-test"
	if err := cfg.ValidateWorker(); err != nil {
		t.Errorf("ValidateWorker: %v", err)
	}

	cfg.Backend = "memcached"
	if err := cfg.ValidateWorker(); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg.Backend = BackendRedis
	cfg.OpenAI.APIKey = ""
	if err := cfg.ValidateWorker(); err == nil {
		t.Error("expected error for missing API key")
	}
}
