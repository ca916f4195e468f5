// Package config handles loading and validating storytriage configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nathandonaldson/storytriage/internal/logging"
)

// Backend names accepted in configuration.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all storytriage configuration.
type Config struct {
	Backend  string `mapstructure:"backend"`   // redis or sqlite
	RedisURL string `mapstructure:"redis_url"` // redis connection URL
	DBPath   string `mapstructure:"db_path"`   // sqlite database path
	Listen   string `mapstructure:"listen"`    // webhook server address
	TraceDir string `mapstructure:"trace_dir"` // correlation store directory

	Worker    WorkerConfig    `mapstructure:"worker"`
	Retention RetentionConfig `mapstructure:"retention"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// WorkerConfig configures the background worker.
type WorkerConfig struct {
	ID              string        `mapstructure:"id"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TaskTypes       []string      `mapstructure:"task_types"`
}

// RetentionConfig configures terminal-task cleanup.
type RetentionConfig struct {
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"` // cron expression
}

// OpenAIConfig configures the agent LLM calls.
type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// Load reads configuration from file and environment. path may name a
// specific config file; when empty, storytriage.yaml is searched for in the
// working directory and ~/.config/storytriage.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storytriage")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/storytriage")
	}

	v.SetEnvPrefix("STORYTRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Credentials come from the environment, never the config file.
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendRedis)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("db_path", "")
	v.SetDefault("listen", ":8080")
	v.SetDefault("trace_dir", "")

	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.shutdown_timeout", 10*time.Second)
	v.SetDefault("worker.task_types", []string{})

	v.SetDefault("retention.days", 7)
	v.SetDefault("retention.schedule", "0 3 * * *")

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 2048)

	def := logging.DefaultConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.path", def.Path)
	v.SetDefault("logging.format", def.Format)
	v.SetDefault("logging.retention_days", def.RetentionDays)
}

// WorkerID returns the configured worker ID, defaulting to hostname-pid.
func (c *Config) WorkerID() string {
	if c.Worker.ID != "" {
		return c.Worker.ID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// WorkspaceToken resolves the Shortcut API token for a workspace, trying
// workspace-specific variables in a few case variants before falling back to
// the default token. Returns an empty string when nothing is set.
func (c *Config) WorkspaceToken(workspaceID string) string {
	for _, candidate := range []string{
		"SHORTCUT_API_KEY_" + workspaceID,
		"SHORTCUT_API_KEY_" + strings.ToUpper(workspaceID),
		"SHORTCUT_API_KEY_" + strings.ToLower(workspaceID),
	} {
		if token := os.Getenv(candidate); token != "" {
			return token
		}
	}
	return os.Getenv("SHORTCUT_API_KEY")
}

// ValidateWorker checks the settings the worker process cannot start
// without.
func (c *Config) ValidateWorker() error {
	if c.Backend != BackendRedis && c.Backend != BackendSQLite {
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendRedis, BackendSQLite)
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	return nil
}
