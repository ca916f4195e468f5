package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathandonaldson/storytriage/internal/config"
	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/queue"
)

// loadConfig reads configuration honoring the --config flag and initializes
// the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.Root().PersistentFlags().GetString("config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	return cfg, nil
}

// openBackend creates the queue backend named by the config.
func openBackend(cfg *config.Config) (queue.Backend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		url := cfg.RedisURL
		if url == "" {
			url = queue.DefaultRedisURL
		}
		return queue.NewRedisBackend(url), nil
	case config.BackendSQLite:
		path := cfg.DBPath
		if path == "" {
			path = queue.DefaultDBPath()
		}
		return queue.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown backend %q (expected %s or %s)",
			cfg.Backend, config.BackendRedis, config.BackendSQLite)
	}
}

// openManager builds a queue manager over the configured backend.
func openManager(cfg *config.Config) (*queue.Manager, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	return queue.NewManager(backend, queue.WithLogger(logging.Component("queue"))), nil
}
