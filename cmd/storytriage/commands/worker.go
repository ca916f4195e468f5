package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nathandonaldson/storytriage/internal/agents"
	"github.com/nathandonaldson/storytriage/internal/config"
	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/pipeline"
	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/trace"
	"github.com/nathandonaldson/storytriage/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task queue worker",
	Long: `Run the background worker that polls the task queue and executes
triage, analysis, enhancement, and update tasks.

The worker also runs the scheduled retention job that removes old
completed and failed task index entries.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("worker-id", "", "Worker identifier (default hostname-pid)")
	workerCmd.Flags().Duration("poll-interval", 0, "Queue poll interval")
	workerCmd.Flags().StringSlice("task-types", nil, "Task types to process (default all)")
	workerCmd.Flags().String("backend", "", "Queue backend: redis or sqlite")
	workerCmd.Flags().String("redis-url", "", "Redis connection URL")
	workerCmd.Flags().String("db-path", "", "SQLite database path")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyWorkerFlags(cmd, cfg)

	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	manager, err := openManager(cfg)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer func() { _ = manager.Close() }()

	traceDir := cfg.TraceDir
	if traceDir == "" {
		traceDir = trace.DefaultStorePath()
	}
	traces, err := trace.NewStore(traceDir)
	if err != nil {
		return fmt.Errorf("opening trace store: %w", err)
	}

	llm := agents.Config{
		APIKey:    cfg.OpenAI.APIKey,
		Model:     cfg.OpenAI.Model,
		MaxTokens: cfg.OpenAI.MaxTokens,
	}
	pipe, err := pipeline.New(manager, cfg.WorkspaceToken, llm)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	types, err := parseTaskTypes(cfg.Worker.TaskTypes)
	if err != nil {
		return err
	}

	w := worker.New(manager,
		worker.WithID(cfg.WorkerID()),
		worker.WithTypes(types),
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithShutdownTimeout(cfg.Worker.ShutdownTimeout),
		worker.WithTraceStore(traces),
		worker.WithHandler(queue.TypeTriage, pipe.Triage),
		worker.WithHandler(queue.TypeAnalysis, pipe.Analysis),
		worker.WithHandler(queue.TypeEnhancement, pipe.Enhancement),
		worker.WithHandler(queue.TypeUpdate, pipe.Update),
	)

	// Scheduled retention sweep runs inside the worker process.
	sched := cron.New()
	logger := logging.Component("worker")
	if _, err := sched.AddFunc(cfg.Retention.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := manager.CleanOldTasks(ctx, cfg.Retention.Days); err != nil {
			logger.Err(err).Msg("retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention job %q: %w", cfg.Retention.Schedule, err)
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoCtx("shutting down", map[string]any{"signal": sig.String()})
		w.Stop()
		cancel()
	}()

	fmt.Printf("Worker %s started (backend: %s)\n", w.ID(), cfg.Backend)
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker exited: %w", err)
	}
	return nil
}

// applyWorkerFlags overlays command-line flags onto the loaded config.
func applyWorkerFlags(cmd *cobra.Command, cfg *config.Config) {
	if id, _ := cmd.Flags().GetString("worker-id"); id != "" {
		cfg.Worker.ID = id
	}
	if d, _ := cmd.Flags().GetDuration("poll-interval"); d > 0 {
		cfg.Worker.PollInterval = d
	}
	if types, _ := cmd.Flags().GetStringSlice("task-types"); len(types) > 0 {
		cfg.Worker.TaskTypes = types
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if url, _ := cmd.Flags().GetString("redis-url"); url != "" {
		cfg.RedisURL = url
	}
	if path, _ := cmd.Flags().GetString("db-path"); path != "" {
		cfg.DBPath = path
	}
}

// parseTaskTypes validates the configured type names. Empty means all types.
func parseTaskTypes(names []string) ([]queue.Type, error) {
	if len(names) == 0 {
		return queue.AllTypes(), nil
	}
	types := make([]queue.Type, 0, len(names))
	for _, name := range names {
		typ := queue.Type(name)
		if !typ.Valid() {
			return nil, fmt.Errorf("unknown task type %q", name)
		}
		types = append(types, typ)
	}
	return types, nil
}
