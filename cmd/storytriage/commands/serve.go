package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/trace"
	"github.com/nathandonaldson/storytriage/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the HTTP server that accepts Shortcut story webhooks.

Each accepted webhook is recorded in the trace store and enqueued
as a high-priority triage task for the worker to process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.Listen = addr
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

	srv := webhook.NewServer(cfg.Listen, manager, traces)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Component("webhook").InfoCtx("shutting down", map[string]any{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	fmt.Printf("Webhook server listening on %s (backend: %s)\n", cfg.Listen, cfg.Backend)
	return srv.ListenAndServe()
}
