package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Long: `Display task queue statistics: pending counts per task type,
in-flight tasks, and the completed and failed index sizes.

Use --json for machine-readable output or --watch for a live
dashboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")
		return runStatsCmd(cmd, jsonOutput, watch, interval)
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "Output as JSON")
	statsCmd.Flags().BoolP("watch", "w", false, "Live dashboard, refreshing periodically")
	statsCmd.Flags().Duration("interval", 2*time.Second, "Watch refresh interval")
	rootCmd.AddCommand(statsCmd)
}

func runStatsCmd(cmd *cobra.Command, jsonOutput, watch bool, interval time.Duration) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manager, err := openManager(cfg)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer func() { _ = manager.Close() }()

	if watch {
		return ui.Run(manager.Stats, interval)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	stats, err := manager.Stats(ctx)
	if err != nil {
		return fmt.Errorf("computing stats: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println("Queue Statistics")
	fmt.Println("================")
	var queued int64
	for _, typ := range queue.AllTypes() {
		n := stats.Queued[typ]
		queued += n
		fmt.Printf("  %-14s %d\n", typ, n)
	}
	fmt.Println()
	fmt.Printf("  %-14s %d\n", "queued", queued)
	fmt.Printf("  %-14s %d\n", "processing", stats.Processing)
	fmt.Printf("  %-14s %d\n", "completed", stats.Completed)
	fmt.Printf("  %-14s %d\n", "failed", stats.Failed)
	return nil
}
