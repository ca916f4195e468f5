package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old completed and failed tasks",
	Long: `Remove completed and failed task index entries older than the
given number of days. The worker runs this on a schedule; the
command exists for manual sweeps.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days < 0 {
			return fmt.Errorf("days must be >= 0, got %d", days)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		manager, err := openManager(cfg)
		if err != nil {
			return fmt.Errorf("opening queue: %w", err)
		}
		defer func() { _ = manager.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		removed, err := manager.CleanOldTasks(ctx, days)
		if err != nil {
			return fmt.Errorf("cleaning tasks: %w", err)
		}

		fmt.Printf("Removed %d task index entries older than %d days\n", removed, days)
		return nil
	},
}

func init() {
	cleanCmd.Flags().IntP("days", "d", 7, "Remove entries older than this many days")
	rootCmd.AddCommand(cleanCmd)
}
