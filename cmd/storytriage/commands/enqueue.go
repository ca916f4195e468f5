package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathandonaldson/storytriage/internal/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <workspace> <story-id>",
	Short: "Enqueue a task manually",
	Long: `Add a task to the queue without going through the webhook server.
Useful for re-running a workflow on a story or smoke-testing a
worker.

Example:
  storytriage enqueue acme 12345 --type analysis --priority 10`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringP("type", "t", string(queue.TypeAnalysis), "Task type")
	enqueueCmd.Flags().IntP("priority", "p", queue.PriorityNormal, "Priority (lower is sooner)")
	enqueueCmd.Flags().String("payload", "", "JSON object merged into the task payload")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	workspace, storyID := args[0], args[1]

	typeName, _ := cmd.Flags().GetString("type")
	typ := queue.Type(typeName)
	if !typ.Valid() {
		return fmt.Errorf("unknown task type %q", typeName)
	}
	priority, _ := cmd.Flags().GetInt("priority")

	payload := map[string]any{}
	if raw, _ := cmd.Flags().GetString("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
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

	task := queue.NewTask(workspace, storyID, typ,
		queue.WithPriority(priority),
		queue.WithPayload(payload))

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	taskID, err := manager.AddTask(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}

	fmt.Printf("Enqueued %s task %s for story %s/%s\n", typ, taskID, workspace, storyID)
	return nil
}
