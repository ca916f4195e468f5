package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nathandonaldson/storytriage/internal/agents"
	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/shortcut"
	"github.com/nathandonaldson/storytriage/internal/trace"
	"github.com/nathandonaldson/storytriage/internal/worker"
)

func testPipeline(t *testing.T, opts ...Option) (*Pipeline, *queue.Manager) {
	t.Helper()

	backend, err := queue.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	manager := queue.NewManager(backend)

	tokens := func(workspaceID string) string { return "tok-" + workspaceID }
	p, err := New(manager, tokens, agents.Config{APIKey: "sk-test"}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, manager
}

func triagePayload(labelName string) map[string]any {
	return map[string]any{
		"webhook_data": map[string]any{
			"actions": []any{
				map[string]any{
					"entity_type": "story",
					"action":      "update",
					"changes": map[string]any{
						"label_ids": map[string]any{"adds": []any{1.0}},
					},
				},
			},
			"references": []any{
				map[string]any{"entity_type": "label", "id": 1.0, "name": labelName},
			},
		},
	}
}

func TestTriageEnqueuesAnalysis(t *testing.T) {
	p, manager := testPipeline(t)
	ctx := context.Background()

	task := queue.NewTask("acme", "42", queue.TypeTriage,
		queue.WithPayload(triagePayload("analyse")))

	result, err := p.Triage(ctx, task, trace.Info{TraceID: "trace_x"})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if result["processed"] != true {
		t.Fatalf("result = %v", result)
	}
	if result["workflow"] != agents.WorkflowAnalyse {
		t.Errorf("workflow = %v, want analyse", result["workflow"])
	}

	nextID, _ := result["next_task_id"].(string)
	if nextID == "" {
		t.Fatal("result missing next_task_id")
	}
	next, err := manager.GetTask(ctx, nextID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if next.Type != queue.TypeAnalysis {
		t.Errorf("next type = %q, want analysis", next.Type)
	}
	if next.WorkspaceID != "acme" || next.StoryID != "42" {
		t.Errorf("next workspace=%q story=%q", next.WorkspaceID, next.StoryID)
	}
	if next.Payload["trace_id"] != "trace_x" {
		t.Errorf("next trace_id = %v", next.Payload["trace_id"])
	}
}

func TestTriageEnqueuesEnhancement(t *testing.T) {
	p, manager := testPipeline(t)
	ctx := context.Background()

	task := queue.NewTask("acme", "42", queue.TypeTriage,
		queue.WithPayload(triagePayload("enhance")))

	result, err := p.Triage(ctx, task, trace.Info{})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}

	nextID, _ := result["next_task_id"].(string)
	next, err := manager.GetTask(ctx, nextID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if next.Type != queue.TypeEnhancement {
		t.Errorf("next type = %q, want enhancement", next.Type)
	}
}

// A webhook-shaped triage task run through a live worker should complete
// and leave the follow-up enhancement task queued behind it.
func TestWorkerTriageLeavesEnhancementQueued(t *testing.T) {
	p, manager := testPipeline(t)
	ctx := context.Background()

	task := queue.NewTask("acme", "42", queue.TypeTriage,
		queue.WithPriority(queue.PriorityHigh),
		queue.WithPayload(triagePayload("enhance")))
	if _, err := manager.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	w := worker.New(manager,
		worker.WithTypes([]queue.Type{queue.TypeTriage}),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithHandler(queue.TypeTriage, p.Triage),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Start(runCtx)
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for w.Stats().Succeeded < 1 {
		select {
		case <-deadline:
			w.Stop()
			cancel()
			<-done
			t.Fatal("triage task not processed before timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}
	w.Stop()
	cancel()
	<-done

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued[queue.TypeEnhancement] != 1 {
		t.Errorf("queued enhancement = %d, want 1", stats.Queued[queue.TypeEnhancement])
	}
	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
	if stats.Processing != 0 {
		t.Errorf("processing = %d, want 0", stats.Processing)
	}

	got, err := manager.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Errorf("triage status = %q, want completed", got.Status)
	}
}

func TestTriageIgnoresIrrelevantLabels(t *testing.T) {
	p, manager := testPipeline(t)
	ctx := context.Background()

	task := queue.NewTask("acme", "42", queue.TypeTriage,
		queue.WithPayload(triagePayload("backend")))

	result, err := p.Triage(ctx, task, trace.Info{})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if result["processed"] != false {
		t.Errorf("result = %v, want not processed", result)
	}

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued[queue.TypeAnalysis] != 0 || stats.Queued[queue.TypeEnhancement] != 0 {
		t.Errorf("unexpected follow-up tasks: %v", stats.Queued)
	}
}

func TestTriageMissingPayload(t *testing.T) {
	p, _ := testPipeline(t)

	task := queue.NewTask("acme", "42", queue.TypeTriage)
	if _, err := p.Triage(context.Background(), task, trace.Info{}); err == nil {
		t.Fatal("expected error for missing webhook_data")
	}
}

func TestUpdateAppliesChanges(t *testing.T) {
	var gotParams shortcut.UpdateStoryParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotParams); err != nil {
			t.Fatalf("decoding params: %v", err)
		}
		json.NewEncoder(w).Encode(shortcut.Story{ID: 42})
	}))
	defer srv.Close()

	p, _ := testPipeline(t, WithClientFactory(func(token string) *shortcut.Client {
		if token != "tok-acme" {
			t.Errorf("token = %q, want tok-acme", token)
		}
		return shortcut.NewClient(token, shortcut.WithBaseURL(srv.URL))
	}))

	task := queue.NewTask("acme", "42", queue.TypeUpdate,
		queue.WithPayload(map[string]any{
			"updates": map[string]any{"name": "New title"},
		}))

	result, err := p.Update(context.Background(), task, trace.Info{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result["applied"] != 1 {
		t.Errorf("result = %v", result)
	}
	if gotParams.Name == nil || *gotParams.Name != "New title" {
		t.Errorf("params = %+v", gotParams)
	}
}

func TestUpdateMissingPayload(t *testing.T) {
	p, _ := testPipeline(t)

	task := queue.NewTask("acme", "42", queue.TypeUpdate)
	if _, err := p.Update(context.Background(), task, trace.Info{}); err == nil {
		t.Fatal("expected error for missing updates")
	}
}

func TestClientForMissingToken(t *testing.T) {
	backend, err := queue.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	p, err := New(queue.NewManager(backend),
		func(string) string { return "" },
		agents.Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.clientFor("acme"); err == nil {
		t.Fatal("expected error for workspace without token")
	}
}
