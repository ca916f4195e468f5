package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/trace"
)

func testServer(t *testing.T) (*Server, *queue.Manager, *trace.Store) {
	t.Helper()

	backend, err := queue.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	manager := queue.NewManager(backend)

	traces, err := trace.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return NewServer(":0", manager, traces), manager, traces
}

func storyEvent(storyID any) string {
	event := map[string]any{
		"actions": []any{
			map[string]any{
				"entity_type": "story",
				"action":      "update",
				"id":          storyID,
			},
		},
		"references": []any{
			map[string]any{"entity_type": "label", "id": 1.0, "name": "enhance"},
		},
	}
	raw, _ := json.Marshal(event)
	return string(raw)
}

func TestWebhookEnqueuesTriageTask(t *testing.T) {
	srv, manager, traces := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/acme", strings.NewReader(storyEvent("42")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("status = %v", resp["status"])
	}
	taskID, _ := resp["task_id"].(string)
	if taskID == "" {
		t.Fatal("response missing task_id")
	}

	task, err := manager.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Type != queue.TypeTriage {
		t.Errorf("type = %q, want triage", task.Type)
	}
	if task.Priority != queue.PriorityHigh {
		t.Errorf("priority = %d, want high", task.Priority)
	}
	if task.WorkspaceID != "acme" || task.StoryID != "42" {
		t.Errorf("workspace=%q story=%q", task.WorkspaceID, task.StoryID)
	}
	if _, ok := task.Payload["webhook_data"]; !ok {
		t.Error("payload missing webhook_data")
	}

	info, ok := traces.Lookup("acme", "42")
	if !ok {
		t.Fatal("trace not saved for webhook")
	}
	if info.TraceID == "" {
		t.Error("trace ID empty")
	}
	if task.Payload["trace_id"] != info.TraceID {
		t.Errorf("payload trace_id = %v, want %s", task.Payload["trace_id"], info.TraceID)
	}
}

func TestWebhookNumericStoryID(t *testing.T) {
	srv, manager, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/acme", strings.NewReader(storyEvent(1234.0)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	taskID, _ := resp["task_id"].(string)

	task, err := manager.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.StoryID != "1234" {
		t.Errorf("story_id = %q, want 1234", task.StoryID)
	}
}

func TestWebhookIgnoresNonStoryEvents(t *testing.T) {
	srv, _, _ := testServer(t)

	body := `{"actions":[{"entity_type":"epic","action":"update","id":"9"}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/acme", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Errorf("status = %v, want ignored", resp["status"])
	}
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/acme", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/acme", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
