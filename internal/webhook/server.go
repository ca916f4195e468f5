// Package webhook receives Shortcut story events and converts them into
// queued triage tasks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/trace"
)

// maxBodySize bounds webhook payloads. Shortcut events are small; anything
// past this is noise.
const maxBodySize = 1 << 20

// Server accepts webhook deliveries and enqueues triage tasks.
type Server struct {
	manager *queue.Manager
	traces  *trace.Store
	logger  *logging.Logger
	httpSrv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a webhook server listening on addr.
func NewServer(addr string, manager *queue.Manager, traces *trace.Store, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		traces:  traces,
		logger:  logging.Component("webhook"),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{workspace}", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.InfoCtx("webhook server listening", map[string]any{"addr": s.httpSrv.Addr})
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace")
	if workspace == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing workspace"})
		return
	}

	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	storyID, ok := storyFromEvent(body)
	if !ok {
		// Not a story event; acknowledge so Shortcut does not retry.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "no story in event"})
		return
	}

	info := trace.Info{
		TraceID:  trace.NewTraceID(),
		Workflow: "triage",
		Metadata: map[string]string{"workspace": workspace, "story_id": storyID},
	}
	if err := s.traces.Save(workspace, storyID, info); err != nil {
		s.logger.Err(err).Str("story_id", storyID).Msg("saving trace info")
	}

	task := queue.NewTask(workspace, storyID, queue.TypeTriage,
		queue.WithPriority(queue.PriorityHigh),
		queue.WithPayload(map[string]any{
			"webhook_data": body,
			"trace_id":     info.TraceID,
		}))

	taskID, err := s.manager.AddTask(r.Context(), task)
	if err != nil {
		s.logger.Err(err).Str("story_id", storyID).Msg("enqueueing triage task")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "queue unavailable"})
		return
	}

	s.logger.InfoCtx("webhook accepted", map[string]any{
		"workspace": workspace,
		"story_id":  storyID,
		"task_id":   taskID,
		"trace_id":  info.TraceID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "task_id": taskID})
}

// storyFromEvent extracts the updated story's ID from a webhook body.
func storyFromEvent(body map[string]any) (string, bool) {
	actions, ok := body["actions"].([]any)
	if !ok {
		return "", false
	}
	for _, a := range actions {
		action, ok := a.(map[string]any)
		if !ok || action["entity_type"] != "story" {
			continue
		}
		switch id := action["id"].(type) {
		case string:
			return id, true
		case float64:
			return fmt.Sprintf("%.0f", id), true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
