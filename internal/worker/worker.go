// Package worker implements the task polling loop that drains the queue
// and dispatches tasks to their registered handlers.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nathandonaldson/storytriage/internal/logging"
	"github.com/nathandonaldson/storytriage/internal/queue"
	"github.com/nathandonaldson/storytriage/internal/trace"
)

// Handler processes one claimed task. The returned map is stored as the
// task result on success.
type Handler func(ctx context.Context, task *queue.Task, info trace.Info) (map[string]any, error)

// Stats are runtime counters for a worker.
type Stats struct {
	Processed  int64     `json:"processed"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Active     int       `json:"active"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	LastTaskAt time.Time `json:"last_task_at,omitzero"`
}

// Worker polls the queue for pending tasks and runs them.
type Worker struct {
	manager         *queue.Manager
	traces          *trace.Store
	id              string
	types           []queue.Type
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	logger          *logging.Logger
	handlers        map[queue.Type]Handler

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	active  map[string]struct{}
	stats   Stats
}

// Option configures a Worker.
type Option func(*Worker)

// WithID sets the worker identifier used to claim tasks.
func WithID(id string) Option {
	return func(w *Worker) {
		w.id = id
	}
}

// WithTypes restricts the worker to the given task types, in claim order.
func WithTypes(types []queue.Type) Option {
	return func(w *Worker) {
		if len(types) > 0 {
			w.types = types
		}
	}
}

// WithPollInterval sets how long the worker sleeps when the queue is empty.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for active tasks.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *logging.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithHandler registers the handler for a task type.
func WithHandler(typ queue.Type, h Handler) Option {
	return func(w *Worker) {
		w.handlers[typ] = h
	}
}

// WithTraceStore sets the store used to correlate tasks with their
// originating webhook.
func WithTraceStore(s *trace.Store) Option {
	return func(w *Worker) {
		w.traces = s
	}
}

// New creates a worker bound to the queue manager.
func New(manager *queue.Manager, opts ...Option) *Worker {
	hostname, _ := os.Hostname()
	w := &Worker{
		manager:         manager,
		id:              fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		types:           queue.AllTypes(),
		pollInterval:    2 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          logging.Component("worker"),
		handlers:        make(map[queue.Type]Handler),
		active:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// Stats returns a snapshot of the runtime counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Active = len(w.active)
	return s
}

// Start runs the poll loop until the context is cancelled or Stop is
// called. It returns immediately with an error if the worker is already
// running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker %s already running", w.id)
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.stats.StartedAt = time.Now().UTC()
	w.mu.Unlock()

	w.logger.InfoCtx("worker started", map[string]any{
		"worker_id":     w.id,
		"task_types":    typeNames(w.types),
		"poll_interval": w.pollInterval.String(),
	})

	defer func() {
		w.mu.Lock()
		w.running = false
		stats := w.stats
		w.mu.Unlock()
		close(w.done)
		w.logger.InfoCtx("worker stopped", map[string]any{
			"worker_id": w.id,
			"processed": stats.Processed,
			"succeeded": stats.Succeeded,
			"failed":    stats.Failed,
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		default:
		}

		task, err := w.manager.GetNextTask(ctx, w.types, w.id)
		if err != nil {
			w.logger.Err(err).Msg("claiming next task")
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}
		if task == nil {
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		w.process(ctx, task)
	}
}

// Stop signals the poll loop to exit and waits for the active task to
// finish, up to the shutdown timeout.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(w.shutdownTimeout):
		w.logger.WarnCtx("shutdown timeout reached with tasks still active", map[string]any{
			"worker_id": w.id,
			"active":    w.Stats().Active,
		})
	}
}

// sleep waits one poll interval, returning false if the worker should exit.
func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-time.After(w.pollInterval):
		return true
	case <-w.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// process runs one claimed task through its handler and records the outcome.
func (w *Worker) process(ctx context.Context, task *queue.Task) {
	w.mu.Lock()
	w.active[task.ID] = struct{}{}
	w.stats.Processed++
	w.stats.LastTaskAt = time.Now().UTC()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.active, task.ID)
		w.mu.Unlock()
	}()

	info := w.traceInfo(task)
	log := w.logger.WithFields(map[string]any{
		"task_id":   task.ID,
		"task_type": string(task.Type),
		"trace_id":  info.TraceID,
		"story_id":  task.StoryID,
	})

	handler, ok := w.handlers[task.Type]
	if !ok {
		log.Warn("no handler registered for task type")
		w.recordFailure(ctx, task, fmt.Sprintf("no handler for task type %q", task.Type), true, log)
		return
	}

	log.Info("processing task")
	start := time.Now()

	result, err := w.invoke(ctx, handler, task, info)
	if err != nil {
		log.Err(err).Str("elapsed", time.Since(start).String()).Msg("task failed")
		w.recordFailure(ctx, task, err.Error(), true, log)
		return
	}

	if result == nil {
		result = make(map[string]any)
	}
	result["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	result["worker_id"] = w.id

	if err := w.manager.CompleteTask(ctx, task, result, w.id); err != nil {
		log.Err(err).Msg("recording task completion")
		return
	}

	w.mu.Lock()
	w.stats.Succeeded++
	w.mu.Unlock()
	log.InfoCtx("task completed", map[string]any{"elapsed": time.Since(start).String()})
}

// invoke runs the handler, converting a panic into an error so one bad
// task cannot take down the poll loop.
func (w *Worker) invoke(ctx context.Context, handler Handler, task *queue.Task, info trace.Info) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, task, info)
}

// recordFailure marks the task failed, counting terminal failures.
func (w *Worker) recordFailure(ctx context.Context, task *queue.Task, msg string, retry bool, log *logging.Logger) {
	if err := w.manager.FailTask(ctx, task, msg, retry, w.id); err != nil {
		log.Err(err).Msg("recording task failure")
		return
	}
	if task.Status == queue.StatusFailed {
		w.mu.Lock()
		w.stats.Failed++
		w.mu.Unlock()
	}
}

// traceInfo resolves the correlation trace for the task. The producer's
// trace_id in the payload wins, then the shared store, then a fresh mint.
func (w *Worker) traceInfo(task *queue.Task) trace.Info {
	if w.traces != nil {
		if info, ok := w.traces.Lookup(task.WorkspaceID, task.StoryID); ok {
			return info
		}
	}
	info := trace.Info{
		TraceID:  "trace_" + task.ID,
		Workflow: string(task.Type),
	}
	if id, ok := task.Payload["trace_id"].(string); ok && id != "" {
		info.TraceID = id
	}
	if w.traces != nil {
		if err := w.traces.Save(task.WorkspaceID, task.StoryID, info); err != nil {
			w.logger.Err(err).Str("task_id", task.ID).Msg("saving minted trace")
		}
	}
	return info
}

func typeNames(types []queue.Type) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
