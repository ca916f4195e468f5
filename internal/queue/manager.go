package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nathandonaldson/storytriage/internal/logging"
)

// Key namespaces, shared by every backend.
const (
	taskKeyPrefix       = "task:"
	pendingKeyPrefix    = "task_queue:pending:"
	processingKeyPrefix = "processing:"
	completeKey         = "complete:"
	failedKey           = "failed:"
)

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func pendingKey(typ Type) string {
	return pendingKeyPrefix + string(typ)
}

func processingKey(workerID string) string {
	return processingKeyPrefix + workerID
}

// Stats aggregates queue counts for observability.
type Stats struct {
	Queued     map[Type]int64 `json:"queued"`
	Processing int64          `json:"processing"`
	Completed  int64          `json:"completed"`
	Failed     int64          `json:"failed"`
}

// Manager is the queue API surface: enqueueing, claiming, completion,
// failure/retry, stats, and retention cleanup. Construct one per process and
// inject it; there is no package-level instance.
type Manager struct {
	backend Backend
	logger  *logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a queue manager over the given backend.
func NewManager(backend Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		logger:  logging.Component("queue"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close releases the underlying backend connection.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// AddTask persists the task record and inserts it into its type's pending
// queue. Double-enqueueing the same task ID is a membership no-op; the
// returned ID is authoritative either way. A backend error means the task is
// neither confirmed added nor retrievable.
func (m *Manager) AddTask(ctx context.Context, t *Task) (string, error) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusPending
	}

	if err := m.putTask(ctx, t); err != nil {
		return "", err
	}

	added, err := m.backend.SortedAddNX(ctx, pendingKey(t.Type), t.ID, float64(t.Priority))
	if err != nil {
		return "", fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	if !added {
		m.logger.WarnCtx("task already enqueued", map[string]any{"task_id": t.ID})
	}

	m.logger.InfoCtx("task added", map[string]any{
		"task_id":   t.ID,
		"task_type": t.Type,
		"priority":  t.Priority,
	})
	return t.ID, nil
}

// GetTask returns the stored task record, or ErrNotFound. Queue membership
// is unaffected.
func (m *Manager) GetTask(ctx context.Context, id string) (*Task, error) {
	data, err := m.backend.Get(ctx, taskKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTask overwrites the stored record, refreshing updated_at.
func (m *Manager) UpdateTask(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	return m.putTask(ctx, t)
}

func (m *Manager) putTask(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", t.ID, err)
	}
	if err := m.backend.Put(ctx, taskKey(t.ID), data); err != nil {
		return fmt.Errorf("storing task %s: %w", t.ID, err)
	}
	return nil
}

// GetNextTask claims the most urgent task across the requested types,
// checked in the caller-supplied order: the first type with a non-empty
// queue wins, so the order acts as inter-type priority. The claim is an
// atomic pop; the task is marked processing and recorded in the worker's
// processing set. Returns (nil, nil) when every requested queue is empty.
//
// A popped ID with no stored record is logged and skipped; scanning
// continues within the same queue.
func (m *Manager) GetNextTask(ctx context.Context, types []Type, workerID string) (*Task, error) {
	if len(types) == 0 {
		types = AllTypes()
	}

	for _, typ := range types {
		for {
			id, ok, err := m.backend.SortedPopMin(ctx, pendingKey(typ))
			if err != nil {
				return nil, fmt.Errorf("claiming from %s queue: %w", typ, err)
			}
			if !ok {
				break
			}

			task, err := m.GetTask(ctx, id)
			if errors.Is(err, ErrNotFound) {
				m.logger.WarnCtx("queued task has no stored record, skipping", map[string]any{
					"task_id":   id,
					"task_type": typ,
				})
				continue
			}
			if err != nil {
				return nil, err
			}

			task.Status = StatusProcessing
			if err := m.UpdateTask(ctx, task); err != nil {
				return nil, err
			}
			if err := m.backend.SetAdd(ctx, processingKey(workerID), task.ID); err != nil {
				return nil, fmt.Errorf("tracking claim for %s: %w", workerID, err)
			}

			m.logger.InfoCtx("task claimed", map[string]any{
				"task_id":   task.ID,
				"task_type": task.Type,
				"worker_id": workerID,
			})
			return task, nil
		}
	}

	return nil, nil
}

// CompleteTask marks the task completed with its result, releases the
// worker's claim, and records it in the time-ordered completed index.
func (m *Manager) CompleteTask(ctx context.Context, t *Task, result map[string]any, workerID string) error {
	t.Status = StatusCompleted
	t.Result = result

	if err := m.UpdateTask(ctx, t); err != nil {
		return err
	}
	if err := m.backend.SetRemove(ctx, processingKey(workerID), t.ID); err != nil {
		return fmt.Errorf("releasing claim for %s: %w", workerID, err)
	}
	if err := m.backend.SortedAdd(ctx, completeKey, t.ID, float64(time.Now().Unix())); err != nil {
		return fmt.Errorf("indexing completed task %s: %w", t.ID, err)
	}

	m.logger.InfoCtx("task completed", map[string]any{
		"task_id":   t.ID,
		"worker_id": workerID,
	})
	return nil
}

// FailTask records a failure. When retry is requested and the retry budget
// is not exhausted, the task re-enters its pending queue at a boosted score
// (ahead of same-tier newcomers, never ahead of a strictly higher tier).
// Otherwise the failure is permanent and the task joins the failed index.
// Either way the worker's claim is released.
func (m *Manager) FailTask(ctx context.Context, t *Task, taskErr string, retry bool, workerID string) error {
	t.Error = taskErr

	requeue := retry && t.RetryCount < t.MaxRetries
	if requeue {
		t.RetryCount++
		t.Status = StatusRetry
	} else {
		t.Status = StatusFailed
	}

	// Persist the incremented retry count before the task becomes
	// claimable again, or a concurrent pop re-reads the stale count.
	if err := m.UpdateTask(ctx, t); err != nil {
		return err
	}

	if requeue {
		if err := m.backend.SortedAdd(ctx, pendingKey(t.Type), t.ID, retryScore(t)); err != nil {
			return fmt.Errorf("requeueing task %s: %w", t.ID, err)
		}
		m.logger.InfoCtx("task failed, retrying", map[string]any{
			"task_id": t.ID,
			"attempt": t.RetryCount,
			"max":     t.MaxRetries,
		})
	} else {
		if err := m.backend.SortedAdd(ctx, failedKey, t.ID, float64(time.Now().Unix())); err != nil {
			return fmt.Errorf("indexing failed task %s: %w", t.ID, err)
		}
		m.logger.WarnCtx("task failed permanently", map[string]any{
			"task_id": t.ID,
			"error":   taskErr,
		})
	}
	if err := m.backend.SetRemove(ctx, processingKey(workerID), t.ID); err != nil {
		return fmt.Errorf("releasing claim for %s: %w", workerID, err)
	}
	return nil
}

// Stats returns aggregate queue counts. It does not mutate state.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Queued: make(map[Type]int64)}

	for _, typ := range AllTypes() {
		n, err := m.backend.SortedCount(ctx, pendingKey(typ))
		if err != nil {
			return nil, fmt.Errorf("counting %s queue: %w", typ, err)
		}
		stats.Queued[typ] = n
	}

	workers, err := m.backend.SetKeys(ctx, processingKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing processing sets: %w", err)
	}
	for _, key := range workers {
		n, err := m.backend.SetCount(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", key, err)
		}
		stats.Processing += n
	}

	if stats.Completed, err = m.backend.SortedCount(ctx, completeKey); err != nil {
		return nil, fmt.Errorf("counting completed index: %w", err)
	}
	if stats.Failed, err = m.backend.SortedCount(ctx, failedKey); err != nil {
		return nil, fmt.Errorf("counting failed index: %w", err)
	}

	return stats, nil
}

// CleanOldTasks removes completed/failed index entries older than the given
// number of days and returns how many were removed. Task bodies are left in
// place; the indexes are the retention authority.
func (m *Manager) CleanOldTasks(ctx context.Context, days int) (int64, error) {
	cutoff := float64(time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix())

	completed, err := m.backend.SortedRemoveBelow(ctx, completeKey, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning completed index: %w", err)
	}
	failed, err := m.backend.SortedRemoveBelow(ctx, failedKey, cutoff)
	if err != nil {
		return completed, fmt.Errorf("cleaning failed index: %w", err)
	}

	total := completed + failed
	m.logger.InfoCtx("cleaned old tasks", map[string]any{
		"removed":   total,
		"completed": completed,
		"failed":    failed,
	})
	return total, nil
}
