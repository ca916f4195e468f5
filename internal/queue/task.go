// Package queue implements the priority task queue that decouples webhook
// ingestion from background agent execution. Tasks are persisted through a
// pluggable Backend; pending work lives in one sorted set per task type,
// scored by priority (lower score = more urgent).
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of work a task carries.
type Type string

const (
	TypeTriage      Type = "triage"
	TypeAnalysis    Type = "analysis"
	TypeEnhancement Type = "enhancement"
	TypeUpdate      Type = "update"
)

// AllTypes returns every task type in default drain order.
func AllTypes() []Type {
	return []Type{TypeTriage, TypeAnalysis, TypeEnhancement, TypeUpdate}
}

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case TypeTriage, TypeAnalysis, TypeEnhancement, TypeUpdate:
		return true
	}
	return false
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

// Priority tiers. Lower value wins.
const (
	PriorityHigh   = 10
	PriorityNormal = 20
	PriorityLow    = 30
)

// DefaultMaxRetries bounds the retry loop for a single task.
const DefaultMaxRetries = 3

// Task is one unit of background work. The ID is assigned at creation and
// never changes; every state transition rewrites the same stored record.
type Task struct {
	ID          string         `json:"task_id"`
	WorkspaceID string         `json:"workspace_id"`
	StoryID     string         `json:"story_id"`
	Type        Type           `json:"task_type"`
	Priority    int            `json:"priority"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	Payload     map[string]any `json:"payload"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// TaskOption configures a new task.
type TaskOption func(*Task)

// WithPriority sets the priority tier.
func WithPriority(p int) TaskOption {
	return func(t *Task) {
		t.Priority = p
	}
}

// WithPayload sets the task payload.
func WithPayload(payload map[string]any) TaskOption {
	return func(t *Task) {
		t.Payload = payload
	}
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) TaskOption {
	return func(t *Task) {
		t.MaxRetries = n
	}
}

// NewTask creates a pending task with a fresh ID and defaults.
func NewTask(workspaceID, storyID string, typ Type, opts ...TaskOption) *Task {
	t := &Task{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		StoryID:     storyID,
		Type:        typ,
		Priority:    PriorityNormal,
		Status:      StatusPending,
		MaxRetries:  DefaultMaxRetries,
		Payload:     map[string]any{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// retryScore is the pending-queue score for a task being re-enqueued after a
// failure. Each retry moves the task ahead of same-tier newcomers, clamped so
// it can never reach the next tier's baseline (a LOW task bottoms out at 21,
// still behind every NORMAL task).
func retryScore(t *Task) float64 {
	score := t.Priority - t.RetryCount
	if floor := t.Priority - 9; score < floor {
		score = floor
	}
	return float64(score)
}
