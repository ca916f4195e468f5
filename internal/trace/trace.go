// Package trace carries correlation context across the webhook/worker
// process boundary. The webhook handler saves a correlation record keyed by
// (workspace, story); the worker looks it up before invoking a handler so a
// background task joins the trace of the synchronous request that spawned
// it. This is an explicit handoff through a small file-backed store, not
// ambient state.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Info is one correlation record.
type Info struct {
	TraceID  string            `json:"trace_id"`
	Workflow string            `json:"workflow_name"`
	GroupID  string            `json:"group_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SavedAt  time.Time         `json:"saved_at"`
}

// NewTraceID mints a fresh trace identifier.
func NewTraceID() string {
	return "trace_" + uuid.NewString()
}

// Store is a file-backed correlation store.
type Store struct {
	mu       sync.RWMutex
	filePath string
	records  map[string]Info
}

const storeFile = "traces.json"

// DefaultStorePath returns the default trace store directory.
func DefaultStorePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "storytriage", "trace")
}

// NewStore creates a Store, loading existing records if present.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultStorePath()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating trace dir: %w", err)
	}

	s := &Store{
		filePath: filepath.Join(dir, storeFile),
		records:  make(map[string]Info),
	}

	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading trace store: %w", err)
	}

	return s, nil
}

func key(workspaceID, storyID string) string {
	return workspaceID + ":" + storyID
}

// Save records correlation info for a (workspace, story) pair, stamping
// SavedAt, and persists the store. On-disk records from other processes are
// merged in before writing so a save never erases them.
func (s *Store) Save(workspaceID, storyID string, info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh()
	info.SavedAt = time.Now()
	s.records[key(workspaceID, storyID)] = info
	return s.save()
}

// Lookup returns the correlation info for a (workspace, story) pair. The
// webhook server and the worker are separate processes sharing only the
// store file, so a miss re-reads it before giving up.
func (s *Store) Lookup(workspaceID, storyID string) (Info, bool) {
	s.mu.RLock()
	info, ok := s.records[key(workspaceID, storyID)]
	s.mu.RUnlock()
	if ok {
		return info, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	info, ok = s.records[key(workspaceID, storyID)]
	return info, ok
}

// Prune removes records older than maxAge and returns how many were
// removed.
func (s *Store) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for k, info := range s.records {
		if info.SavedAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	if removed > 0 {
		_ = s.save()
	}
	return removed
}

// load reads records from disk. Caller need not hold the lock; only called
// from NewStore.
func (s *Store) load() error {
	loaded, err := s.readDisk()
	if err != nil {
		return err
	}
	s.records = loaded
	return nil
}

// refresh merges on-disk records into memory, taking the newer SavedAt when
// both sides hold a key. Must be called with the write lock held.
func (s *Store) refresh() {
	loaded, err := s.readDisk()
	if err != nil {
		return
	}
	for k, info := range loaded {
		if have, ok := s.records[k]; !ok || info.SavedAt.After(have.SavedAt) {
			s.records[k] = info
		}
	}
}

func (s *Store) readDisk() (map[string]Info, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}

	var loaded map[string]Info
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing trace store: %w", err)
	}
	if loaded == nil {
		loaded = make(map[string]Info)
	}
	return loaded, nil
}

// save writes records to disk atomically. Must be called with lock held.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling trace store: %w", err)
	}

	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("writing trace store: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("renaming trace store: %w", err)
	}

	return nil
}
