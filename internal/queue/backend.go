package queue

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record key has no stored value.
var ErrNotFound = errors.New("queue: not found")

// Backend is the persistence surface the queue manager runs on. It exposes
// the three primitives the queue needs: a key/value record store for task
// bodies, sorted sets for the pending queues and terminal indexes, and plain
// sets for per-worker processing bookkeeping.
//
// Implementations must make SortedPopMin atomic with respect to concurrent
// callers: two pops must never return the same member.
type Backend interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SortedAddNX inserts member with score unless already present.
	// Returns true if the member was inserted.
	SortedAddNX(ctx context.Context, key, member string, score float64) (bool, error)
	// SortedAdd inserts or updates member with score.
	SortedAdd(ctx context.Context, key, member string, score float64) error
	// SortedPopMin atomically removes and returns the lowest-score member.
	// ok is false when the set is empty.
	SortedPopMin(ctx context.Context, key string) (member string, ok bool, err error)
	// SortedCount returns the number of members in the sorted set.
	SortedCount(ctx context.Context, key string) (int64, error)
	// SortedRemoveBelow removes members with score <= max and returns how
	// many were removed.
	SortedRemoveBelow(ctx context.Context, key string, max float64) (int64, error)

	// SetAdd adds member to the set under key.
	SetAdd(ctx context.Context, key, member string) error
	// SetRemove removes member from the set under key.
	SetRemove(ctx context.Context, key, member string) error
	// SetCount returns the number of members in the set.
	SetCount(ctx context.Context, key string) (int64, error)
	// SetKeys lists the set keys that start with prefix.
	SetKeys(ctx context.Context, prefix string) ([]string, error)
}
