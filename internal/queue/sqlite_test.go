package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	b, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLitePutGet(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	if err := b.Put(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want v1", got)
	}

	// Overwrite
	if err := b.Put(ctx, "k1", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err = b.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Get = %q, want v2", got)
	}

	if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSortedSet(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	added, err := b.SortedAddNX(ctx, "q", "a", 20)
	if err != nil {
		t.Fatalf("SortedAddNX: %v", err)
	}
	if !added {
		t.Error("first add should report added")
	}

	// NX: re-adding with a different score keeps the original
	added, err = b.SortedAddNX(ctx, "q", "a", 5)
	if err != nil {
		t.Fatalf("SortedAddNX: %v", err)
	}
	if added {
		t.Error("second add should be a no-op")
	}

	if err := b.SortedAdd(ctx, "q", "b", 10); err != nil {
		t.Fatalf("SortedAdd: %v", err)
	}

	n, err := b.SortedCount(ctx, "q")
	if err != nil {
		t.Fatalf("SortedCount: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	// Pops come back lowest score first
	member, ok, err := b.SortedPopMin(ctx, "q")
	if err != nil || !ok {
		t.Fatalf("SortedPopMin: ok=%v err=%v", ok, err)
	}
	if member != "b" {
		t.Errorf("popped %q, want b", member)
	}

	member, ok, err = b.SortedPopMin(ctx, "q")
	if err != nil || !ok {
		t.Fatalf("SortedPopMin: ok=%v err=%v", ok, err)
	}
	if member != "a" {
		t.Errorf("popped %q, want a", member)
	}

	_, ok, err = b.SortedPopMin(ctx, "q")
	if err != nil {
		t.Fatalf("SortedPopMin empty: %v", err)
	}
	if ok {
		t.Error("pop from empty set should report not ok")
	}
}

func TestSQLiteSortedPopMinTieBreaksOnMember(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	if err := b.SortedAdd(ctx, "q", "bbb", 10); err != nil {
		t.Fatalf("SortedAdd: %v", err)
	}
	if err := b.SortedAdd(ctx, "q", "aaa", 10); err != nil {
		t.Fatalf("SortedAdd: %v", err)
	}

	member, ok, err := b.SortedPopMin(ctx, "q")
	if err != nil || !ok {
		t.Fatalf("SortedPopMin: ok=%v err=%v", ok, err)
	}
	if member != "aaa" {
		t.Errorf("popped %q, want aaa (member tie-break)", member)
	}
}

func TestSQLiteSortedRemoveBelow(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	for member, score := range map[string]float64{"old": 100, "edge": 200, "new": 300} {
		if err := b.SortedAdd(ctx, "idx", member, score); err != nil {
			t.Fatalf("SortedAdd: %v", err)
		}
	}

	removed, err := b.SortedRemoveBelow(ctx, "idx", 200)
	if err != nil {
		t.Fatalf("SortedRemoveBelow: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2 (cutoff is inclusive)", removed)
	}

	n, err := b.SortedCount(ctx, "idx")
	if err != nil {
		t.Fatalf("SortedCount: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSQLiteSets(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	if err := b.SetAdd(ctx, "processing:w1", "t1"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}
	// Duplicate add is a no-op
	if err := b.SetAdd(ctx, "processing:w1", "t1"); err != nil {
		t.Fatalf("SetAdd dup: %v", err)
	}
	if err := b.SetAdd(ctx, "processing:w2", "t2"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}

	n, err := b.SetCount(ctx, "processing:w1")
	if err != nil {
		t.Fatalf("SetCount: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	keys, err := b.SetKeys(ctx, "processing:")
	if err != nil {
		t.Fatalf("SetKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want 2 entries", keys)
	}

	if err := b.SetRemove(ctx, "processing:w1", "t1"); err != nil {
		t.Fatalf("SetRemove: %v", err)
	}
	n, err = b.SetCount(ctx, "processing:w1")
	if err != nil {
		t.Fatalf("SetCount: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0 after removal", n)
	}
}
