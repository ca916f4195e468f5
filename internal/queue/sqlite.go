package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the queue keyspace in an embedded SQLite database.
// It serves local development, single-host deployments, and tests; the
// Redis backend is the shared-backend choice for multi-worker setups.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "storytriage", "storytriage.db")
}

// OpenSQLite opens or creates the database, applies pragmas, and runs
// migrations.
func OpenSQLite(dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}

	resolved := expandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteBackend{db: db, path: resolved}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// Ping verifies the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO records (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (b *SQLiteBackend) SortedAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO sorted_sets (key, member, score) VALUES (?, ?, ?)
		ON CONFLICT(key, member) DO NOTHING`, key, member, score)
	if err != nil {
		return false, fmt.Errorf("sorted add nx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *SQLiteBackend) SortedAdd(ctx context.Context, key, member string, score float64) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sorted_sets (key, member, score) VALUES (?, ?, ?)
		ON CONFLICT(key, member) DO UPDATE SET score = excluded.score`, key, member, score)
	if err != nil {
		return fmt.Errorf("sorted add %s: %w", key, err)
	}
	return nil
}

// SortedPopMin removes and returns the lowest-score member inside one
// transaction so concurrent claimers never see the same member.
func (b *SQLiteBackend) SortedPopMin(ctx context.Context, key string) (string, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin pop %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var member string
	err = tx.QueryRowContext(ctx, `
		SELECT member FROM sorted_sets
		WHERE key = ? ORDER BY score, member LIMIT 1`, key).Scan(&member)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop select %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sorted_sets WHERE key = ? AND member = ?`, key, member); err != nil {
		return "", false, fmt.Errorf("pop delete %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("pop commit %s: %w", key, err)
	}
	return member, true, nil
}

func (b *SQLiteBackend) SortedCount(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sorted_sets WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sorted count %s: %w", key, err)
	}
	return n, nil
}

func (b *SQLiteBackend) SortedRemoveBelow(ctx context.Context, key string, max float64) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM sorted_sets WHERE key = ? AND score <= ?`, key, max)
	if err != nil {
		return 0, fmt.Errorf("sorted remove %s: %w", key, err)
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) SetAdd(ctx context.Context, key, member string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO set_members (key, member) VALUES (?, ?)
		ON CONFLICT(key, member) DO NOTHING`, key, member)
	if err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) SetRemove(ctx context.Context, key, member string) error {
	_, err := b.db.ExecContext(ctx, `
		DELETE FROM set_members WHERE key = ? AND member = ?`, key, member)
	if err != nil {
		return fmt.Errorf("set remove %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) SetCount(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM set_members WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("set count %s: %w", key, err)
	}
	return n, nil
}

func (b *SQLiteBackend) SetKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT DISTINCT key FROM set_members WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("set keys %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
