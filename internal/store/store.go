// Package store implements the durable sqlite store shared by all workers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database. It is the only resource shared across
// tenant workers; concurrent writers are made safe by WAL mode, the
// busy_timeout pragma, and a bounded retry on lock contention.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op when the column exists).
	_, _ = db.Exec(`ALTER TABLE links ADD COLUMN tag TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE messages ADD COLUMN media_type TEXT`)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read-only collaborators.
func (s *Store) DB() *sql.DB {
	return s.db
}

const (
	busyRetries   = 5
	busyBaseSleep = 20 * time.Millisecond
)

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// execRetry runs fn, retrying a bounded number of times when sqlite reports
// lock contention. The sleep doubles per attempt so a stalled writer never
// blocks another tenant indefinitely.
func execRetry(ctx context.Context, fn func() error) error {
	sleep := busyBaseSleep
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		slog.Debug("store: busy, retrying", "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return fmt.Errorf("store contention: %w", err)
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// SetSetting stores a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			key, value)
		return err
	})
}

// GetSetting returns the value for key, or "" if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
