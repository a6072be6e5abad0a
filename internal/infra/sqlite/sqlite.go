// Package sqlite is the durable store for the economy core.
//
// Every write goes through DB.InTx: one IMMEDIATE transaction that takes the
// database write lock at BEGIN, so read-modify-write sequences on a balance or
// an allowance never interleave. Busy/locked failures are retried as a whole
// unit with bounded exponential backoff.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/observability"
)

// FileName is the database file created inside the data directory.
const FileName = "episodia.db"

// RetryConfig bounds transaction retries on store contention.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     6,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// DB wraps the SQLite connection pool.
type DB struct {
	db    *sql.DB
	retry RetryConfig
}

// Open opens (creating if needed) the store in dir and applies migrations.
func Open(dir string) (*DB, error) {
	return OpenWithRetry(dir, DefaultRetryConfig())
}

// OpenWithRetry is Open with an explicit retry policy.
func OpenWithRetry(dir string, retry RetryConfig) (*DB, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	path := filepath.Join(filepath.Clean(dir), FileName)
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	db := &DB{db: sqlDB, retry: retry}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if db == nil || db.db == nil {
		return nil
	}
	return db.db.Close()
}

// Ping checks that the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// migrate applies every statement of Migrations() not yet recorded in
// schema_migrations. Each statement and its version row commit together.
func (db *DB) migrate() error {
	if _, err := db.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range Migrations() {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := db.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d %q: %w", version, firstLine(stmt), err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// InTx runs fn inside one write transaction. fn may be invoked more than once
// when the store is contended, so it must not leak state between attempts.
// Errors returned by fn abort the transaction and are returned unchanged.
func (db *DB) InTx(ctx context.Context, fn func(*Tx) error) error {
	start := time.Now()
	var opErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		opErr = db.runTx(ctx, fn)
		if opErr != nil && isBusy(opErr) {
			observability.StoreRetries.Inc()
			return struct{}{}, opErr
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(db.newBackOff()),
		backoff.WithMaxTries(db.retry.MaxAttempts),
	)
	observability.StoreTxDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if isBusy(err) {
			observability.StoreBusyFailures.Inc()
			return fmt.Errorf("%w: %v", domain.ErrStoreBusy, err)
		}
		return err
	}
	return opErr
}

func (db *DB) runTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = db.retry.InitialInterval
	b.MaxInterval = db.retry.MaxInterval
	return b
}

// isBusy reports whether err is SQLite lock contention worth retrying.
func isBusy(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// Tx is a single write transaction. It exposes only per-key atomic
// operations; callers compose them inside DB.InTx.
type Tx struct {
	tx *sql.Tx
}

// ─── Encoding helpers ───────────────────────────────────────────────────────

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
