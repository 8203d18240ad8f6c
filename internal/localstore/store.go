// Package localstore provides the durable client-side key/value store that
// survives restarts: the cart snapshot, the session token, and the active
// table number live here.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Well-known keys. The cart snapshot key is owned by the cart package; these
// cover the session-scoped extras.
const (
	KeySessionToken = "session_token"
	KeyTableNumber  = "active_table_number"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Store is a SQLite-backed key/value snapshot store. Reads never fail from
// the caller's point of view: corruption or I/O errors read as absence, per
// the recovery policy for local snapshots.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option tweaks store construction.
type Option func(*Store)

// WithLogger attaches a logger for swallowed read errors.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open creates or opens the store at path. Safe to call repeatedly on the
// same file.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("localstore: path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("localstore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: connect: %w", err)
	}

	// SQLite supports a single writer; keep one connection to avoid
	// SQLITE_BUSY under concurrent snapshot writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("localstore: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Read returns the stored value for key. Absence and read failures both
// report ok=false; a failure is logged but never surfaced.
func (s *Store) Read(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("localstore read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

// Write upserts the value for key.
func (s *Store) Write(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("localstore: write %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are a no-op.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("localstore: delete %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
