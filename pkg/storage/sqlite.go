package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/trackhub/pkg/logger"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore is the durable per-origin tier. One database file plays the
// role of one origin's local storage.
type SQLiteStore struct {
	db      *sql.DB
	enabled bool
	logger  logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for a throwaway tier. enabled=false keeps the database closed to reads
// and writes, mirroring a user who turned local storage off.
func NewSQLiteStore(path string, enabled bool, log logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db, enabled: enabled, logger: logger.OrDiscard(log)}, nil
}

// sqlitePingTimeout bounds the health check behind Enabled.
const sqlitePingTimeout = 500 * time.Millisecond

// Enabled reports whether the tier is open for use and the database
// answers a ping.
func (s *SQLiteStore) Enabled() bool {
	if !s.usable() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlitePingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Debug("Local tier ping failed", "error", err)
		return false
	}
	return true
}

func (s *SQLiteStore) usable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled && !s.closed
}

func (s *SQLiteStore) Get(key string) (string, bool) {
	if !s.usable() {
		return "", false
	}
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("Local tier read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *SQLiteStore) Set(key, value string) bool {
	if !s.usable() {
		return false
	}
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Debug("Local tier write failed", "key", key, "error", err)
		return false
	}
	return true
}

func (s *SQLiteStore) Remove(key string) bool {
	if !s.usable() {
		return false
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		s.logger.Debug("Local tier remove failed", "key", key, "error", err)
		return false
	}
	return true
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
