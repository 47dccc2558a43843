// Package configstore provides a durable key/value store backed by SQLite,
// used for settings and (via internal/bindings) routing rules.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("configstore: not found")

// Entry is one (key, value) pair returned by prefix scans.
type Entry struct {
	Key   string
	Value string
}

// Store is a durable string→string mapping with prefix scan support.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates/opens the SQLite-backed config store at path and ensures the
// app_config table and WAL pragmas are in place.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("configstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a standalone in-memory store, used by tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("configstore: init schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle. ledgerstore does not use it; it opens
// its own database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("configstore: get %s: %w", key, err)
	}
	return value, nil
}

// GetBool is sugar over Get: absent or non-"true" maps to false.
func (s *Store) GetBool(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// Set upserts key=value, stamping updated_at to now.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("configstore: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key, if present. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("configstore: delete %s: %w", key, err)
	}
	return nil
}

// GetByPrefix returns every entry whose key starts with prefix.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM app_config WHERE key GLOB ? ORDER BY key`,
		prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("configstore: prefix scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("configstore: scan row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate rows: %w", err)
	}
	return out, nil
}
