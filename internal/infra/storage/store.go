// Package storage provides the shared key-value store backing all
// persisted player state. The store is a single SQLite file that may be
// written by several playdeck processes at once; writes are
// last-writer-wins with no transactional isolation across processes.
package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// FileName is the database file name inside the data directory.
const FileName = "playdeck.db"

// Store is a string-keyed, JSON-valued store shared across processes.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	// Highest updated_at stamp this process has written or observed.
	// The watcher uses it to tell foreign writes from our own.
	highWater int64
}

// Open opens or creates the shared store in the given data directory.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	path := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}

	// WAL keeps concurrent readers from blocking while another
	// process persists queue state.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure store")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create kv table")
	}

	s := &Store{db: db, path: path}
	s.highWater = s.maxStamp()
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the raw value for key. The second result reports
// whether the key exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read key %q", key)
	}
	return []byte(value), true, nil
}

// Set writes the value for key, stamping it with the current time.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.nextStampLocked()
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), stamp)
	if err != nil {
		return errors.Wrapf(err, "failed to write key %q", key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Bump the high-water mark so a concurrent watcher in this
	// process does not mistake our own delete for a foreign write.
	s.nextStampLocked()
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "failed to delete key %q", key)
	}
	return nil
}

// Keys returns all keys with the given prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key FROM kv WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "failed to scan key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// foreignKeysSince returns keys stamped after the high-water mark,
// i.e. keys mutated by another process, and advances the mark.
func (s *Store) foreignKeysSince() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, updated_at FROM kv WHERE updated_at > ? ORDER BY updated_at`, s.highWater)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan for foreign writes")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		var stamp int64
		if err := rows.Scan(&k, &stamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan foreign write")
		}
		keys = append(keys, k)
		if stamp > s.highWater {
			s.highWater = stamp
		}
	}
	return keys, rows.Err()
}

// nextStampLocked returns a strictly increasing unix-millisecond stamp
// and records it as our own write. Must be called with mu held.
func (s *Store) nextStampLocked() int64 {
	stamp := time.Now().UnixMilli()
	if stamp <= s.highWater {
		stamp = s.highWater + 1
	}
	s.highWater = stamp
	return stamp
}

func (s *Store) maxStamp() int64 {
	var stamp sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(updated_at) FROM kv`).Scan(&stamp); err != nil {
		return 0
	}
	return stamp.Int64
}
