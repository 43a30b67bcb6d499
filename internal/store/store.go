// Package store persists session records and continuation edges in SQLite
// and owns the read side of transcripts. It is the single source of truth
// the chain cache is derived from.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hfolsom/lineage/internal/logging"
)

// ErrNotFound reports a session or edge absent from the store. Callers
// distinguish absence from failure with errors.Is.
var ErrNotFound = errors.New("not found")

// Store wraps the lineage database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at dbPath, creating file and schema as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				project TEXT NOT NULL DEFAULT '',
				transcript_path TEXT NOT NULL DEFAULT '',
				first_seen TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS continuation_edges (
				child_id TEXT PRIMARY KEY,
				parent_id TEXT NOT NULL,
				ord INTEGER NOT NULL DEFAULT 0,
				is_active INTEGER NOT NULL DEFAULT 0,
				is_orphaned INTEGER NOT NULL DEFAULT 0,
				detected_at TIMESTAMP,
				child_started_at TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_edges_parent ON continuation_edges(parent_id);
		`)
		if err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
		logging.Debug("store", "applied migration 1 (base tables)")
	}

	if version < 2 {
		_, err := s.db.Exec(`
			ALTER TABLE sessions ADD COLUMN last_scanned TIMESTAMP;
			CREATE INDEX IF NOT EXISTS idx_edges_orphaned
				ON continuation_edges(is_orphaned) WHERE is_orphaned = 1;
		`)
		if err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (2)`); err != nil {
			return err
		}
		logging.Debug("store", "applied migration 2 (last_scanned, orphan index)")
	}

	return nil
}

// Counts returns per-table row counts, for diagnostics.
func (s *Store) Counts() (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"sessions", "continuation_edges"} {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Clear removes all sessions and edges. Callers owning a cache must
// invalidate it afterwards.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM continuation_edges`); err != nil {
		return fmt.Errorf("failed to clear edges: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	return nil
}
