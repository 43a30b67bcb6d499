package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hfolsom/lineage/internal/session"
)

// UpsertSession records a session, refreshing its location and scan time
// while preserving first_seen across re-scans.
func (s *Store) UpsertSession(rec *session.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project, transcript_path, first_seen, last_scanned)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project = excluded.project,
			transcript_path = excluded.transcript_path,
			last_scanned = excluded.last_scanned
	`, rec.ID, rec.Project, rec.TranscriptPath, rec.FirstSeen, nullTime(rec.LastScanned))
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves one session record by id.
func (s *Store) GetSession(id string) (*session.Record, error) {
	row := s.db.QueryRow(`
		SELECT id, project, transcript_path, first_seen, last_scanned
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// SessionExists reports whether a session record exists for id.
func (s *Store) SessionExists(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// AllSessions returns every session record, ordered by project then id.
func (s *Store) AllSessions() ([]*session.Record, error) {
	rows, err := s.db.Query(`
		SELECT id, project, transcript_path, first_seen, last_scanned
		FROM sessions ORDER BY project, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []*session.Record
	for rows.Next() {
		rec, err := scanSessionRow(rows)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TranscriptPath resolves a session id to its transcript location.
func (s *Store) TranscriptPath(id string) (string, error) {
	rec, err := s.GetSession(id)
	if err != nil {
		return "", err
	}
	if rec.TranscriptPath == "" {
		return "", fmt.Errorf("session %s has no transcript path", id)
	}
	return rec.TranscriptPath, nil
}

// OpenTranscript opens the ordered event stream recorded for a session.
func (s *Store) OpenTranscript(id string) (io.ReadCloser, error) {
	path, err := s.TranscriptPath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	return f, nil
}

func scanSession(row *sql.Row) (*session.Record, error) {
	var rec session.Record
	var firstSeen, lastScanned sql.NullTime
	err := row.Scan(&rec.ID, &rec.Project, &rec.TranscriptPath, &firstSeen, &lastScanned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if firstSeen.Valid {
		rec.FirstSeen = firstSeen.Time
	}
	if lastScanned.Valid {
		rec.LastScanned = lastScanned.Time
	}
	return &rec, nil
}

func scanSessionRow(rows *sql.Rows) (*session.Record, error) {
	var rec session.Record
	var firstSeen, lastScanned sql.NullTime
	if err := rows.Scan(&rec.ID, &rec.Project, &rec.TranscriptPath, &firstSeen, &lastScanned); err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}
	if firstSeen.Valid {
		rec.FirstSeen = firstSeen.Time
	}
	if lastScanned.Valid {
		rec.LastScanned = lastScanned.Time
	}
	return &rec, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
