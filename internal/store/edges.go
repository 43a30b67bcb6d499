package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Edge is one continuation relationship: the child session resumed the
// parent session's compacted context. At most one edge exists per child;
// re-detection replaces it.
type Edge struct {
	ChildID        string    `json:"child_id"`
	ParentID       string    `json:"parent_id"`
	Ord            int       `json:"order"`
	IsActive       bool      `json:"is_active"`
	IsOrphaned     bool      `json:"is_orphaned"`
	DetectedAt     time.Time `json:"detected_at"`
	ChildStartedAt time.Time `json:"child_started_at"`
}

// OrphanEdge joins an orphaned edge with the child session's location,
// which is where healing re-scans.
type OrphanEdge struct {
	Edge
	Project        string `json:"project"`
	TranscriptPath string `json:"transcript_path"`
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertEdge stores one edge, replacing any prior edge for the same child.
func (s *Store) UpsertEdge(e *Edge) error {
	return upsertEdge(s.db, e)
}

// UpsertEdges applies a whole batch of edges in one transaction, so readers
// never observe a partially updated graph.
func (s *Store) UpsertEdges(edges []*Edge) error {
	if len(edges) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, e := range edges {
		if err := upsertEdge(tx, e); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edge batch: %w", err)
	}
	return nil
}

func upsertEdge(ex execer, e *Edge) error {
	if e.ChildID == "" || e.ParentID == "" {
		return fmt.Errorf("edge requires child_id and parent_id")
	}
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now()
	}

	_, err := ex.Exec(`
		INSERT INTO continuation_edges
			(child_id, parent_id, ord, is_active, is_orphaned, detected_at, child_started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(child_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			ord = excluded.ord,
			is_active = excluded.is_active,
			is_orphaned = excluded.is_orphaned,
			detected_at = excluded.detected_at,
			child_started_at = excluded.child_started_at
	`, e.ChildID, e.ParentID, e.Ord, e.IsActive, e.IsOrphaned, e.DetectedAt, nullTime(e.ChildStartedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

// GetEdge retrieves the edge recorded for a child id.
func (s *Store) GetEdge(childID string) (*Edge, error) {
	row := s.db.QueryRow(`
		SELECT child_id, parent_id, ord, is_active, is_orphaned, detected_at, child_started_at
		FROM continuation_edges WHERE child_id = ?
	`, childID)
	return scanEdge(row)
}

// ParentOf returns the parent recorded for child, with ok=false when the
// child has no edge. This is the lookup chain walks are built on.
func (s *Store) ParentOf(childID string) (string, bool, error) {
	var parent string
	err := s.db.QueryRow(`SELECT parent_id FROM continuation_edges WHERE child_id = ?`, childID).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up parent: %w", err)
	}
	return parent, true, nil
}

// EdgesByParent returns a session's direct children in sibling order.
func (s *Store) EdgesByParent(parentID string) ([]*Edge, error) {
	rows, err := s.db.Query(`
		SELECT child_id, parent_id, ord, is_active, is_orphaned, detected_at, child_started_at
		FROM continuation_edges WHERE parent_id = ?
		ORDER BY ord, child_id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges by parent: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// AllEdges returns the full edge set.
func (s *Store) AllEdges() ([]*Edge, error) {
	rows, err := s.db.Query(`
		SELECT child_id, parent_id, ord, is_active, is_orphaned, detected_at, child_started_at
		FROM continuation_edges
		ORDER BY parent_id, ord, child_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// OrphanEdges returns edges whose declared parent has no session record,
// joined with the child transcript's location. The query is live; the
// stored is_orphaned flag is advisory state for consumers.
func (s *Store) OrphanEdges() ([]*OrphanEdge, error) {
	return s.queryOrphans(`p.id IS NULL`)
}

// FlaggedOrphanEdges returns edges still carrying the is_orphaned flag,
// whether or not the parent record has since appeared. This is the heal
// queue: a flagged edge whose parent now exists is repairable.
func (s *Store) FlaggedOrphanEdges() ([]*OrphanEdge, error) {
	return s.queryOrphans(`e.is_orphaned = 1`)
}

func (s *Store) queryOrphans(cond string) ([]*OrphanEdge, error) {
	rows, err := s.db.Query(`
		SELECT e.child_id, e.parent_id, e.ord, e.is_active, e.is_orphaned,
			e.detected_at, e.child_started_at,
			COALESCE(c.project, ''), COALESCE(c.transcript_path, '')
		FROM continuation_edges e
		LEFT JOIN sessions p ON p.id = e.parent_id
		LEFT JOIN sessions c ON c.id = e.child_id
		WHERE ` + cond + `
		ORDER BY e.parent_id, e.ord, e.child_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan edges: %w", err)
	}
	defer rows.Close()

	var orphans []*OrphanEdge
	for rows.Next() {
		var o OrphanEdge
		var detectedAt, startedAt sql.NullTime
		err := rows.Scan(&o.ChildID, &o.ParentID, &o.Ord, &o.IsActive, &o.IsOrphaned,
			&detectedAt, &startedAt, &o.Project, &o.TranscriptPath)
		if err != nil {
			continue
		}
		if detectedAt.Valid {
			o.DetectedAt = detectedAt.Time
		}
		if startedAt.Valid {
			o.ChildStartedAt = startedAt.Time
		}
		orphans = append(orphans, &o)
	}
	return orphans, rows.Err()
}

// SetOrphaned updates the advisory orphan flag on a child's edge.
func (s *Store) SetOrphaned(childID string, orphaned bool) error {
	res, err := s.db.Exec(`UPDATE continuation_edges SET is_orphaned = ? WHERE child_id = ?`, orphaned, childID)
	if err != nil {
		return fmt.Errorf("failed to update orphan flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEdges returns the total number of continuation edges.
func (s *Store) CountEdges() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM continuation_edges`).Scan(&n)
	return n, err
}

// CountOrphans returns the number of edges whose parent has no session
// record, per the same live join OrphanEdges uses.
func (s *Store) CountOrphans() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM continuation_edges e
		LEFT JOIN sessions p ON p.id = e.parent_id
		WHERE p.id IS NULL
	`).Scan(&n)
	return n, err
}

func scanEdge(row *sql.Row) (*Edge, error) {
	var e Edge
	var detectedAt, startedAt sql.NullTime
	err := row.Scan(&e.ChildID, &e.ParentID, &e.Ord, &e.IsActive, &e.IsOrphaned, &detectedAt, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan edge: %w", err)
	}
	if detectedAt.Valid {
		e.DetectedAt = detectedAt.Time
	}
	if startedAt.Valid {
		e.ChildStartedAt = startedAt.Time
	}
	return &e, nil
}

func collectEdges(rows *sql.Rows) ([]*Edge, error) {
	var edges []*Edge
	for rows.Next() {
		var e Edge
		var detectedAt, startedAt sql.NullTime
		if err := rows.Scan(&e.ChildID, &e.ParentID, &e.Ord, &e.IsActive, &e.IsOrphaned, &detectedAt, &startedAt); err != nil {
			continue
		}
		if detectedAt.Valid {
			e.DetectedAt = detectedAt.Time
		}
		if startedAt.Valid {
			e.ChildStartedAt = startedAt.Time
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
