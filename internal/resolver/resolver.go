// Package resolver turns detection results into the persisted, validated
// continuation edge set. It owns every edge write, so cache invalidation
// happens here, synchronously with each mutation.
package resolver

import (
	"fmt"
	"sort"
	"time"

	"github.com/hfolsom/lineage/internal/chaincache"
	"github.com/hfolsom/lineage/internal/detect"
	"github.com/hfolsom/lineage/internal/logging"
	"github.com/hfolsom/lineage/internal/store"
)

// DefaultMaxDepth caps upward chain walks. Anything deeper is treated as a
// structural violation, not a longer chain.
const DefaultMaxDepth = 100

// ParentLookup resolves a session id to its parent id; ok=false means the
// session has no parent edge and ends the walk.
type ParentLookup func(id string) (string, bool)

// ErrorKind classifies structural chain violations.
type ErrorKind string

const (
	KindCircularReference ErrorKind = "circular_reference"
	KindDepthExceeded     ErrorKind = "depth_exceeded"
)

// ChainError is a typed structural validation failure. Limit carries the
// configured bound so reports name it instead of a silent truncation.
type ChainError struct {
	Kind  ErrorKind
	At    string
	Limit int
}

func (e *ChainError) Error() string {
	switch e.Kind {
	case KindCircularReference:
		return fmt.Sprintf("circular reference detected at session %s", e.At)
	case KindDepthExceeded:
		return fmt.Sprintf("chain at session %s exceeds maximum depth %d", e.At, e.Limit)
	}
	return fmt.Sprintf("chain validation failed at %s", e.At)
}

// ValidateChain walks parent links from start until a parentless session,
// a revisit, or the depth limit. It returns the measured depth on success,
// or a *ChainError naming the violation and the configured limit.
func ValidateChain(start string, parents ParentLookup, maxDepth int) (int, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	visited := map[string]bool{start: true}
	current := start
	depth := 0
	for {
		parent, ok := parents(current)
		if !ok {
			return depth, nil
		}
		if visited[parent] {
			return depth, &ChainError{Kind: KindCircularReference, At: parent, Limit: maxDepth}
		}
		depth++
		if depth > maxDepth {
			return depth, &ChainError{Kind: KindDepthExceeded, At: parent, Limit: maxDepth}
		}
		visited[parent] = true
		current = parent
	}
}

// FindRootParent walks parent links from id to the terminal parentless
// session. On cyclic input the visited set guarantees termination: the
// first revisited session is returned.
func FindRootParent(id string, parents ParentLookup) string {
	visited := map[string]bool{id: true}
	current := id
	for {
		parent, ok := parents(current)
		if !ok {
			return current
		}
		if visited[parent] {
			return parent
		}
		visited[parent] = true
		current = parent
	}
}

// Resolver binds the chain walks to the store and keeps the cache honest.
type Resolver struct {
	store    *store.Store
	cache    *chaincache.Cache
	maxDepth int
}

// New creates a Resolver. maxDepth of zero means DefaultMaxDepth.
func New(st *store.Store, cache *chaincache.Cache, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{store: st, cache: cache, maxDepth: maxDepth}
}

// MaxDepth returns the configured depth limit.
func (r *Resolver) MaxDepth() int {
	return r.maxDepth
}

// StoreParents adapts the store to a ParentLookup. Lookup failures end the
// walk early; a broken walk must never spin or abort resolution.
func (r *Resolver) StoreParents() ParentLookup {
	return func(id string) (string, bool) {
		parent, ok, err := r.store.ParentOf(id)
		if err != nil {
			logging.Warn("resolver", "parent lookup for %s: %v", id, err)
			return "", false
		}
		return parent, ok
	}
}

// ValidateChain validates the persisted chain above start.
func (r *Resolver) ValidateChain(start string) (int, error) {
	return ValidateChain(start, r.StoreParents(), r.maxDepth)
}

// FindRootParent resolves the persisted root above id.
func (r *Resolver) FindRootParent(id string) string {
	return FindRootParent(id, r.StoreParents())
}

// PersistResult aggregates one persistence batch.
type PersistResult struct {
	Children     int `json:"children"`
	EdgesWritten int `json:"edges_written"`
	Orphaned     int `json:"orphaned"`
	Skipped      int `json:"skipped"`
}

// PersistEdges upserts one edge per detected child, all in one transaction.
// Sibling order is assigned by child start time within each parent's group,
// the parent's recorded successor (when detected) is marked the active
// child, and a parent with no session record leaves its edges orphaned
// rather than rejected. The cache is invalidated before returning.
func (r *Resolver) PersistEdges(detections map[string]detect.Detection) (PersistResult, error) {
	var result PersistResult

	successors := make(map[string]string)
	for _, det := range detections {
		if det.IsParent && det.SuccessorID != "" {
			successors[det.SessionID] = det.SuccessorID
		}
	}

	now := time.Now()
	newEdges := make(map[string]*store.Edge)
	affected := make(map[string]bool)
	for _, det := range detections {
		if !det.IsChild {
			continue
		}
		if det.ParentID == det.SessionID {
			logging.Warn("resolver", "session %s declares itself as parent, skipping", det.SessionID)
			result.Skipped++
			continue
		}
		newEdges[det.SessionID] = &store.Edge{
			ChildID:        det.SessionID,
			ParentID:       det.ParentID,
			DetectedAt:     now,
			ChildStartedAt: det.ChildStartedAt,
		}
		affected[det.ParentID] = true
		result.Children++

		// A child moving to a new parent leaves its old sibling group
		// behind; that group gets re-marked too.
		if prior, err := r.store.GetEdge(det.SessionID); err == nil && prior.ParentID != det.ParentID {
			affected[prior.ParentID] = true
		}
	}
	for parentID := range successors {
		affected[parentID] = true
	}

	var batch []*store.Edge
	for parentID := range affected {
		group, err := r.siblingGroup(parentID, newEdges)
		if err != nil {
			return result, err
		}
		if len(group) == 0 {
			continue
		}

		exists, err := r.store.SessionExists(parentID)
		if err != nil {
			return result, fmt.Errorf("failed to check parent %s: %w", parentID, err)
		}

		markSiblings(group, successors[parentID])
		for _, e := range group {
			e.IsOrphaned = !exists
			if e.IsOrphaned {
				result.Orphaned++
			}
		}
		batch = append(batch, group...)
	}

	if len(batch) > 0 {
		if err := r.store.UpsertEdges(batch); err != nil {
			return result, err
		}
		result.EdgesWritten = len(batch)
		r.cache.Invalidate()
	}

	return result, nil
}

// siblingGroup merges a parent's persisted children with the batch's new
// edges for that parent. New detections replace prior edges for the same
// child; a child reparented elsewhere in this batch drops out.
func (r *Resolver) siblingGroup(parentID string, newEdges map[string]*store.Edge) ([]*store.Edge, error) {
	existing, err := r.store.EdgesByParent(parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %s: %w", parentID, err)
	}

	group := make(map[string]*store.Edge, len(existing))
	for _, e := range existing {
		if moved, ok := newEdges[e.ChildID]; ok && moved.ParentID != parentID {
			continue
		}
		copied := *e
		group[e.ChildID] = &copied
	}
	for _, e := range newEdges {
		if e.ParentID != parentID {
			continue
		}
		copied := *e
		// A re-detected child keeps its active flag; rescanning a child
		// transcript says nothing about which sibling the parent resumed.
		if prior, ok := group[e.ChildID]; ok {
			copied.IsActive = prior.IsActive
		}
		group[e.ChildID] = &copied
	}

	members := make([]*store.Edge, 0, len(group))
	for _, e := range group {
		members = append(members, e)
	}
	return members, nil
}

// markSiblings sorts one parent's children by start time, assigns ord, and
// marks exactly one active child: the declared successor when present,
// otherwise a previously active child, otherwise the newest.
func markSiblings(group []*store.Edge, successorID string) {
	sort.Slice(group, func(i, j int) bool {
		if !group[i].ChildStartedAt.Equal(group[j].ChildStartedAt) {
			return group[i].ChildStartedAt.Before(group[j].ChildStartedAt)
		}
		return group[i].ChildID < group[j].ChildID
	})

	activeID := ""
	if successorID != "" {
		for _, e := range group {
			if e.ChildID == successorID {
				activeID = successorID
				break
			}
		}
	}
	if activeID == "" {
		for _, e := range group {
			if e.IsActive {
				activeID = e.ChildID
			}
		}
	}
	if activeID == "" && len(group) > 0 {
		activeID = group[len(group)-1].ChildID
	}

	for i, e := range group {
		e.Ord = i
		e.IsActive = e.ChildID == activeID
	}
}

// HealResult aggregates one healing pass.
type HealResult struct {
	Checked int `json:"checked"`
	Healed  int `json:"healed"`
	Failed  int `json:"failed"`
}

// DetectOrphans returns edges whose declared parent has no session record,
// joined with each edge's own transcript location.
func (r *Resolver) DetectOrphans() ([]*store.OrphanEdge, error) {
	return r.store.OrphanEdges()
}

// HealOrphans walks the flagged heal queue, re-scans each edge's transcript,
// and clears the orphan flag where the declared parent now has a session
// record. Per-item failures are logged and skipped; one bad transcript never
// aborts the pass.
func (r *Resolver) HealOrphans() (HealResult, error) {
	orphans, err := r.store.FlaggedOrphanEdges()
	if err != nil {
		return HealResult{}, err
	}

	var result HealResult
	var healed []*store.Edge
	for _, o := range orphans {
		result.Checked++

		det, err := detect.ScanFile(o.ChildID, o.TranscriptPath)
		if err != nil {
			result.Failed++
			logging.Warn("resolver", "heal rescan for %s: %v", o.ChildID, err)
			continue
		}
		if !det.IsChild {
			logging.Debug("resolver", "orphan %s no longer detects as child", o.ChildID)
			continue
		}

		exists, err := r.store.SessionExists(det.ParentID)
		if err != nil {
			result.Failed++
			logging.Warn("resolver", "heal parent check for %s: %v", o.ChildID, err)
			continue
		}
		if !exists {
			continue
		}

		e := o.Edge
		e.ParentID = det.ParentID
		e.ChildStartedAt = det.ChildStartedAt
		e.IsOrphaned = false
		e.DetectedAt = time.Now()
		healed = append(healed, &e)
		result.Healed++
	}

	if len(healed) > 0 {
		if err := r.store.UpsertEdges(healed); err != nil {
			return result, err
		}
		r.cache.Invalidate()
	}

	return result, nil
}
