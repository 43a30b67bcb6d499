// Package service exposes the chain engine's operations behind a uniform
// response envelope, for the CLI and MCP front ends.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/hfolsom/lineage/internal/agentproc"
	"github.com/hfolsom/lineage/internal/chaincache"
	"github.com/hfolsom/lineage/internal/config"
	"github.com/hfolsom/lineage/internal/detect"
	"github.com/hfolsom/lineage/internal/highlight"
	"github.com/hfolsom/lineage/internal/journal"
	"github.com/hfolsom/lineage/internal/logging"
	"github.com/hfolsom/lineage/internal/resolver"
	"github.com/hfolsom/lineage/internal/session"
	"github.com/hfolsom/lineage/internal/store"
	"github.com/hfolsom/lineage/internal/tree"
)

// Envelope is the uniform response wrapper. Callers check Success before
// trusting Payload; zero values inside payloads are legitimate results.
type Envelope struct {
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(payload any) Envelope {
	return Envelope{Success: true, Payload: payload}
}

func fail(err error) Envelope {
	return Envelope{Success: false, Error: err.Error()}
}

// Service wires the store, cache, resolver, and journal into the operations
// exposed to front ends.
type Service struct {
	store    *store.Store
	cache    *chaincache.Cache
	resolver *resolver.Resolver
	journal  *journal.Journal

	projectsDir string
	workers     int
	maxDepth    int
}

// New assembles a service from already-constructed components.
func New(st *store.Store, cache *chaincache.Cache, res *resolver.Resolver, jnl *journal.Journal, cfg *config.Config) *Service {
	return &Service{
		store:       st,
		cache:       cache,
		resolver:    res,
		journal:     jnl,
		projectsDir: cfg.ProjectsDir,
		workers:     cfg.Workers,
		maxDepth:    cfg.MaxDepth,
	}
}

// Open builds the full component stack from configuration. Close releases it.
func Open(cfg *config.Config) (*Service, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	cache := chaincache.New(st, cfg.MaxDepth)
	res := resolver.New(st, cache, cfg.MaxDepth)
	jnl := journal.New(cfg.JournalPath)
	return New(st, cache, res, jnl, cfg), nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

// ChainPayload describes one rooted chain from a member's point of view.
type ChainPayload struct {
	SessionID      string            `json:"session_id"`
	RootID         string            `json:"root_id"`
	Depth          int               `json:"depth"`
	HasBranches    bool              `json:"has_branches"`
	DirectChildren []string          `json:"direct_children"`
	Descendants    []tree.Descendant `json:"descendants"`
	TotalSessions  int               `json:"total_sessions"`
}

// ChainForSession resolves the chain containing id: its root, the root's
// direct children, and every descendant as flat rows. A recorded session
// with no edges is a legitimate chain of one.
func (s *Service) ChainForSession(id string) Envelope {
	id, err := session.Normalize(id)
	if err != nil {
		return fail(err)
	}

	known, err := s.knownSession(id)
	if err != nil {
		return fail(err)
	}
	if !known {
		return fail(fmt.Errorf("session %s not found", id))
	}

	root := s.resolver.FindRootParent(id)
	flat, err := s.flatDescendants(root)
	if err != nil {
		return fail(err)
	}
	tr := tree.Build(root, flat, s.maxDepth)

	children := make([]string, 0, len(tr.Root.Children))
	for _, c := range tr.Root.Children {
		children = append(children, c.SessionID)
	}

	return ok(&ChainPayload{
		SessionID:      id,
		RootID:         root,
		Depth:          tr.Depth(),
		HasBranches:    tr.HasBranches,
		DirectChildren: children,
		Descendants:    flat,
		TotalSessions:  tr.Size(),
	})
}

// MetadataPayload is the cheap per-session lookup: chain facts without
// building the tree.
type MetadataPayload struct {
	SessionID string `json:"session_id"`
	Found     bool   `json:"found"`
	chaincache.Entry
}

// Metadata returns cached chain facts for id. Found reports whether the
// session participates in any chain; a standalone session is a successful
// lookup with Found=false.
func (s *Service) Metadata(id string) Envelope {
	id, err := session.Normalize(id)
	if err != nil {
		return fail(err)
	}

	entry, found, err := s.cache.Get(id)
	if err != nil {
		return fail(err)
	}
	return ok(&MetadataPayload{SessionID: id, Found: found, Entry: entry})
}

// StatsPayload aggregates store and chain statistics.
type StatsPayload struct {
	Sessions int `json:"sessions"`
	chaincache.Stats
	LiveAgents int `json:"live_agents"`
}

// Stats reports global chain statistics plus the number of agent processes
// currently running.
func (s *Service) Stats() Envelope {
	stats, err := s.cache.ComputeStats()
	if err != nil {
		return fail(err)
	}
	counts, err := s.store.Counts()
	if err != nil {
		return fail(err)
	}
	return ok(&StatsPayload{
		Sessions:   counts["sessions"],
		Stats:      stats,
		LiveAgents: len(agentproc.Live()),
	})
}

// OrphansPayload lists edges whose parent has no session record.
type OrphansPayload struct {
	Count   int                 `json:"count"`
	Orphans []*store.OrphanEdge `json:"orphans"`
}

// Orphans returns the current orphaned edges.
func (s *Service) Orphans() Envelope {
	orphans, err := s.resolver.DetectOrphans()
	if err != nil {
		return fail(err)
	}
	return ok(&OrphansPayload{Count: len(orphans), Orphans: orphans})
}

// Heal runs one orphan healing pass and journals the outcome.
func (s *Service) Heal() Envelope {
	started := time.Now()
	result, err := s.resolver.HealOrphans()
	if err != nil {
		return fail(err)
	}
	if err := s.journal.LogHeal(result.Checked, result.Healed, result.Failed, time.Since(started)); err != nil {
		logging.Warn("service", "journal write failed: %v", err)
	}
	return ok(result)
}

// ScanPayload summarizes one full transcript scan.
type ScanPayload struct {
	Sessions     int   `json:"sessions"`
	Scanned      int   `json:"scanned"`
	Children     int   `json:"children"`
	Parents      int   `json:"parents"`
	Failed       int   `json:"failed"`
	EdgesWritten int   `json:"edges_written"`
	Orphaned     int   `json:"orphaned"`
	Skipped      int   `json:"skipped"`
	LiveSessions int   `json:"live_sessions"`
	DurationMS   int64 `json:"duration_ms"`
}

// Scan discovers transcripts, records their sessions, detects continuation
// markers with bounded parallelism, and persists the resulting edges.
func (s *Service) Scan() Envelope {
	return s.ScanWith("", 0)
}

// ScanWith runs one scan with overridden projects dir or worker count; zero
// values keep the configured ones.
func (s *Service) ScanWith(projectsDir string, workers int) Envelope {
	started := time.Now()
	if projectsDir == "" {
		projectsDir = s.projectsDir
	}
	if workers <= 0 {
		workers = s.workers
	}

	records, err := session.Discover(projectsDir)
	if err != nil {
		return fail(err)
	}

	now := time.Now()
	for i := range records {
		records[i].LastScanned = now
		if err := s.store.UpsertSession(&records[i]); err != nil {
			return fail(fmt.Errorf("failed to record session %s: %w", records[i].ID, err))
		}
	}

	// Sessions with a running process may still be appending to their
	// transcripts; the scan proceeds but the count is surfaced.
	live := agentproc.LiveSessionIDs()
	liveSessions := 0
	for i := range records {
		if live[records[i].ID] {
			liveSessions++
			logging.Debug("service", "session %s is still live", records[i].ID)
		}
	}

	batch := detect.ScanBatch(records, workers, func(current, total int, sessionID string) {
		if current%25 == 0 || current == total {
			logging.Info("service", "scanned %d/%d transcripts", current, total)
		}
	})

	result, err := s.resolver.PersistEdges(batch.Detections)
	if err != nil {
		return fail(err)
	}

	took := time.Since(started)
	if err := s.journal.LogScan(batch.Scanned, batch.Children, batch.Parents, batch.Failed, took); err != nil {
		logging.Warn("service", "journal write failed: %v", err)
	}

	return ok(&ScanPayload{
		Sessions:     len(records),
		Scanned:      batch.Scanned,
		Children:     batch.Children,
		Parents:      batch.Parents,
		Failed:       batch.Failed,
		EdgesWritten: result.EdgesWritten,
		Orphaned:     result.Orphaned,
		Skipped:      result.Skipped,
		LiveSessions: liveSessions,
		DurationMS:   took.Milliseconds(),
	})
}

// HighlightMember is one chain member's precomputed focus-relative facts.
type HighlightMember struct {
	SessionID string         `json:"session_id"`
	Position  int            `json:"position"`
	Role      highlight.Role `json:"role"`
	Distance  int            `json:"distance"`
	IsRoot    bool           `json:"is_root"`
}

// HighlightPayload is a serialized highlight snapshot, members in position
// order.
type HighlightPayload struct {
	RootID  string            `json:"root_id"`
	FocalID string            `json:"focal_id"`
	Members []HighlightMember `json:"members"`
}

// Highlight computes focus-relative roles for every member of the chain
// containing focalID.
func (s *Service) Highlight(focalID string) Envelope {
	focalID, err := session.Normalize(focalID)
	if err != nil {
		return fail(err)
	}

	known, err := s.knownSession(focalID)
	if err != nil {
		return fail(err)
	}
	if !known {
		return fail(fmt.Errorf("session %s not found", focalID))
	}

	root := s.resolver.FindRootParent(focalID)
	flat, err := s.flatDescendants(root)
	if err != nil {
		return fail(err)
	}
	tr := tree.Build(root, flat, s.maxDepth)

	snap, err := highlight.Compute(tr, focalID)
	if err != nil {
		return fail(err)
	}

	members := make([]HighlightMember, 0, snap.Size())
	for _, id := range snap.Members() {
		role, _ := snap.Role(id)
		pos, _ := snap.Position(id)
		dist, _ := snap.Distance(id)
		members = append(members, HighlightMember{
			SessionID: id,
			Position:  pos,
			Role:      role,
			Distance:  dist,
			IsRoot:    snap.IsRoot(id),
		})
	}

	return ok(&HighlightPayload{RootID: snap.RootID, FocalID: snap.FocalID, Members: members})
}

// PathPayload is the linear root-to-target extraction of one branch.
type PathPayload struct {
	RootID   string `json:"root_id"`
	TargetID string `json:"target_id"`
	*tree.Path
}

// Path returns the root-first path to target with every fork it passes.
func (s *Service) Path(targetID string) Envelope {
	targetID, err := session.Normalize(targetID)
	if err != nil {
		return fail(err)
	}

	known, err := s.knownSession(targetID)
	if err != nil {
		return fail(err)
	}
	if !known {
		return fail(fmt.Errorf("session %s not found", targetID))
	}

	root := s.resolver.FindRootParent(targetID)
	flat, err := s.flatDescendants(root)
	if err != nil {
		return fail(err)
	}
	tr := tree.Build(root, flat, s.maxDepth)

	path, found := tr.LinearPath(targetID)
	if !found {
		return fail(fmt.Errorf("session %s beyond the chain's depth bound", targetID))
	}
	return ok(&PathPayload{RootID: root, TargetID: targetID, Path: path})
}

// JournalPayload is recent scan and heal history.
type JournalPayload struct {
	Entries []journal.Entry `json:"entries"`
}

// History returns the most recent journal entries.
func (s *Service) History(n int) Envelope {
	if n <= 0 {
		n = 20
	}
	entries, err := s.journal.Recent(n)
	if err != nil {
		return fail(err)
	}
	return ok(&JournalPayload{Entries: entries})
}

// knownSession reports whether id has a session record or participates in
// any edge, so unknown ids fail rather than producing empty chains.
func (s *Service) knownSession(id string) (bool, error) {
	exists, err := s.store.SessionExists(id)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	if _, err := s.store.GetEdge(id); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	kids, err := s.store.EdgesByParent(id)
	if err != nil {
		return false, err
	}
	return len(kids) > 0, nil
}

// flatDescendants walks stored edges outward from root, breadth-first, and
// returns every reachable child as a flat row. The walk is visited-bounded
// and depth-capped so malformed edge sets terminate.
func (s *Service) flatDescendants(root string) ([]tree.Descendant, error) {
	var flat []tree.Descendant
	visited := map[string]bool{root: true}

	level := []string{root}
	for depth := 1; len(level) > 0 && depth <= s.maxDepth; depth++ {
		var next []string
		for _, parentID := range level {
			edges, err := s.store.EdgesByParent(parentID)
			if err != nil {
				return nil, fmt.Errorf("failed to walk children of %s: %w", parentID, err)
			}
			for _, e := range edges {
				if visited[e.ChildID] {
					logging.Debug("service", "skipping revisited session %s", e.ChildID)
					continue
				}
				visited[e.ChildID] = true
				flat = append(flat, tree.Descendant{
					SessionID: e.ChildID,
					ParentID:  parentID,
					Depth:     depth,
					Order:     e.Ord,
					IsActive:  e.IsActive,
				})
				next = append(next, e.ChildID)
			}
		}
		level = next
	}

	return flat, nil
}
