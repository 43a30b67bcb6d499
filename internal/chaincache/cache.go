// Package chaincache holds derived per-session chain facts. It has no
// authority of its own: every entry is computed from the store's edge set,
// and any edge mutation must clear the whole cache before readers continue.
package chaincache

import (
	"fmt"
	"sync"

	"github.com/hfolsom/lineage/internal/logging"
	"github.com/hfolsom/lineage/internal/store"
)

// DefaultMaxDepth bounds chain walks when the caller does not.
const DefaultMaxDepth = 100

// Entry is the cached chain summary for one session.
type Entry struct {
	RootID              string `json:"root_id"`
	DepthFromRoot       int    `json:"depth_from_root"`
	IsChild             bool   `json:"is_child"`
	IsParent            bool   `json:"is_parent"`
	ChildCount          int    `json:"child_count"`
	HasMultipleChildren bool   `json:"has_multiple_children"`
}

// Stats summarizes the whole edge set.
type Stats struct {
	TotalEdges     int     `json:"total_edges"`
	TotalChains    int     `json:"total_chains"`
	MaxDepth       int     `json:"max_depth"`
	OrphanCount    int     `json:"orphan_count"`
	AvgChainLength float64 `json:"avg_chain_length"`
}

// Cache is a read-through view over the store's continuation edges.
type Cache struct {
	store    *store.Store
	maxDepth int

	mu         sync.RWMutex
	entries    map[string]Entry
	generation uint64
}

// New creates an empty cache over st. maxDepth bounds upward walks; zero
// means DefaultMaxDepth.
func New(st *store.Store, maxDepth int) *Cache {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Cache{
		store:    st,
		maxDepth: maxDepth,
		entries:  make(map[string]Entry),
	}
}

// Get returns the chain facts for id, computing and storing them on first
// read. The second result reports whether the session participates in any
// chain, so callers can tell a standalone session's zero entry from absence.
func (c *Cache) Get(id string) (Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	gen := c.generation
	c.mu.RUnlock()

	if ok {
		return entry, entry.IsChild || entry.IsParent, nil
	}

	entry, err := c.compute(id)
	if err != nil {
		return Entry{}, false, err
	}

	// Store only if no mutation invalidated the cache while we computed;
	// a stale entry must never outlive the edge set it came from.
	c.mu.Lock()
	if c.generation == gen {
		c.entries[id] = entry
	}
	c.mu.Unlock()

	return entry, entry.IsChild || entry.IsParent, nil
}

// Populate recomputes and stores the entry for one session.
func (c *Cache) Populate(id string) error {
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	entry, err := c.compute(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.generation == gen {
		c.entries[id] = entry
	}
	c.mu.Unlock()
	return nil
}

// PopulateSubtree eagerly computes entries for root and every descendant,
// used after bulk resolution. Cycles and over-deep branches are cut off by
// the walk bound.
func (c *Cache) PopulateSubtree(rootID string) error {
	visited := map[string]bool{rootID: true}
	queue := []string{rootID}

	for depth := 0; len(queue) > 0 && depth <= c.maxDepth; depth++ {
		var next []string
		for _, id := range queue {
			if err := c.Populate(id); err != nil {
				logging.Warn("chaincache", "populate %s: %v", id, err)
				continue
			}
			children, err := c.store.EdgesByParent(id)
			if err != nil {
				logging.Warn("chaincache", "children of %s: %v", id, err)
				continue
			}
			for _, e := range children {
				if visited[e.ChildID] {
					continue
				}
				visited[e.ChildID] = true
				next = append(next, e.ChildID)
			}
		}
		queue = next
	}
	return nil
}

// Invalidate clears every entry and advances the generation. Call it
// synchronously with any edge insert, update, or delete.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.generation++
	c.mu.Unlock()
}

// Generation returns the current invalidation counter.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// compute derives an entry from the current edge set: an upward walk for
// root and depth, a direct-children count for the parent-side facts.
func (c *Cache) compute(id string) (Entry, error) {
	entry := Entry{RootID: id}

	current := id
	visited := map[string]bool{id: true}
	for entry.DepthFromRoot < c.maxDepth {
		parent, ok, err := c.store.ParentOf(current)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to walk chain for %s: %w", id, err)
		}
		if !ok {
			break
		}
		if current == id {
			entry.IsChild = true
		}
		if visited[parent] {
			// Malformed cyclic edges: stop at the first revisit.
			current = parent
			break
		}
		visited[parent] = true
		current = parent
		entry.DepthFromRoot++
	}
	entry.RootID = current

	children, err := c.store.EdgesByParent(id)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to count children of %s: %w", id, err)
	}
	entry.ChildCount = len(children)
	entry.IsParent = len(children) > 0
	entry.HasMultipleChildren = len(children) > 1

	return entry, nil
}

// ComputeStats summarizes the current edge set. Walks are in-memory over one
// full scan, bounded by the same depth cap as everything else.
func (c *Cache) ComputeStats() (Stats, error) {
	edges, err := c.store.AllEdges()
	if err != nil {
		return Stats{}, err
	}
	orphans, err := c.store.CountOrphans()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalEdges: len(edges), OrphanCount: orphans}
	if len(edges) == 0 {
		return stats, nil
	}

	parentOf := make(map[string]string, len(edges))
	members := make(map[string]bool, len(edges)*2)
	for _, e := range edges {
		parentOf[e.ChildID] = e.ParentID
		members[e.ChildID] = true
		members[e.ParentID] = true
	}

	chainMembers := make(map[string]int)
	for id := range members {
		root, depth := walkToRoot(id, parentOf, c.maxDepth)
		chainMembers[root]++
		if depth > stats.MaxDepth {
			stats.MaxDepth = depth
		}
	}

	stats.TotalChains = len(chainMembers)
	total := 0
	for _, n := range chainMembers {
		total += n
	}
	stats.AvgChainLength = float64(total) / float64(len(chainMembers))

	return stats, nil
}

func walkToRoot(id string, parentOf map[string]string, maxDepth int) (string, int) {
	current := id
	depth := 0
	visited := map[string]bool{id: true}
	for depth < maxDepth {
		parent, ok := parentOf[current]
		if !ok {
			break
		}
		if visited[parent] {
			return parent, depth
		}
		visited[parent] = true
		current = parent
		depth++
	}
	return current, depth
}
