package chaincache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hfolsom/lineage/internal/session"
	"github.com/hfolsom/lineage/internal/store"
)

func setupCache(t *testing.T) (*Cache, *store.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "chaincache-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	st, err := store.Open(filepath.Join(tmpDir, "lineage.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return New(st, 0), st, cleanup
}

// addChain persists a linear chain ids[0] -> ids[1] -> ... and session
// records for every member.
func addChain(t *testing.T, st *store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := st.UpsertSession(&session.Record{ID: id, Project: "p"}); err != nil {
			t.Fatalf("Failed to add session %s: %v", id, err)
		}
	}
	for i := 1; i < len(ids); i++ {
		if err := st.UpsertEdge(&store.Edge{ChildID: ids[i], ParentID: ids[i-1]}); err != nil {
			t.Fatalf("Failed to add edge %s->%s: %v", ids[i], ids[i-1], err)
		}
	}
}

func TestGetReadThrough(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	addChain(t, st, "A", "B", "C")

	entry, inChain, err := c.Get("C")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !inChain {
		t.Error("C should participate in a chain")
	}
	if entry.RootID != "A" || entry.DepthFromRoot != 2 {
		t.Errorf("C entry = %+v, want root A depth 2", entry)
	}
	if !entry.IsChild || entry.IsParent {
		t.Errorf("C flags wrong: %+v", entry)
	}

	if c.Len() != 1 {
		t.Errorf("cache holds %d entries after one read, want 1", c.Len())
	}

	// Second read serves the stored entry.
	again, _, err := c.Get("C")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if again != entry {
		t.Errorf("cached entry diverged: %+v vs %+v", again, entry)
	}
}

func TestGetStandaloneSession(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	if err := st.UpsertSession(&session.Record{ID: "solo", Project: "p"}); err != nil {
		t.Fatalf("Failed to add session: %v", err)
	}

	entry, inChain, err := c.Get("solo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if inChain {
		t.Error("standalone session must not report chain membership")
	}
	if entry.RootID != "solo" || entry.DepthFromRoot != 0 || entry.ChildCount != 0 {
		t.Errorf("standalone entry = %+v", entry)
	}
}

func TestParentFlags(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	addChain(t, st, "root", "c1")
	if err := st.UpsertEdge(&store.Edge{ChildID: "c2", ParentID: "root", Ord: 1}); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}

	entry, _, err := c.Get("root")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !entry.IsParent || entry.IsChild {
		t.Errorf("root flags wrong: %+v", entry)
	}
	if entry.ChildCount != 2 || !entry.HasMultipleChildren {
		t.Errorf("root children wrong: %+v", entry)
	}
}

// TestInvalidateOnWrite is the core cache discipline: after an edge
// mutation plus Invalidate, a read never returns the pre-mutation value.
func TestInvalidateOnWrite(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	addChain(t, st, "A", "B")

	before, _, err := c.Get("B")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if before.RootID != "A" {
		t.Fatalf("B root = %s, want A", before.RootID)
	}

	// Reparent B under a new root, as re-detection would.
	addChain(t, st, "NEW")
	if err := st.UpsertEdge(&store.Edge{ChildID: "B", ParentID: "NEW"}); err != nil {
		t.Fatalf("Failed to reparent: %v", err)
	}
	c.Invalidate()

	if c.Len() != 0 {
		t.Errorf("cache not cleared: %d entries", c.Len())
	}

	after, _, err := c.Get("B")
	if err != nil {
		t.Fatalf("Get after invalidate failed: %v", err)
	}
	if after.RootID != "NEW" {
		t.Errorf("stale read: root = %s, want NEW", after.RootID)
	}
}

func TestInvalidateAdvancesGeneration(t *testing.T) {
	c, _, cleanup := setupCache(t)
	defer cleanup()

	g := c.Generation()
	c.Invalidate()
	if c.Generation() != g+1 {
		t.Errorf("generation = %d, want %d", c.Generation(), g+1)
	}
}

func TestPopulateSubtree(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	addChain(t, st, "root", "kid")
	if err := st.UpsertEdge(&store.Edge{ChildID: "kid2", ParentID: "root", Ord: 1}); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}
	if err := st.UpsertEdge(&store.Edge{ChildID: "grandkid", ParentID: "kid"}); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}

	if err := c.PopulateSubtree("root"); err != nil {
		t.Fatalf("PopulateSubtree failed: %v", err)
	}
	if c.Len() != 4 {
		t.Errorf("populated %d entries, want 4", c.Len())
	}
}

// TestGetTerminatesOnCycle feeds deliberately corrupt edges; the walk must
// stop at the first revisited node instead of spinning.
func TestGetTerminatesOnCycle(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	if err := st.UpsertEdge(&store.Edge{ChildID: "X", ParentID: "Y"}); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}
	if err := st.UpsertEdge(&store.Edge{ChildID: "Y", ParentID: "X"}); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}

	entry, _, err := c.Get("X")
	if err != nil {
		t.Fatalf("Get on cycle failed: %v", err)
	}
	if entry.RootID != "X" {
		t.Errorf("cycle walk root = %s, want first revisited X", entry.RootID)
	}
}

func TestComputeStats(t *testing.T) {
	c, st, cleanup := setupCache(t)
	defer cleanup()

	// 6-session linear chain: 5 edges, 1 chain, max depth 5.
	addChain(t, st, "s1", "s2", "s3", "s4", "s5", "s6")

	stats, err := c.ComputeStats()
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}
	if stats.TotalEdges != 5 {
		t.Errorf("total_edges = %d, want 5", stats.TotalEdges)
	}
	if stats.TotalChains != 1 {
		t.Errorf("total_chains = %d, want 1", stats.TotalChains)
	}
	if stats.MaxDepth != 5 {
		t.Errorf("max_depth = %d, want 5", stats.MaxDepth)
	}
	if stats.AvgChainLength != 6 {
		t.Errorf("avg_chain_length = %f, want 6", stats.AvgChainLength)
	}
	if stats.OrphanCount != 0 {
		t.Errorf("orphan_count = %d, want 0", stats.OrphanCount)
	}

	// A second chain with an orphaned root.
	if err := st.UpsertEdge(&store.Edge{ChildID: "lone", ParentID: "ghost", IsOrphaned: true}); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}
	if err := st.UpsertSession(&session.Record{ID: "lone", Project: "p"}); err != nil {
		t.Fatalf("Failed to add session: %v", err)
	}
	c.Invalidate()

	stats, err = c.ComputeStats()
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}
	if stats.TotalChains != 2 {
		t.Errorf("total_chains = %d, want 2", stats.TotalChains)
	}
	if stats.OrphanCount != 1 {
		t.Errorf("orphan_count = %d, want 1", stats.OrphanCount)
	}

	if stats.TotalEdges != 6 {
		t.Errorf("total_edges = %d, want 6", stats.TotalEdges)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	c, _, cleanup := setupCache(t)
	defer cleanup()

	stats, err := c.ComputeStats()
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}
	if stats.TotalEdges != 0 || stats.TotalChains != 0 || stats.AvgChainLength != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
}
