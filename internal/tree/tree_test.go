package tree

import (
	"fmt"
	"reflect"
	"testing"
)

// chainRows returns a linear chain s0 -> s1 -> ... -> s(n-1) as flat rows,
// rooted at s0 (which is not itself a row).
func chainRows(n int) (string, []Descendant) {
	var flat []Descendant
	for i := 1; i < n; i++ {
		flat = append(flat, Descendant{
			SessionID: fmt.Sprintf("s%d", i),
			ParentID:  fmt.Sprintf("s%d", i-1),
			Depth:     i,
			IsActive:  true,
		})
	}
	return "s0", flat
}

func TestBuildThreeChildren(t *testing.T) {
	flat := []Descendant{
		{SessionID: "c2", ParentID: "root", Order: 1, IsActive: true},
		{SessionID: "c3", ParentID: "root", Order: 2},
		{SessionID: "c1", ParentID: "root", Order: 0},
	}

	tr := Build("root", flat, 0)

	if !tr.HasBranches {
		t.Error("three children must set HasBranches")
	}
	if tr.Size() != 4 {
		t.Errorf("size = %d, want 4", tr.Size())
	}
	if tr.Depth() != 1 {
		t.Errorf("depth = %d, want 1", tr.Depth())
	}

	if len(tr.Root.Children) != 3 {
		t.Fatalf("root has %d children, want 3", len(tr.Root.Children))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		child := tr.Root.Children[i]
		if child.SessionID != want {
			t.Errorf("child %d = %s, want %s", i, child.SessionID, want)
		}
		if child.Depth != 1 {
			t.Errorf("%s depth = %d, want 1", child.SessionID, child.Depth)
		}
		if child.SiblingIndex != i {
			t.Errorf("%s sibling index = %d, want %d", child.SessionID, child.SiblingIndex, i)
		}
		if child.SiblingCount != 3 {
			t.Errorf("%s sibling count = %d, want 3", child.SessionID, child.SiblingCount)
		}
	}

	// Only the marked child continues the active path.
	for _, child := range tr.Root.Children {
		if child.IsOnActivePath != (child.SessionID == "c2") {
			t.Errorf("%s active path = %v", child.SessionID, child.IsOnActivePath)
		}
	}
	if !tr.Root.IsOnActivePath {
		t.Error("root must always be on the active path")
	}
}

func TestBuildLinearChain(t *testing.T) {
	root, flat := chainRows(6)
	tr := Build(root, flat, 0)

	if tr.HasBranches {
		t.Error("linear chain must not report branches")
	}
	if tr.Depth() != 5 {
		t.Errorf("depth = %d, want 5", tr.Depth())
	}
	if tr.Size() != 6 {
		t.Errorf("size = %d, want 6", tr.Size())
	}

	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("s%d", i)
		node, ok := tr.Node(id)
		if !ok {
			t.Fatalf("node %s missing", id)
		}
		if node.Depth != i {
			t.Errorf("%s depth = %d, want %d", id, node.Depth, i)
		}
		if !node.IsOnActivePath {
			t.Errorf("%s fell off the active path", id)
		}
	}

	if parent, ok := tr.Parent("s3"); !ok || parent != "s2" {
		t.Errorf("Parent(s3) = %s, %v", parent, ok)
	}
	if _, ok := tr.Parent(root); ok {
		t.Error("root must have no parent")
	}
}

func TestBuildActiveFallbackNewest(t *testing.T) {
	flat := []Descendant{
		{SessionID: "old", ParentID: "root", Order: 0},
		{SessionID: "new", ParentID: "root", Order: 1},
	}

	tr := Build("root", flat, 0)
	for _, child := range tr.Root.Children {
		if child.IsOnActivePath != (child.SessionID == "new") {
			t.Errorf("fallback active path wrong on %s", child.SessionID)
		}
	}
}

func TestBuildSiblingOrderTies(t *testing.T) {
	flat := []Descendant{
		{SessionID: "bbb", ParentID: "root", Order: 0},
		{SessionID: "aaa", ParentID: "root", Order: 0},
	}

	tr := Build("root", flat, 0)
	got := []string{tr.Root.Children[0].SessionID, tr.Root.Children[1].SessionID}
	if !reflect.DeepEqual(got, []string{"aaa", "bbb"}) {
		t.Errorf("tie order = %v, want aaa before bbb", got)
	}
}

// TestBuildTerminatesOnCycle feeds a row that points the root back under its
// own descendant; the visited set must drop it.
func TestBuildTerminatesOnCycle(t *testing.T) {
	flat := []Descendant{
		{SessionID: "c1", ParentID: "root"},
		{SessionID: "root", ParentID: "c1"},
	}

	tr := Build("root", flat, 0)
	if tr.Size() != 2 {
		t.Errorf("size = %d, want 2", tr.Size())
	}
	node, _ := tr.Node("root")
	if node.Depth != 0 {
		t.Errorf("root depth corrupted: %d", node.Depth)
	}
}

func TestBuildDepthCap(t *testing.T) {
	root, flat := chainRows(13)
	tr := Build(root, flat, 10)

	if tr.Depth() != 10 {
		t.Errorf("depth = %d, want capped 10", tr.Depth())
	}
	if _, ok := tr.Node("s10"); !ok {
		t.Error("node at the cap should exist")
	}
	if _, ok := tr.Node("s11"); ok {
		t.Error("node beyond the cap should not exist")
	}
}

func TestLinearPath(t *testing.T) {
	flat := []Descendant{
		{SessionID: "a", ParentID: "root", Order: 0},
		{SessionID: "b", ParentID: "root", Order: 1, IsActive: true},
		{SessionID: "x", ParentID: "b", Order: 0},
	}
	tr := Build("root", flat, 0)

	path, ok := tr.LinearPath("x")
	if !ok {
		t.Fatal("LinearPath(x) not found")
	}
	if !reflect.DeepEqual(path.IDs, []string{"root", "b", "x"}) {
		t.Errorf("path = %v", path.IDs)
	}
	if !path.OnActivePath {
		t.Error("path through the active branch must stay active")
	}
	if len(path.BranchPoints) != 1 {
		t.Fatalf("got %d branch points, want 1", len(path.BranchPoints))
	}
	point := path.BranchPoints[0]
	if point.SessionID != "b" || point.Depth != 1 {
		t.Errorf("branch point = %+v", point)
	}
	if !reflect.DeepEqual(point.Siblings, []string{"a", "b"}) {
		t.Errorf("siblings = %v, want ordered full group", point.Siblings)
	}

	// The abandoned branch is a valid path but off the active flag.
	path, ok = tr.LinearPath("a")
	if !ok {
		t.Fatal("LinearPath(a) not found")
	}
	if path.OnActivePath {
		t.Error("abandoned branch reported as active")
	}

	if _, ok := tr.LinearPath("nope"); ok {
		t.Error("unknown target must report not found")
	}
}
