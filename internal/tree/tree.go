// Package tree builds navigable continuation trees from flat edge rows.
//
// Trees are derived views: built on demand from the current edge set, never
// persisted, and rebuilt wholesale when edges change. Construction is
// iterative with a visited set and a depth cap, so cyclic or over-deep input
// always terminates.
package tree

import (
	"sort"

	"github.com/hfolsom/lineage/internal/logging"
)

// DefaultMaxDepth mirrors the resolver's chain validation bound.
const DefaultMaxDepth = 100

// Descendant is one flat row of a rooted subtree, as produced by walking
// stored edges outward from the root.
type Descendant struct {
	SessionID string `json:"session_id"`
	ParentID  string `json:"parent_id"`
	Depth     int    `json:"depth"`
	Order     int    `json:"order"`
	IsActive  bool   `json:"is_active"`
}

// Node is one session in a built tree. Nodes are owned by the tree that
// built them.
type Node struct {
	SessionID      string  `json:"session_id"`
	Children       []*Node `json:"children,omitempty"`
	Depth          int     `json:"depth"`
	SiblingIndex   int     `json:"sibling_index"`
	SiblingCount   int     `json:"sibling_count"`
	IsOnActivePath bool    `json:"is_on_active_path"`
}

// Tree is a built continuation tree plus its O(1) lookup maps.
type Tree struct {
	Root        *Node
	HasBranches bool

	nodes   map[string]*Node
	parents map[string]string
	depth   int
}

// Build constructs the tree rooted at rootID from flat descendant rows.
// Siblings order by their stored position, ties by session id. The root is
// always on the active path; below it the path follows the child marked
// active, or the newest sibling when none is marked.
func Build(rootID string, flat []Descendant, maxDepth int) *Tree {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	byParent := make(map[string][]Descendant)
	for _, d := range flat {
		byParent[d.ParentID] = append(byParent[d.ParentID], d)
	}
	for _, group := range byParent {
		sort.Slice(group, func(i, j int) bool {
			if group[i].Order != group[j].Order {
				return group[i].Order < group[j].Order
			}
			return group[i].SessionID < group[j].SessionID
		})
	}

	t := &Tree{
		Root:    &Node{SessionID: rootID, IsOnActivePath: true},
		nodes:   make(map[string]*Node),
		parents: make(map[string]string),
	}
	t.nodes[rootID] = t.Root

	visited := map[string]bool{rootID: true}
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if parent.Depth >= maxDepth {
			logging.Debug("tree", "depth cap %d reached under %s", maxDepth, parent.SessionID)
			continue
		}

		group := make([]Descendant, 0, len(byParent[parent.SessionID]))
		for _, d := range byParent[parent.SessionID] {
			if visited[d.SessionID] {
				logging.Debug("tree", "skipping revisited session %s", d.SessionID)
				continue
			}
			visited[d.SessionID] = true
			group = append(group, d)
		}
		if len(group) == 0 {
			continue
		}
		if len(group) > 1 {
			t.HasBranches = true
		}

		activeIdx := len(group) - 1
		for i, d := range group {
			if d.IsActive {
				activeIdx = i
				break
			}
		}

		for i, d := range group {
			child := &Node{
				SessionID:      d.SessionID,
				Depth:          parent.Depth + 1,
				SiblingIndex:   i,
				SiblingCount:   len(group),
				IsOnActivePath: parent.IsOnActivePath && i == activeIdx,
			}
			parent.Children = append(parent.Children, child)
			t.nodes[d.SessionID] = child
			t.parents[d.SessionID] = parent.SessionID
			if child.Depth > t.depth {
				t.depth = child.Depth
			}
			stack = append(stack, child)
		}
	}

	return t
}

// Node returns the built node for id.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Parent returns the parent id recorded for id. The root has none.
func (t *Tree) Parent(id string) (string, bool) {
	p, ok := t.parents[id]
	return p, ok
}

// Size returns the number of sessions in the tree, root included.
func (t *Tree) Size() int {
	return len(t.nodes)
}

// Depth returns the deepest node's depth, zero for a childless root.
func (t *Tree) Depth() int {
	return t.depth
}

// BranchPoint is a path node that has siblings, recording the full ordered
// sibling group at that fork.
type BranchPoint struct {
	SessionID string   `json:"session_id"`
	Depth     int      `json:"depth"`
	Siblings  []string `json:"siblings"`
}

// Path is the linear root-to-target extraction of one branch.
type Path struct {
	IDs          []string      `json:"ids"`
	BranchPoints []BranchPoint `json:"branch_points,omitempty"`
	OnActivePath bool          `json:"on_active_path"`
}

// LinearPath walks parent links from target back to the root and returns
// the root-first path along with every fork it passes through. OnActivePath
// reports whether every node on the path carries the active-path flag.
func (t *Tree) LinearPath(target string) (*Path, bool) {
	node, ok := t.nodes[target]
	if !ok {
		return nil, false
	}

	var ids []string
	for cur := node; cur != nil; {
		ids = append(ids, cur.SessionID)
		parentID, ok := t.parents[cur.SessionID]
		if !ok {
			break
		}
		cur = t.nodes[parentID]
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	path := &Path{IDs: ids, OnActivePath: true}
	for _, id := range ids {
		n := t.nodes[id]
		if !n.IsOnActivePath {
			path.OnActivePath = false
		}
		if n.SiblingCount > 1 {
			point := BranchPoint{SessionID: id, Depth: n.Depth}
			for _, sib := range t.nodes[t.parents[id]].Children {
				point.Siblings = append(point.Siblings, sib.SessionID)
			}
			path.BranchPoints = append(path.BranchPoints, point)
		}
	}
	return path, true
}
