// Package highlight precomputes focus-relative positions, roles, and
// distances for every member of a continuation tree, so consumers can answer
// "where is session X relative to the focused session" with map lookups.
package highlight

import (
	"fmt"

	"github.com/hfolsom/lineage/internal/tree"
)

// Role classifies a chain member relative to the focal session.
type Role string

const (
	RoleClicked    Role = "clicked"
	RoleAncestor   Role = "ancestor"
	RoleDescendant Role = "descendant"
	// RoleSibling covers true siblings of the focal session and, as a
	// deliberate catch-all, every member that is neither its ancestor nor
	// its descendant. Cousins and nodes on abandoned branches land here
	// too; there is no separate "unrelated" role.
	RoleSibling Role = "sibling"
)

// Snapshot is one focus computation over a built tree. It is immutable once
// computed and discarded wholesale on the next focus change.
type Snapshot struct {
	RootID  string
	FocalID string

	positions map[string]int
	roles     map[string]Role
	distances map[string]int
}

// Compute walks the tree once and classifies every member relative to the
// focal session. Positions are assigned in depth-first order following
// sibling order, starting at 1; each member gets exactly one position.
func Compute(t *tree.Tree, focalID string) (*Snapshot, error) {
	focal, ok := t.Node(focalID)
	if !ok {
		return nil, fmt.Errorf("session %s is not in the tree rooted at %s", focalID, t.Root.SessionID)
	}

	// The root-to-focal path, walked once up front. Path index differences
	// give ancestor distances without re-walking per node.
	path, _ := t.LinearPath(focalID)
	pathIndex := make(map[string]int, len(path.IDs))
	for i, id := range path.IDs {
		pathIndex[id] = i
	}
	focalIdx := pathIndex[focalID]

	snap := &Snapshot{
		RootID:    t.Root.SessionID,
		FocalID:   focalID,
		positions: make(map[string]int, t.Size()),
		roles:     make(map[string]Role, t.Size()),
		distances: make(map[string]int, t.Size()),
	}

	pos := 0
	stack := []*tree.Node{t.Root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pos++
		snap.positions[node.SessionID] = pos

		role, dist := classify(t, node, focal, pathIndex, focalIdx)
		snap.roles[node.SessionID] = role
		snap.distances[node.SessionID] = dist

		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}

	return snap, nil
}

func classify(t *tree.Tree, node, focal *tree.Node, pathIndex map[string]int, focalIdx int) (Role, int) {
	if node.SessionID == focal.SessionID {
		return RoleClicked, 0
	}
	if idx, ok := pathIndex[node.SessionID]; ok {
		return RoleAncestor, idx - focalIdx
	}
	if hops, ok := hopsToFocal(t, node.SessionID, focal.SessionID); ok {
		return RoleDescendant, hops
	}
	nodeParent, nok := t.Parent(node.SessionID)
	focalParent, fok := t.Parent(focal.SessionID)
	if nok && fok && nodeParent == focalParent {
		return RoleSibling, 0
	}
	return RoleSibling, node.Depth - focal.Depth
}

// hopsToFocal counts parent hops from id up to the focal session. The
// parent map is acyclic by construction, so the walk terminates.
func hopsToFocal(t *tree.Tree, id, focalID string) (int, bool) {
	hops := 0
	cur := id
	for {
		parent, ok := t.Parent(cur)
		if !ok {
			return 0, false
		}
		hops++
		if parent == focalID {
			return hops, true
		}
		cur = parent
	}
}

// IsRoot reports whether id is the root of the captured tree, independent
// of its computed role.
func (s *Snapshot) IsRoot(id string) bool {
	return id == s.RootID
}

// Contains reports whether id is a member of the snapshot.
func (s *Snapshot) Contains(id string) bool {
	_, ok := s.positions[id]
	return ok
}

// Role returns the role computed for id.
func (s *Snapshot) Role(id string) (Role, bool) {
	r, ok := s.roles[id]
	return r, ok
}

// Position returns the 1-indexed traversal position for id. Position values
// are unique across members.
func (s *Snapshot) Position(id string) (int, bool) {
	p, ok := s.positions[id]
	return p, ok
}

// Distance returns the signed distance from the focal session: negative for
// ancestors, positive for descendants, zero for the focal session and its
// immediate siblings.
func (s *Snapshot) Distance(id string) (int, bool) {
	d, ok := s.distances[id]
	return d, ok
}

// Size returns the number of members.
func (s *Snapshot) Size() int {
	return len(s.positions)
}

// Members returns every member id in position order.
func (s *Snapshot) Members() []string {
	ids := make([]string, len(s.positions))
	for id, pos := range s.positions {
		ids[pos-1] = id
	}
	return ids
}
