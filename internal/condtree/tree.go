// Package condtree implements the condition tree editor.
//
// A Tree stores condition nodes in an arena keyed by stable node ids, with
// parent pointers and ordered child-id lists. Every edit returns a new Tree
// and leaves the receiver untouched: unchanged nodes are shared between the
// two versions, edited nodes and their ancestors are copied. Deleting a
// sibling never changes the id of any other node.
package condtree

import (
	"fmt"

	"github.com/solatis/policydesk/internal/types"
)

type node struct {
	id       types.NodeID
	parent   types.NodeID
	kind     types.ConditionKind
	field    string
	op       types.Operator
	value    any
	children []types.NodeID
}

// Tree is an immutable condition tree.
type Tree struct {
	root    types.NodeID
	nodes   map[types.NodeID]*node
	version uint64
}

// NewEmpty returns a tree holding a single Empty root, the state of a new rule.
func NewEmpty() *Tree {
	return New(types.Empty{})
}

// New builds a tree from a condition value.
func New(c types.Condition) *Tree {
	t := &Tree{nodes: make(map[types.NodeID]*node)}
	t.root = t.insert(c, "")
	return t
}

// insert adds c and its subtree to t.nodes and returns the new node id.
// Only called on trees that are not yet shared.
func (t *Tree) insert(c types.Condition, parent types.NodeID) types.NodeID {
	if c == nil {
		c = types.Empty{}
	}
	n := &node{id: types.NewNodeID(), parent: parent, kind: c.Kind()}
	if fc, ok := c.(types.FieldCondition); ok {
		n.field, n.op, n.value = fc.Field, fc.Op, fc.Value
	}
	t.nodes[n.id] = n
	for _, child := range types.Children(c) {
		n.children = append(n.children, t.insert(child, n.id))
	}
	if n.kind == types.KindAny || n.kind == types.KindAll {
		if n.children == nil {
			n.children = []types.NodeID{}
		}
	}
	return n.id
}

// Root returns the root node id. It is stable for the lifetime of the rule.
func (t *Tree) Root() types.NodeID { return t.root }

// Version counts the edits applied since the tree was built.
func (t *Tree) Version() uint64 { return t.version }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Kind returns the variant of node id.
func (t *Tree) Kind(id types.NodeID) (types.ConditionKind, error) {
	n, ok := t.nodes[id]
	if !ok {
		return types.KindEmpty, fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
	}
	return n.kind, nil
}

// Parent returns the parent of id, empty for the root.
func (t *Tree) Parent(id types.NodeID) (types.NodeID, error) {
	n, ok := t.nodes[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
	}
	return n.parent, nil
}

// Children returns a copy of the ordered child ids of id.
func (t *Tree) Children(id types.NodeID) ([]types.NodeID, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
	}
	out := make([]types.NodeID, len(n.children))
	copy(out, n.children)
	return out, nil
}

// Condition materialises the whole tree.
func (t *Tree) Condition() types.Condition {
	return t.build(t.root)
}

// Node materialises the subtree rooted at id.
func (t *Tree) Node(id types.NodeID) (types.Condition, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
	}
	return t.build(id), nil
}

func (t *Tree) build(id types.NodeID) types.Condition {
	n := t.nodes[id]
	switch n.kind {
	case types.KindField:
		return types.FieldCondition{Field: n.field, Op: n.op, Value: n.value}
	case types.KindAny:
		return types.AnyGroup{Conditions: t.buildChildren(n)}
	case types.KindAll:
		return types.AllGroup{Conditions: t.buildChildren(n)}
	default:
		return types.Empty{}
	}
}

func (t *Tree) buildChildren(n *node) []types.Condition {
	out := make([]types.Condition, 0, len(n.children))
	for _, child := range n.children {
		out = append(out, t.build(child))
	}
	return out
}

// Walk visits every node depth-first in child order.
func (t *Tree) Walk(fn func(id types.NodeID, kind types.ConditionKind, depth int)) {
	var visit func(id types.NodeID, depth int)
	visit = func(id types.NodeID, depth int) {
		n := t.nodes[id]
		fn(id, n.kind, depth)
		for _, child := range n.children {
			visit(child, depth+1)
		}
	}
	visit(t.root, 0)
}

// Add appends a new node of the given kind under target and returns the new
// tree plus the id of the inserted node.
//
// An Empty target becomes the new kind in place (its id is kept and
// returned). A group target gets a fresh child: a blank field leaf or an
// empty group. A field target yields ErrNotAGroup.
func (t *Tree) Add(target types.NodeID, kind types.ConditionKind) (*Tree, types.NodeID, error) {
	n, ok := t.nodes[target]
	if !ok {
		return t, "", fmt.Errorf("%w: %s", types.ErrNodeNotFound, target)
	}
	if kind == types.KindEmpty {
		return t, "", fmt.Errorf("%w: cannot add an empty condition", types.ErrInvalidCondition)
	}

	next := t.fork()

	switch n.kind {
	case types.KindEmpty:
		w := next.writable(target)
		w.kind = kind
		w.children = nil
		if kind == types.KindField {
			blank := types.NewBlankField()
			w.field, w.op, w.value = blank.Field, blank.Op, blank.Value
		} else {
			w.children = []types.NodeID{}
		}
		return next, target, nil

	case types.KindAny, types.KindAll:
		var child types.Condition
		switch kind {
		case types.KindField:
			child = types.NewBlankField()
		case types.KindAny:
			child = types.AnyGroup{}
		default:
			child = types.AllGroup{}
		}
		id := next.insert(child, target)
		w := next.writable(target)
		w.children = append(w.children, id)
		next.touchAncestors(target)
		return next, id, nil
	}

	return t, "", fmt.Errorf("%w: %s is a field condition", types.ErrNotAGroup, target)
}

// Update replaces the node at target, and its whole subtree, with c.
// The target keeps its id; descendants of c get fresh ids.
func (t *Tree) Update(target types.NodeID, c types.Condition) (*Tree, error) {
	n, ok := t.nodes[target]
	if !ok {
		return t, fmt.Errorf("%w: %s", types.ErrNodeNotFound, target)
	}
	if c == nil {
		c = types.Empty{}
	}

	next := t.fork()
	next.dropSubtree(n.children)

	w := next.writable(target)
	w.kind = c.Kind()
	w.field, w.op, w.value = "", "", nil
	w.children = nil
	if fc, ok := c.(types.FieldCondition); ok {
		w.field, w.op, w.value = fc.Field, fc.Op, fc.Value
	}
	if w.kind == types.KindAny || w.kind == types.KindAll {
		w.children = []types.NodeID{}
		for _, child := range types.Children(c) {
			w.children = append(w.children, next.insert(child, target))
		}
	}
	next.touchAncestors(w.parent)
	return next, nil
}

// Delete removes target from its parent group. Deleting the root resets the
// tree to a single Empty node (the root id is kept). Removing the last child
// of a group leaves the group in place with no children.
func (t *Tree) Delete(target types.NodeID) (*Tree, error) {
	n, ok := t.nodes[target]
	if !ok {
		return t, fmt.Errorf("%w: %s", types.ErrNodeNotFound, target)
	}
	if target == t.root {
		return t.Update(target, types.Empty{})
	}

	next := t.fork()
	next.dropSubtree([]types.NodeID{target})

	p := next.writable(n.parent)
	kept := make([]types.NodeID, 0, len(p.children))
	for _, child := range p.children {
		if child != target {
			kept = append(kept, child)
		}
	}
	p.children = kept
	next.touchAncestors(n.parent)
	return next, nil
}

// fork returns a shallow copy of t: the node map is new, node values are
// shared until writable copies them.
func (t *Tree) fork() *Tree {
	nodes := make(map[types.NodeID]*node, len(t.nodes))
	for id, n := range t.nodes {
		nodes[id] = n
	}
	return &Tree{root: t.root, nodes: nodes, version: t.version + 1}
}

// writable replaces the shared node id with a private copy and returns it.
func (t *Tree) writable(id types.NodeID) *node {
	cp := *t.nodes[id]
	cp.children = append([]types.NodeID(nil), cp.children...)
	t.nodes[id] = &cp
	return &cp
}

// touchAncestors copies every ancestor of id (inclusive) so the edited path
// never aliases a node reachable from the previous version.
func (t *Tree) touchAncestors(id types.NodeID) {
	for id != "" {
		n := t.writable(id)
		id = n.parent
	}
}

func (t *Tree) dropSubtree(ids []types.NodeID) {
	for _, id := range ids {
		n, ok := t.nodes[id]
		if !ok {
			continue
		}
		t.dropSubtree(n.children)
		delete(t.nodes, id)
	}
}
