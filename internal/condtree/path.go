package condtree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/policydesk/internal/types"
)

/*
 * Path addressing.
 *
 * Editors that predate node ids address nodes with dot-delimited paths:
 * "root", then alternating group/index pairs such as "any.0" or "all.2".
 * "root.all.0.any.1" and "all.0.any.1" name the same node. Paths are
 * resolved to node ids against one tree version and the id-based edit is
 * applied, so a stale path fails instead of silently editing a sibling.
 */

// Step is one group/index hop of a path.
type Step struct {
	Group types.ConditionKind // KindAny or KindAll
	Index int
}

// ParsePath splits a dot-delimited path into steps. "" and "root" are the
// root; a leading "root." is optional.
func ParsePath(path string) ([]Step, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "root" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(path, "root."); ok {
		if rest == "" {
			return nil, fmt.Errorf("%w: %q ends with a dot", types.ErrInvalidPath, path)
		}
		path = rest
	}

	parts := strings.Split(path, ".")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("%w: %q has an unpaired segment", types.ErrInvalidPath, path)
	}

	steps := make([]Step, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		var group types.ConditionKind
		switch parts[i] {
		case "any":
			group = types.KindAny
		case "all":
			group = types.KindAll
		default:
			return nil, fmt.Errorf("%w: segment %q must be any or all", types.ErrInvalidPath, parts[i])
		}
		idx, err := strconv.Atoi(parts[i+1])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: index %q", types.ErrInvalidPath, parts[i+1])
		}
		steps = append(steps, Step{Group: group, Index: idx})
	}
	return steps, nil
}

// FormatPath renders steps in the canonical "root.any.0" form.
func FormatPath(steps []Step) string {
	var b strings.Builder
	b.WriteString("root")
	for _, s := range steps {
		fmt.Fprintf(&b, ".%s.%d", s.Group, s.Index)
	}
	return b.String()
}

// Resolve maps a path to a node id in this tree version.
func (t *Tree) Resolve(path string) (types.NodeID, error) {
	steps, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	current := t.root
	for _, s := range steps {
		n := t.nodes[current]
		if n.kind != s.Group {
			return "", fmt.Errorf("%w: %q expects %s group, found %s", types.ErrNodeNotFound, path, s.Group, n.kind)
		}
		if s.Index >= len(n.children) {
			return "", fmt.Errorf("%w: %q index %d out of range (%d children)", types.ErrNodeNotFound, path, s.Index, len(n.children))
		}
		current = n.children[s.Index]
	}
	return current, nil
}

// PathOf returns the canonical path of id.
func (t *Tree) PathOf(id types.NodeID) (string, error) {
	if _, ok := t.nodes[id]; !ok {
		return "", fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
	}
	var steps []Step
	for id != t.root {
		n := t.nodes[id]
		p := t.nodes[n.parent]
		idx := -1
		for i, child := range p.children {
			if child == id {
				idx = i
				break
			}
		}
		steps = append([]Step{{Group: p.kind, Index: idx}}, steps...)
		id = n.parent
	}
	return FormatPath(steps), nil
}

// AddAt is Add addressed by path. On error the receiver is returned unchanged.
func (t *Tree) AddAt(path string, kind types.ConditionKind) (*Tree, error) {
	id, err := t.Resolve(path)
	if err != nil {
		return t, err
	}
	next, _, err := t.Add(id, kind)
	return next, err
}

// UpdateAt is Update addressed by path.
func (t *Tree) UpdateAt(path string, c types.Condition) (*Tree, error) {
	id, err := t.Resolve(path)
	if err != nil {
		return t, err
	}
	return t.Update(id, c)
}

// DeleteAt is Delete addressed by path.
func (t *Tree) DeleteAt(path string) (*Tree, error) {
	id, err := t.Resolve(path)
	if err != nil {
		return t, err
	}
	return t.Delete(id)
}
