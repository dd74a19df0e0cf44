package condtree

import "github.com/solatis/policydesk/internal/types"

// Draft is a rule under edit: rule metadata plus its condition tree.
// Like Tree, a Draft is never modified; every edit returns a new Draft so
// callers can detect change by pointer.
type Draft struct {
	Name        string
	Action      types.Action
	Priority    int
	Description string
	Category    string
	tree        *Tree
}

// NewDraft starts an editing session for rule.
func NewDraft(rule types.Rule) *Draft {
	return &Draft{
		Name:        rule.Name,
		Action:      rule.Action,
		Priority:    rule.Priority,
		Description: rule.Description,
		Category:    rule.Category,
		tree:        New(rule.When),
	}
}

// Tree returns the current condition tree.
func (d *Draft) Tree() *Tree { return d.tree }

// Rule materialises the draft.
func (d *Draft) Rule() types.Rule {
	return types.Rule{
		Name:        d.Name,
		When:        d.tree.Condition(),
		Action:      d.Action,
		Priority:    d.Priority,
		Description: d.Description,
		Category:    d.Category,
	}
}

func (d *Draft) with(t *Tree) *Draft {
	if t == d.tree {
		return d
	}
	cp := *d
	cp.tree = t
	return &cp
}

// AddCondition adds a node of kind under the node at path.
// On error the receiver is returned with the error.
func (d *Draft) AddCondition(path string, kind types.ConditionKind) (*Draft, error) {
	t, err := d.tree.AddAt(path, kind)
	return d.with(t), err
}

// UpdateCondition replaces the node at path.
func (d *Draft) UpdateCondition(path string, c types.Condition) (*Draft, error) {
	t, err := d.tree.UpdateAt(path, c)
	return d.with(t), err
}

// DeleteCondition removes the node at path; the root resets to Empty.
func (d *Draft) DeleteCondition(path string) (*Draft, error) {
	t, err := d.tree.DeleteAt(path)
	return d.with(t), err
}

// Edit applies an id-based edit to the tree.
func (d *Draft) Edit(fn func(*Tree) (*Tree, error)) (*Draft, error) {
	t, err := fn(d.tree)
	if t == nil {
		t = d.tree
	}
	return d.with(t), err
}
