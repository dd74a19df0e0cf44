// internal/rules/compile.go
package rules

import (
	"fmt"
	"sort"

	"github.com/solatis/policydesk/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles a types.Rule into a CompiledRule: field paths parsed, literal
 * types inferred, resource limits checked and group children ordered by
 * cost for short-circuiting.
 *
 * Compilation workflow:
 *   1. Check condition nesting against MaxConditionDepth
 *   2. Parse each field path (depth and wildcard limits)
 *   3. Check in/not_in literals are lists within MaxInOperatorValues
 *   4. Calculate leaf costs, sum them into group costs
 *   5. Stable-sort group children by ascending cost
 *
 * Policies compile rule by rule and are ordered by descending priority;
 * ties keep document order.
 */

// CompiledCondition is a pre-processed condition node.
type CompiledCondition struct {
	Kind      types.ConditionKind
	Field     string
	Path      []PathSegment
	Operator  types.Operator
	FieldType FieldType
	Value     any   // comparison literal for scalar operators
	Values    []any // for in/not_in
	Children  []*CompiledCondition
	Cost      int
}

// CompiledRule is fully pre-processed and ready for evaluation.
type CompiledRule struct {
	Name     string
	Action   types.Action
	Priority int
	Index    int // position in the source document
	Root     *CompiledCondition
}

// CompiledPolicy is a rule set in evaluation order.
type CompiledPolicy struct {
	Rules []*CompiledRule
}

// Compile validates and pre-processes a rule for evaluation.
func Compile(rule types.Rule) (*CompiledRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	when := rule.When
	if when == nil {
		when = types.Empty{}
	}
	if types.Depth(when) > types.MaxConditionDepth {
		return nil, fmt.Errorf("%w: nesting exceeds %d levels", types.ErrInvalidCondition, types.MaxConditionDepth)
	}

	root, err := compileCondition(when)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	return &CompiledRule{
		Name:     rule.Name,
		Action:   rule.Action,
		Priority: rule.Priority,
		Root:     root,
	}, nil
}

// CompilePolicy compiles every rule and orders them for evaluation.
func CompilePolicy(rules []types.Rule) (*CompiledPolicy, error) {
	compiled := make([]*CompiledRule, 0, len(rules))
	for i, r := range rules {
		cr, err := Compile(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		cr.Index = i
		compiled = append(compiled, cr)
	}

	// Stable: equal priorities keep document order
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &CompiledPolicy{Rules: compiled}, nil
}

func compileCondition(c types.Condition) (*CompiledCondition, error) {
	switch v := c.(type) {
	case types.FieldCondition:
		return compileField(v)

	case types.AnyGroup, types.AllGroup:
		node := &CompiledCondition{Kind: c.Kind()}
		for i, child := range types.Children(c) {
			cc, err := compileCondition(child)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", c.Kind(), i, err)
			}
			node.Children = append(node.Children, cc)
			node.Cost += cc.Cost
		}
		sort.SliceStable(node.Children, func(i, j int) bool {
			return node.Children[i].Cost < node.Children[j].Cost
		})
		return node, nil

	default:
		return &CompiledCondition{Kind: types.KindEmpty, Cost: CostEmpty}, nil
	}
}

func compileField(fc types.FieldCondition) (*CompiledCondition, error) {
	if !fc.Op.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidOperator, fc.Op)
	}
	path, err := ParseFieldPath(fc.Field)
	if err != nil {
		return nil, err
	}

	cc := &CompiledCondition{
		Kind:     types.KindField,
		Field:    fc.Field,
		Path:     path,
		Operator: fc.Op,
	}

	switch fc.Op {
	case types.OpIn, types.OpNotIn:
		values, ok := fc.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %q needs a list value", types.ErrInvalidCondition, fc.Op, fc.Field)
		}
		if len(values) > types.MaxInOperatorValues {
			return nil, types.ErrTooManyInValues
		}
		cc.Values = values
		cc.FieldType = FieldTypeAny
	case types.OpContains, types.OpNotContains:
		cc.Value = fc.Value
		cc.FieldType = FieldTypeAny
	default:
		cc.Value = fc.Value
		cc.FieldType = InferFieldType(fc.Value)
	}

	cc.Cost = CalculateConditionCost(path, fc.Op, cc.FieldType)
	return cc, nil
}
