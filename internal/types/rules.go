// internal/types/rules.go
package types

/*
 * Policy rule model.
 *
 * A Rule pairs a condition tree (When) with an action and a priority. The
 * condition tree is a closed sum type:
 *
 *   - Empty:          {}                       fresh rule, nothing selected yet
 *   - FieldCondition: {field, op, value}       leaf predicate
 *   - AnyGroup:       {any: [...]}             OR over children
 *   - AllGroup:       {all: [...]}             AND over children
 *
 * Wire form is a mapping carrying at most one of field/any/all. Decoding a
 * mapping with two of them fails with ErrMixedCondition, so the exclusivity
 * invariant holds for every tree that enters the process.
 *
 * ToValue/FromValue convert between the sum type and the generic
 * map[string]any form produced by encoding/json and yaml.v3.
 */

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Operator is a field-condition comparison operator.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// Operators lists the closed operator set in display order.
var Operators = []Operator{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpNotContains}

// ParseOperator validates an operator string.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
	return op, nil
}

// Valid reports whether op belongs to the operator set.
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Action is the outcome a matching rule produces.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
	ActionFlag  Action = "flag"
)

// ParseAction validates an action string.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a {
	case ActionAllow, ActionBlock, ActionFlag:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// ConditionKind discriminates the Condition variants.
type ConditionKind int

const (
	KindEmpty ConditionKind = iota
	KindField
	KindAny
	KindAll
)

func (k ConditionKind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindAny:
		return "any"
	case KindAll:
		return "all"
	default:
		return "empty"
	}
}

// ParseConditionKind maps "field", "any", "all" (and "" or "empty") to a kind.
func ParseConditionKind(s string) (ConditionKind, error) {
	switch s {
	case "field":
		return KindField, nil
	case "any":
		return KindAny, nil
	case "all":
		return KindAll, nil
	case "", "empty":
		return KindEmpty, nil
	}
	return KindEmpty, fmt.Errorf("%w: unknown condition kind %q", ErrInvalidCondition, s)
}

// Condition is one node of a rule's condition tree.
type Condition interface {
	Kind() ConditionKind
	isCondition()
}

// Empty is the placeholder condition of a fresh rule.
type Empty struct{}

// FieldCondition is a leaf predicate comparing a payload field to a value.
type FieldCondition struct {
	Field string
	Op    Operator
	Value any
}

// AnyGroup matches when at least one child matches.
type AnyGroup struct {
	Conditions []Condition
}

// AllGroup matches when every child matches.
type AllGroup struct {
	Conditions []Condition
}

func (Empty) Kind() ConditionKind          { return KindEmpty }
func (FieldCondition) Kind() ConditionKind { return KindField }
func (AnyGroup) Kind() ConditionKind       { return KindAny }
func (AllGroup) Kind() ConditionKind       { return KindAll }

func (Empty) isCondition()          {}
func (FieldCondition) isCondition() {}
func (AnyGroup) isCondition()       {}
func (AllGroup) isCondition()       {}

// NewBlankField returns the leaf inserted by the editor's "add field" action.
func NewBlankField() FieldCondition {
	return FieldCondition{Field: "", Op: OpEq, Value: ""}
}

// Children returns the child list of a group, nil for leaves.
func Children(c Condition) []Condition {
	switch v := c.(type) {
	case AnyGroup:
		return v.Conditions
	case AllGroup:
		return v.Conditions
	}
	return nil
}

// Depth returns the nesting depth of c (a leaf or empty node has depth 1).
func Depth(c Condition) int {
	deepest := 0
	for _, child := range Children(c) {
		if d := Depth(child); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// ToValue converts a condition into its generic wire form.
// Groups always carry a non-nil slice so empty groups survive encoding as [].
func ToValue(c Condition) map[string]any {
	switch v := c.(type) {
	case FieldCondition:
		return map[string]any{"field": v.Field, "op": string(v.Op), "value": v.Value}
	case AnyGroup:
		return map[string]any{"any": childValues(v.Conditions)}
	case AllGroup:
		return map[string]any{"all": childValues(v.Conditions)}
	default:
		return map[string]any{}
	}
}

func childValues(children []Condition) []any {
	out := make([]any, 0, len(children))
	for _, child := range children {
		out = append(out, ToValue(child))
	}
	return out
}

// FromValue converts a decoded JSON/YAML value into a condition.
// nil decodes as Empty. Rejects nodes carrying more than one variant tag.
func FromValue(v any) (Condition, error) {
	if v == nil {
		return Empty{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected mapping, got %T", ErrInvalidCondition, v)
	}

	_, hasField := m["field"]
	anyVal, hasAny := m["any"]
	allVal, hasAll := m["all"]

	tags := 0
	for _, has := range []bool{hasField, hasAny, hasAll} {
		if has {
			tags++
		}
	}
	if tags > 1 {
		return nil, ErrMixedCondition
	}

	switch {
	case hasField:
		return fieldFromValue(m)
	case hasAny:
		children, err := childrenFromValue(anyVal)
		if err != nil {
			return nil, fmt.Errorf("any: %w", err)
		}
		return AnyGroup{Conditions: children}, nil
	case hasAll:
		children, err := childrenFromValue(allVal)
		if err != nil {
			return nil, fmt.Errorf("all: %w", err)
		}
		return AllGroup{Conditions: children}, nil
	}

	if len(m) > 0 {
		return nil, fmt.Errorf("%w: mapping has no field, any or all key", ErrInvalidCondition)
	}
	return Empty{}, nil
}

func fieldFromValue(m map[string]any) (Condition, error) {
	field, ok := m["field"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: field must be a string", ErrInvalidCondition)
	}
	opStr := string(OpEq)
	if raw, ok := m["op"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: op must be a string", ErrInvalidCondition)
		}
		opStr = s
	}
	op, err := ParseOperator(opStr)
	if err != nil {
		return nil, err
	}
	return FieldCondition{Field: field, Op: op, Value: m["value"]}, nil
}

func childrenFromValue(v any) ([]Condition, error) {
	if v == nil {
		return []Condition{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected list, got %T", ErrInvalidCondition, v)
	}
	children := make([]Condition, 0, len(list))
	for i, item := range list {
		child, err := FromValue(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		children = append(children, child)
	}
	return children, nil
}

// EqualConditions reports whether two trees have the same wire form.
func EqualConditions(a, b Condition) bool {
	return reflect.DeepEqual(ToValue(a), ToValue(b))
}

// Rule is a named condition tree with an action and priority.
type Rule struct {
	Name        string
	When        Condition
	Action      Action
	Priority    int
	Description string
	Category    string
}

// NewRule returns a rule with an empty condition, the editor's starting state.
func NewRule(name string) Rule {
	return Rule{Name: name, When: Empty{}, Action: ActionAllow, Priority: 50}
}

// Validate checks name, action and priority; condition trees are checked by
// the validate package.
func (r Rule) Validate() error {
	if r.Name == "" {
		return ErrEmptyName
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, r.Priority)
	}
	return nil
}

type ruleWire struct {
	Name        string         `json:"name"`
	When        map[string]any `json:"when"`
	Action      Action         `json:"action"`
	Priority    int            `json:"priority"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	when := r.When
	if when == nil {
		when = Empty{}
	}
	return json.Marshal(ruleWire{
		Name:        r.Name,
		When:        ToValue(when),
		Action:      r.Action,
		Priority:    r.Priority,
		Description: r.Description,
		Category:    r.Category,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string `json:"name"`
		When        any    `json:"when"`
		Action      Action `json:"action"`
		Priority    int    `json:"priority"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	when, err := FromValue(raw.When)
	if err != nil {
		return fmt.Errorf("rule %q: %w", raw.Name, err)
	}
	*r = Rule{
		Name:        raw.Name,
		When:        when,
		Action:      raw.Action,
		Priority:    raw.Priority,
		Description: raw.Description,
		Category:    raw.Category,
	}
	return nil
}
