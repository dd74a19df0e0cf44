// Package validate checks policy documents and reports structured issues.
//
// Every issue carries a kind (syntax, structure, field_reference, other),
// the rule it belongs to, the field it names and a source line where one is
// known. Errors make a document invalid; warnings do not.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/policydesk/internal/policydoc"
	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/types"
)

// Kind classifies a validation issue.
type Kind string

const (
	KindSyntax         Kind = "syntax"
	KindStructure      Kind = "structure"
	KindFieldReference Kind = "field_reference"
	KindOther          Kind = "other"
)

// Issue is one validation finding.
type Issue struct {
	Kind    Kind   `json:"kind"`
	Rule    string `json:"rule,omitempty"`
	Field   string `json:"field,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", i.Line)
	}
	if i.Rule != "" {
		fmt.Fprintf(&b, "rule %q: ", i.Rule)
	}
	b.WriteString(i.Message)
	return b.String()
}

// Metadata summarises a document.
type Metadata struct {
	RuleCount int            `json:"rule_count"`
	Actions   map[string]int `json:"actions"`
	MaxDepth  int            `json:"max_depth"`
	Fields    []string       `json:"fields"`
}

// Result is the outcome of validating a document.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors"`
	Warnings []Issue  `json:"warnings"`
	Metadata Metadata `json:"metadata"`
}

// Validator checks documents against an optional field catalogue.
type Validator struct {
	known map[string]struct{}
}

// New returns a validator. With an empty catalogue field references are
// only checked for syntax.
func New(knownFields []string) *Validator {
	v := &Validator{known: make(map[string]struct{}, len(knownFields))}
	for _, f := range knownFields {
		if f = strings.TrimSpace(f); f != "" {
			v.known[normalizeField(f)] = struct{}{}
		}
	}
	return v
}

type checker struct {
	v      *Validator
	result Result
	fields map[string]struct{}
}

func (c *checker) errorf(kind Kind, rule, field string, line int, format string, args ...any) {
	c.result.Errors = append(c.result.Errors, Issue{Kind: kind, Rule: rule, Field: field, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) warnf(kind Kind, rule, field string, line int, format string, args ...any) {
	c.result.Warnings = append(c.result.Warnings, Issue{Kind: kind, Rule: rule, Field: field, Line: line, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a YAML policy document.
func (v *Validator) Validate(doc []byte) Result {
	c := v.newChecker()

	if strings.TrimSpace(string(doc)) == "" {
		c.errorf(KindStructure, "", "", 0, "policy document is empty")
		return c.finish()
	}

	entries, err := policydoc.Entries(doc)
	if err != nil {
		var se *policydoc.SyntaxError
		if errors.As(err, &se) {
			c.errorf(KindSyntax, "", "", se.Line, "%s", se.Msg)
		} else {
			c.errorf(KindStructure, "", "", 0, "%s", err.Error())
		}
		return c.finish()
	}
	if len(entries) == 0 {
		c.warnf(KindStructure, "", "", 0, "policy has no rules")
	}

	seen := make(map[string]int)
	for _, e := range entries {
		c.checkEntry(e, seen)
	}
	return c.finish()
}

// ValidateRules checks already decoded rules.
func (v *Validator) ValidateRules(list []types.Rule) Result {
	c := v.newChecker()
	if len(list) == 0 {
		c.warnf(KindStructure, "", "", 0, "policy has no rules")
	}
	seen := make(map[string]int)
	for i, r := range list {
		c.checkRule(r, i, 0, 0, seen)
	}
	return c.finish()
}

func (v *Validator) newChecker() *checker {
	return &checker{
		v: v,
		result: Result{
			Errors:   []Issue{},
			Warnings: []Issue{},
			Metadata: Metadata{Actions: map[string]int{
				string(types.ActionAllow): 0,
				string(types.ActionBlock): 0,
				string(types.ActionFlag):  0,
			}},
		},
		fields: make(map[string]struct{}),
	}
}

func (c *checker) finish() Result {
	fields := make([]string, 0, len(c.fields))
	for f := range c.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	c.result.Metadata.Fields = fields
	c.result.Valid = len(c.result.Errors) == 0
	return c.result
}

// checkEntry validates one raw mapping, reporting every problem it can
// find rather than stopping at the first decode error.
func (c *checker) checkEntry(e policydoc.Entry, seen map[string]int) {
	name := e.Name()
	label := name
	if label == "" {
		label = fmt.Sprintf("#%d", e.Index+1)
	}

	rule := types.NewRule(name)
	ok := true

	if raw, present := e.Raw["name"]; present && raw != nil {
		if _, isString := raw.(string); !isString {
			c.errorf(KindStructure, label, "", e.Line, "name must be a string")
			ok = false
		}
	}

	if raw, present := e.Raw["action"]; present {
		s, _ := raw.(string)
		a, err := types.ParseAction(s)
		if err != nil {
			c.errorf(KindStructure, label, "", e.Line, "action must be one of allow, block, flag (got %v)", raw)
			ok = false
		} else {
			rule.Action = a
		}
	}

	if raw, present := e.Raw["priority"]; present {
		p, isInt := toInt(raw)
		switch {
		case !isInt:
			c.errorf(KindStructure, label, "", e.Line, "priority must be an integer (got %v)", raw)
			ok = false
		case p < types.MinPriority || p > types.MaxPriority:
			c.errorf(KindStructure, label, "", e.Line, "priority %d out of range %d-%d", p, types.MinPriority, types.MaxPriority)
			ok = false
		default:
			rule.Priority = p
		}
	}

	line := e.WhenLine
	if line == 0 {
		line = e.Line
	}
	when, err := types.FromValue(e.Raw["when"])
	if err != nil {
		kind := KindStructure
		if errors.Is(err, types.ErrInvalidOperator) {
			kind = KindOther
		}
		c.errorf(kind, label, "", line, "when: %s", err.Error())
		ok = false
	} else {
		rule.When = when
	}

	if !ok {
		// Still count the rule and check its name
		c.result.Metadata.RuleCount++
		c.checkName(name, label, e.Line, seen)
		if err == nil {
			c.checkCondition(rule.When, label, line, 1)
		}
		return
	}
	c.checkRule(rule, e.Index, e.Line, line, seen)
}

func (c *checker) checkRule(r types.Rule, index, line, whenLine int, seen map[string]int) {
	label := r.Name
	if label == "" {
		label = fmt.Sprintf("#%d", index+1)
	}
	c.result.Metadata.RuleCount++
	c.checkName(r.Name, label, line, seen)

	if _, err := types.ParseAction(string(r.Action)); err != nil {
		c.errorf(KindStructure, label, "", line, "action must be one of allow, block, flag (got %q)", r.Action)
	} else {
		c.result.Metadata.Actions[string(r.Action)]++
	}
	if r.Priority < types.MinPriority || r.Priority > types.MaxPriority {
		c.errorf(KindStructure, label, "", line, "priority %d out of range %d-%d", r.Priority, types.MinPriority, types.MaxPriority)
	}

	when := r.When
	if when == nil {
		when = types.Empty{}
	}
	if when.Kind() == types.KindEmpty {
		c.warnf(KindStructure, label, "", whenLine, "rule has no condition and always matches")
	}
	c.checkCondition(when, label, whenLine, 1)
}

func (c *checker) checkName(name, label string, line int, seen map[string]int) {
	if strings.TrimSpace(name) == "" {
		c.errorf(KindStructure, label, "", line, "rule name is required")
		return
	}
	if prev, dup := seen[name]; dup {
		c.warnf(KindStructure, label, "", line, "duplicate rule name (first defined as rule #%d)", prev+1)
		return
	}
	seen[name] = len(seen)
}

func (c *checker) checkCondition(cond types.Condition, rule string, line, depth int) {
	if depth > c.result.Metadata.MaxDepth {
		c.result.Metadata.MaxDepth = depth
	}
	if depth > types.MaxConditionDepth {
		c.errorf(KindStructure, rule, "", line, "conditions nested deeper than %d levels", types.MaxConditionDepth)
		return
	}

	switch v := cond.(type) {
	case types.AnyGroup, types.AllGroup:
		children := types.Children(cond)
		if len(children) == 0 {
			c.warnf(KindStructure, rule, "", line, "empty %s group", cond.Kind())
		}
		for _, child := range children {
			c.checkCondition(child, rule, line, depth+1)
		}
	case types.FieldCondition:
		c.checkField(v, rule, line)
	}
}

func (c *checker) checkField(fc types.FieldCondition, rule string, line int) {
	if strings.TrimSpace(fc.Field) == "" {
		c.errorf(KindFieldReference, rule, "", line, "condition has no field")
		return
	}
	c.fields[fc.Field] = struct{}{}

	if _, err := rules.ParseFieldPath(fc.Field); err != nil {
		c.errorf(KindFieldReference, rule, fc.Field, line, "invalid field path %q: %s", fc.Field, err.Error())
	} else if len(c.v.known) > 0 {
		if _, ok := c.v.known[normalizeField(fc.Field)]; !ok {
			c.errorf(KindFieldReference, rule, fc.Field, line, "unknown field %q", fc.Field)
		}
	}

	switch fc.Op {
	case types.OpIn, types.OpNotIn:
		list, ok := fc.Value.([]any)
		if !ok {
			c.errorf(KindOther, rule, fc.Field, line, "operator %s requires a list value", fc.Op)
		} else if len(list) > types.MaxInOperatorValues {
			c.errorf(KindOther, rule, fc.Field, line, "operator %s has %d values (max %d)", fc.Op, len(list), types.MaxInOperatorValues)
		} else if len(list) == 0 {
			c.warnf(KindOther, rule, fc.Field, line, "operator %s with an empty list", fc.Op)
		}
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		switch fc.Value.(type) {
		case []any, map[string]any, bool, nil:
			c.errorf(KindOther, rule, fc.Field, line, "operator %s requires a number or string value", fc.Op)
		}
	}
}

// normalizeField drops indices and wildcards so "items[0].sku",
// "items[*].sku" and "items.sku" all match a catalogue entry "items.sku".
func normalizeField(field string) string {
	var b strings.Builder
	depth := 0
	for _, r := range field {
		switch {
		case r == '[':
			depth++
		case r == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	parts := strings.Split(b.String(), ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" && p != "*" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
