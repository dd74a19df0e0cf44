package policydoc

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/solatis/policydesk/internal/types"
)

var (
	// ErrNotRuleList is returned when the document root is neither a
	// sequence nor a mapping with a rules key.
	ErrNotRuleList = errors.New("policy document must be a list of rules or a mapping with a rules key")

	// ErrRuleNotMapping is returned for sequence items that are not mappings.
	ErrRuleNotMapping = errors.New("rule must be a mapping")
)

// SyntaxError is a YAML parse failure with the offending line when known.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("yaml syntax error at line %d: %s", e.Line, e.Msg)
	}
	return "yaml syntax error: " + e.Msg
}

var yamlLineRe = regexp.MustCompile(`line (\d+): (.*)`)

func syntaxError(err error) *SyntaxError {
	msg := err.Error()
	if m := yamlLineRe.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return &SyntaxError{Line: line, Msg: m[2]}
	}
	return &SyntaxError{Msg: msg}
}

// Entry is one raw rule mapping with its source position. Validation works
// on entries so a single malformed rule does not hide the others.
type Entry struct {
	Index    int
	Line     int
	WhenLine int
	Raw      map[string]any
}

// Name returns the raw name value if it is a string.
func (e Entry) Name() string {
	s, _ := e.Raw["name"].(string)
	return s
}

// Entries parses doc into raw rule mappings.
func Entries(doc []byte) ([]Entry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, syntaxError(err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil
	}

	list := root.Content[0]
	if list.Kind == yaml.MappingNode {
		var found *yaml.Node
		for i := 0; i+1 < len(list.Content); i += 2 {
			if list.Content[i].Value == "rules" {
				found = list.Content[i+1]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("line %d: %w", list.Line, ErrNotRuleList)
		}
		list = found
	}
	if list.Kind == yaml.ScalarNode && list.Tag == "!!null" {
		return nil, nil
	}
	if list.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: %w", list.Line, ErrNotRuleList)
	}

	entries := make([]Entry, 0, len(list.Content))
	for i, item := range list.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("rule %d at line %d: %w", i, item.Line, ErrRuleNotMapping)
		}
		var raw map[string]any
		if err := item.Decode(&raw); err != nil {
			return nil, fmt.Errorf("rule %d at line %d: %w: %v", i, item.Line, types.ErrInvalidRule, err)
		}
		e := Entry{Index: i, Line: item.Line, Raw: raw}
		for j := 0; j+1 < len(item.Content); j += 2 {
			if item.Content[j].Value == "when" {
				e.WhenLine = item.Content[j+1].Line
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ParseYAML parses a policy document into rules. Every rule must decode;
// use the validate package for a full report instead of the first error.
func ParseYAML(doc []byte) ([]types.Rule, error) {
	entries, err := Entries(doc)
	if err != nil {
		return nil, err
	}
	rules := make([]types.Rule, 0, len(entries))
	for _, e := range entries {
		r, err := RuleFromMap(e.Raw)
		if err != nil {
			return nil, fmt.Errorf("rule %d at line %d: %w", e.Index, e.Line, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// RuleFromMap builds a rule from a decoded mapping. Missing action and
// priority take the defaults of a new rule.
func RuleFromMap(m map[string]any) (types.Rule, error) {
	r := types.NewRule("")

	name, err := optString(m, "name")
	if err != nil {
		return r, err
	}
	r.Name = name
	if r.Description, err = optString(m, "description"); err != nil {
		return r, err
	}
	if r.Category, err = optString(m, "category"); err != nil {
		return r, err
	}

	when, err := types.FromValue(m["when"])
	if err != nil {
		return r, fmt.Errorf("when: %w", err)
	}
	r.When = when

	if raw, ok := m["action"]; ok {
		s, _ := raw.(string)
		if r.Action, err = types.ParseAction(s); err != nil {
			return r, err
		}
	}

	if raw, ok := m["priority"]; ok {
		p, ok := asInt(raw)
		if !ok {
			return r, fmt.Errorf("%w: %v", types.ErrInvalidPriority, raw)
		}
		r.Priority = p
	}
	return r, nil
}

func optString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", types.ErrInvalidRule, key, raw)
	}
	return s, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// Format normalises a document: parse then regenerate.
func Format(doc []byte) (string, error) {
	rules, err := ParseYAML(doc)
	if err != nil {
		return "", err
	}
	return GenerateYAML(rules)
}
