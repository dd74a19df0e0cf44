// Package policydoc converts between rules and policy YAML documents.
//
// Documents are a top-level sequence of rule mappings. Key order within a
// rule is fixed (name, description, category, when, action, priority) and
// indentation is two spaces, so generated documents diff cleanly across
// versions. ParseYAML also accepts the wrapped form `rules: [...]`.
package policydoc

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/solatis/policydesk/internal/types"
)

// GenerateYAML renders rules as a policy document.
func GenerateYAML(rules []types.Rule) (string, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for i, r := range rules {
		n, err := ruleNode(r)
		if err != nil {
			return "", fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		seq.Content = append(seq.Content, n)
	}
	if len(rules) == 0 {
		seq.Style = yaml.FlowStyle
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return "", fmt.Errorf("encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode policy: %w", err)
	}
	return buf.String(), nil
}

func ruleNode(r types.Rule) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	addScalar(m, "name", r.Name)
	if r.Description != "" {
		addScalar(m, "description", r.Description)
	}
	if r.Category != "" {
		addScalar(m, "category", r.Category)
	}

	when, err := conditionNode(r.When)
	if err != nil {
		return nil, err
	}
	m.Content = append(m.Content, keyNode("when"), when)

	addScalar(m, "action", string(r.Action))
	m.Content = append(m.Content, keyNode("priority"), &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: fmt.Sprint(r.Priority),
	})
	return m, nil
}

func conditionNode(c types.Condition) (*yaml.Node, error) {
	switch v := c.(type) {
	case types.FieldCondition:
		m := &yaml.Node{Kind: yaml.MappingNode}
		addScalar(m, "field", v.Field)
		addScalar(m, "op", string(v.Op))
		val, err := valueNode(v.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", v.Field, err)
		}
		m.Content = append(m.Content, keyNode("value"), val)
		return m, nil

	case types.AnyGroup:
		return groupNode("any", v.Conditions)

	case types.AllGroup:
		return groupNode("all", v.Conditions)

	default:
		return &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}, nil
	}
}

func groupNode(key string, children []types.Condition) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	if len(children) == 0 {
		seq.Style = yaml.FlowStyle
	}
	for i, child := range children {
		n, err := conditionNode(child)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		seq.Content = append(seq.Content, n)
	}
	m := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, keyNode(key), seq)
	return m, nil
}

// valueNode encodes a literal. Maps are emitted with sorted keys so output
// is stable.
func valueNode(v any) (*yaml.Node, error) {
	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range keys {
			child, err := valueNode(m[k])
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, keyNode(k), child)
		}
		return out, nil
	}

	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	if n.Kind == yaml.SequenceNode && len(n.Content) <= 8 {
		n.Style = yaml.FlowStyle
	}
	return n, nil
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

func addScalar(m *yaml.Node, key, value string) {
	m.Content = append(m.Content, keyNode(key), &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: value,
	})
}
