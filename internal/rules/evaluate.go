// internal/rules/evaluate.go
package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/solatis/policydesk/internal/types"
)

/*
 * Rule evaluation.
 *
 * Evaluates compiled rules against a decoded JSON payload.
 *
 *   - Empty condition:  true (a rule with no condition always applies)
 *   - all:              AND with short-circuit on first non-match; [] is true
 *   - any:              OR with short-circuit on first match; [] is false
 *   - field:            resolve path -> coerce -> compare
 *
 * Missing or null fields never match, except for ne, not_in and
 * not_contains: an absent value differs from every literal.
 *
 * A [*] wildcard fans out to every element it reaches. Positive operators
 * match when any element matches; ne, not_in and not_contains match only
 * when every element does.
 *
 * Policy decision: rules run in descending priority. The first matching
 * block rule decides BLOCK; otherwise the first matching flag rule decides
 * FLAG; otherwise ALLOW. Every matching rule is reported.
 */

// Verdict is the outcome of evaluating a policy.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictBlock Verdict = "BLOCK"
	VerdictFlag  Verdict = "FLAG"
)

// MatchResult contains the outcome of evaluating one rule.
type MatchResult struct {
	Matched      bool         `json:"matched"`
	RuleName     string       `json:"rule"`
	Action       types.Action `json:"action"`
	Priority     int          `json:"priority"`
	MatchedField string       `json:"matched_field,omitempty"`
	MatchedValue any          `json:"matched_value,omitempty"`
}

// Decision is the outcome of evaluating a whole policy.
type Decision struct {
	Decision     Verdict       `json:"decision"`
	MatchedRule  string        `json:"matched_rule,omitempty"`
	MatchedRules []string      `json:"matched_rules"`
	Evaluated    int           `json:"evaluated"`
	Results      []MatchResult `json:"results"`
}

// DecodePayload decodes a JSON transaction payload.
func DecodePayload(payload json.RawMessage) (any, error) {
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return data, nil
}

// Evaluate checks if the rule matches the decoded payload.
func Evaluate(rule *CompiledRule, data any) (MatchResult, error) {
	result := MatchResult{
		RuleName: rule.Name,
		Action:   rule.Action,
		Priority: rule.Priority,
	}

	var m leafMatch
	matched, err := evaluateNode(rule.Root, data, &m)
	if err != nil {
		return result, err
	}
	result.Matched = matched
	if matched && m.set {
		result.MatchedField = FormatFieldPath(m.path)
		result.MatchedValue = m.value
	}
	return result, nil
}

// EvaluatePolicy evaluates every rule and derives the decision.
func EvaluatePolicy(policy *CompiledPolicy, payload json.RawMessage) (Decision, error) {
	data, err := DecodePayload(payload)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Decision: VerdictAllow, MatchedRules: []string{}, Results: make([]MatchResult, 0, len(policy.Rules))}
	firstBlock, firstFlag := "", ""
	for _, rule := range policy.Rules {
		res, err := Evaluate(rule, data)
		if err != nil {
			return Decision{}, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		d.Evaluated++
		d.Results = append(d.Results, res)
		if !res.Matched {
			continue
		}
		d.MatchedRules = append(d.MatchedRules, rule.Name)
		switch rule.Action {
		case types.ActionBlock:
			if firstBlock == "" {
				firstBlock = rule.Name
			}
		case types.ActionFlag:
			if firstFlag == "" {
				firstFlag = rule.Name
			}
		}
	}

	switch {
	case firstBlock != "":
		d.Decision, d.MatchedRule = VerdictBlock, firstBlock
	case firstFlag != "":
		d.Decision, d.MatchedRule = VerdictFlag, firstFlag
	case len(d.MatchedRules) > 0:
		d.MatchedRule = d.MatchedRules[0]
	}
	return d, nil
}

// leafMatch records the first leaf that contributed to a match.
type leafMatch struct {
	set   bool
	path  []PathSegment
	value any
}

func evaluateNode(node *CompiledCondition, data any, m *leafMatch) (bool, error) {
	switch node.Kind {
	case types.KindField:
		matched, path, value, err := evaluateCondition(node, data)
		if err != nil {
			return false, err
		}
		if matched && !m.set {
			m.set, m.path, m.value = true, path, value
		}
		return matched, nil

	case types.KindAll:
		for _, child := range node.Children {
			var cm leafMatch
			matched, err := evaluateNode(child, data, &cm)
			if err != nil || !matched {
				return false, err
			}
			if cm.set && !m.set {
				*m = cm
			}
		}
		return true, nil

	case types.KindAny:
		for _, child := range node.Children {
			var cm leafMatch
			matched, err := evaluateNode(child, data, &cm)
			if err != nil {
				return false, err
			}
			if matched {
				if cm.set && !m.set {
					*m = cm
				}
				return true, nil
			}
		}
		return false, nil

	default:
		return true, nil
	}
}

// evaluateCondition orchestrates resolve path -> coerce type -> compare.
// Over a wildcard path the condition matches when any resolved element
// matches; ne, not_in and not_contains instead require every element to
// match, so "items[*].sku ne x" means no item has sku x.
func evaluateCondition(cond *CompiledCondition, data any) (bool, []PathSegment, any, error) {
	resolved, err := ResolveAll(cond.Path, data)
	if errors.Is(err, types.ErrFieldNotFound) {
		return matchesMissing(cond.Operator), nil, nil, nil
	}
	if err != nil {
		return false, nil, nil, err
	}

	target := cond.Value
	if cond.Operator == types.OpIn || cond.Operator == types.OpNotIn {
		target = cond.Values
	} else if coercedTarget, err := Coerce(target, cond.FieldType); err == nil && !coercedTarget.IsNull {
		target = coercedTarget.Value
	}

	every := matchesMissing(cond.Operator)
	var firstPath []PathSegment
	var firstValue any
	for i, r := range resolved {
		matched, err := compareResolved(cond, r.Value, target)
		if err != nil {
			return false, nil, nil, err
		}
		if i == 0 {
			firstPath, firstValue = r.ResolvedPath, r.Value
		}
		switch {
		case matched && !every:
			return true, r.ResolvedPath, r.Value, nil
		case !matched && every:
			return false, nil, nil, nil
		}
	}
	if every {
		return true, firstPath, firstValue, nil
	}
	return false, nil, nil, nil
}

// compareResolved coerces one resolved value and compares it with target.
func compareResolved(cond *CompiledCondition, raw, target any) (bool, error) {
	coerced, err := Coerce(raw, cond.FieldType)
	switch {
	case errors.Is(err, types.ErrCoercionFailed):
		return Compare(cond.Operator, raw, target), nil
	case err != nil:
		return false, err
	case coerced.IsNull:
		return matchesMissing(cond.Operator), nil
	default:
		return Compare(cond.Operator, coerced.Value, target), nil
	}
}

// matchesMissing reports the outcome for an absent or null field.
func matchesMissing(op types.Operator) bool {
	switch op {
	case types.OpNe, types.OpNotIn, types.OpNotContains:
		return true
	default:
		return false
	}
}
