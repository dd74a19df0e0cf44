// internal/rules/operators.go
package rules

import (
	"reflect"
	"strings"

	"github.com/solatis/policydesk/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Values reach Compare already coerced (see coercion.go).
 *
 *   - eq/ne:             equality with numeric tolerance across number types
 *   - gt/gte/lt/lte:     numbers, or two strings compared lexically
 *                        (ISO dates order correctly); other mixes never match
 *   - in/not_in:         membership in the literal list
 *   - contains:          substring on strings, membership on arrays
 *   - not_contains:      negation of contains
 *
 * Missing-field handling lives in the evaluator, not here.
 */

// Compare applies the operator to compare value against target.
func Compare(op types.Operator, value, target any) bool {
	switch op {
	case types.OpEq:
		return compareEqual(value, target)
	case types.OpNe:
		return !compareEqual(value, target)
	case types.OpLt:
		c, ok := compareOrdered(value, target)
		return ok && c < 0
	case types.OpLte:
		c, ok := compareOrdered(value, target)
		return ok && c <= 0
	case types.OpGt:
		c, ok := compareOrdered(value, target)
		return ok && c > 0
	case types.OpGte:
		c, ok := compareOrdered(value, target)
		return ok && c >= 0
	case types.OpIn:
		return compareIn(value, target)
	case types.OpNotIn:
		return !compareIn(value, target)
	case types.OpContains:
		return compareContains(value, target)
	case types.OpNotContains:
		return !compareContains(value, target)
	default:
		return false
	}
}

// compareEqual performs equality comparison with numeric type coercion.
// Non-numeric values compare structurally so lists and objects never panic.
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered performs a three-way comparison. ok is false when the
// operands are not both numbers or both strings.
func compareOrdered(a, b any) (int, bool) {
	if na, nb, ok := asNumbers(a, b); ok {
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, oka := a.(string)
	sb, okb := b.(string)
	if oka && okb {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// compareIn checks if value exists in set using equality semantics.
func compareIn(value, set any) bool {
	arr, ok := set.([]any)
	if !ok {
		return false
	}
	for _, elem := range arr {
		if compareEqual(value, elem) {
			return true
		}
	}
	return false
}

// compareContains is substring search for strings and membership for arrays.
func compareContains(value, needle any) bool {
	switch v := value.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, elem := range v {
			if compareEqual(elem, needle) {
				return true
			}
		}
	}
	return false
}
