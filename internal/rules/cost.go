// internal/rules/cost.go
package rules

import "github.com/solatis/policydesk/internal/types"

/*
 * Cost model for condition evaluation.
 *
 * cost(leaf)  = lookup_cost + operator_cost * type_multiplier * 8^wildcards
 * cost(group) = sum of child costs
 *
 * Children of any/all groups are evaluated in ascending cost order (stable,
 * so equal-cost siblings keep document order). A cheap leaf that settles a
 * group short-circuits its expensive siblings.
 */

const (
	// Operator base costs
	CostEq          = 5
	CostNe          = 5
	CostOrdered     = 7
	CostIn          = 8
	CostNotIn       = 8
	CostContains    = 10
	CostNotContains = 10

	// Field lookup cost per key segment
	CostLookupPerSegment = 128

	// Field type multipliers
	MultiplierBool   = 1
	MultiplierFloat  = 4
	MultiplierString = 48
	MultiplierAny    = 128

	// Cost of an empty condition (constant true or false)
	CostEmpty = 0
)

// CalculateConditionCost computes cost for a single field condition.
func CalculateConditionCost(path []PathSegment, op types.Operator, fieldType FieldType) int {
	lookupCost := 0
	wildcardCount := 0
	for _, seg := range path {
		if seg.Key != "" {
			lookupCost += CostLookupPerSegment
		}
		if seg.Wildcard {
			wildcardCount++
		}
	}

	execMult := 1
	for i := 0; i < wildcardCount; i++ {
		execMult *= 8
	}

	return lookupCost + operatorCost(op)*typeMultiplier(fieldType)*execMult
}

func operatorCost(op types.Operator) int {
	switch op {
	case types.OpEq:
		return CostEq
	case types.OpNe:
		return CostNe
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		return CostOrdered
	case types.OpIn:
		return CostIn
	case types.OpNotIn:
		return CostNotIn
	case types.OpContains:
		return CostContains
	case types.OpNotContains:
		return CostNotContains
	default:
		return CostEq
	}
}

func typeMultiplier(ft FieldType) int {
	switch ft {
	case FieldTypeNumeric:
		return MultiplierFloat
	case FieldTypeBoolean:
		return MultiplierBool
	case FieldTypeText:
		return MultiplierString
	default:
		return MultiplierAny
	}
}
