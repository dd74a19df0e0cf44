// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/policydesk/internal/types"
)

/*
 * Type coercion for rule evaluation.
 *
 * Policy documents carry untyped literals, so the comparison type of a field
 * condition is inferred from its literal at compile time:
 *
 *   - number literal  -> NUMERIC: payload numbers and numeric strings compare
 *   - bool literal    -> BOOLEAN: payload must be a bool
 *   - string literal  -> TEXT: payload scalars compare by string form
 *   - list / null     -> ANY: original type kept, compared structurally
 *
 * Null payload values are reported as IsNull and treated like a missing field
 * by the evaluator. A coercion failure ("abc" against a number) is reported
 * as ErrCoercionFailed and the evaluator compares the raw values instead, so
 * eq fails and ne matches.
 */

// FieldType is the comparison type inferred for a field condition.
type FieldType int

const (
	FieldTypeAny FieldType = iota
	FieldTypeNumeric
	FieldTypeText
	FieldTypeBoolean
)

func (ft FieldType) String() string {
	switch ft {
	case FieldTypeNumeric:
		return "numeric"
	case FieldTypeText:
		return "text"
	case FieldTypeBoolean:
		return "boolean"
	default:
		return "any"
	}
}

// InferFieldType picks the comparison type for a condition literal.
func InferFieldType(literal any) FieldType {
	switch literal.(type) {
	case float64, float32, int, int64, int32, uint64, uint32, json.Number:
		return FieldTypeNumeric
	case bool:
		return FieldTypeBoolean
	case string:
		return FieldTypeText
	default:
		return FieldTypeAny
	}
}

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any  // coerced value (valid only if !IsNull)
	IsNull bool // true if input was nil/null
}

// Coerce attempts to convert value to the expected field type.
func Coerce(value any, fieldType FieldType) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}

	switch fieldType {
	case FieldTypeNumeric:
		return coerceNumeric(value)
	case FieldTypeText:
		return coerceText(value)
	case FieldTypeBoolean:
		return coerceBoolean(value)
	default:
		return CoercionResult{Value: value}, nil
	}
}

// coerceNumeric converts value to float64. Numeric strings are accepted;
// booleans, whitespace-only strings and containers are not.
func coerceNumeric(value any) (CoercionResult, error) {
	if f, ok := toFloat64(value); ok {
		return CoercionResult{Value: f}, nil
	}
	s, ok := value.(string)
	if !ok {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return CoercionResult{}, types.ErrCoercionFailed
	}
	return CoercionResult{Value: f}, nil
}

// coerceText converts scalars to their string form. Containers fail so that
// a list never equals a string literal by accident.
func coerceText(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case string:
		return CoercionResult{Value: v}, nil
	case bool:
		return CoercionResult{Value: strconv.FormatBool(v)}, nil
	case []any, map[string]any:
		return CoercionResult{}, types.ErrCoercionFailed
	}
	if f, ok := toFloat64(value); ok {
		return CoercionResult{Value: strconv.FormatFloat(f, 'f', -1, 64)}, nil
	}
	return CoercionResult{Value: fmt.Sprintf("%v", value)}, nil
}

// coerceBoolean accepts bool only; "true" and 1 are rejected.
func coerceBoolean(value any) (CoercionResult, error) {
	if v, ok := value.(bool); ok {
		return CoercionResult{Value: v}, nil
	}
	return CoercionResult{}, types.ErrCoercionFailed
}

// toFloat64 converts the numeric types produced by encoding/json and yaml.v3.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
