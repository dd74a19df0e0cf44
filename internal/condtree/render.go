package condtree

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/solatis/policydesk/internal/types"
)

const indentUnit = "  "

// Render draws c as an indented outline: ANY/ALL badges followed by their
// children one level deeper, and "field op value" rows for leaves.
func Render(c types.Condition) string {
	var b strings.Builder
	renderNode(&b, c, 0)
	return b.String()
}

// Render draws the tree; see the package-level Render.
func (t *Tree) Render() string {
	return Render(t.Condition())
}

func renderNode(b *strings.Builder, c types.Condition, depth int) {
	b.WriteString(strings.Repeat(indentUnit, depth))
	switch v := c.(type) {
	case types.AnyGroup:
		b.WriteString("ANY\n")
		for _, child := range v.Conditions {
			renderNode(b, child, depth+1)
		}
	case types.AllGroup:
		b.WriteString("ALL\n")
		for _, child := range v.Conditions {
			renderNode(b, child, depth+1)
		}
	case types.FieldCondition:
		field := v.Field
		if field == "" {
			field = "<field>"
		}
		b.WriteString(field)
		b.WriteByte(' ')
		b.WriteString(string(v.Op))
		b.WriteByte(' ')
		b.WriteString(formatValue(v.Value))
		b.WriteByte('\n')
	default:
		b.WriteString("(no condition)\n")
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}
