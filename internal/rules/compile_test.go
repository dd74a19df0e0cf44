package rules

import (
	"errors"
	"testing"

	"github.com/solatis/policydesk/internal/types"
)

func field(name string, op types.Operator, value any) types.FieldCondition {
	return types.FieldCondition{Field: name, Op: op, Value: value}
}

func TestCompile_SimpleRule(t *testing.T) {
	rule := types.Rule{
		Name:     "large-amount",
		When:     field("amount", types.OpGt, 1000),
		Action:   types.ActionFlag,
		Priority: 60,
	}

	compiled, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	if compiled.Name != "large-amount" || compiled.Action != types.ActionFlag || compiled.Priority != 60 {
		t.Errorf("Compile() header = %+v", compiled)
	}
	root := compiled.Root
	if root.Kind != types.KindField {
		t.Fatalf("Root.Kind = %v, want field", root.Kind)
	}
	if root.FieldType != FieldTypeNumeric {
		t.Errorf("FieldType = %v, want numeric", root.FieldType)
	}
	if want := CostLookupPerSegment + CostOrdered*MultiplierFloat; root.Cost != want {
		t.Errorf("Cost = %d, want %d", root.Cost, want)
	}
}

func TestCompile_ChildrenOrderedByCost(t *testing.T) {
	rule := types.Rule{
		Name: "ordered",
		When: types.AllGroup{Conditions: []types.Condition{
			field("memo", types.OpContains, "crypto"),
			field("party.country", types.OpEq, "KP"),
			field("pep", types.OpEq, true),
			field("items[*].price", types.OpGt, 500),
		}},
		Action:   types.ActionBlock,
		Priority: 90,
	}

	compiled, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	children := compiled.Root.Children
	if len(children) != 4 {
		t.Fatalf("len(Children) = %d, want 4", len(children))
	}
	if children[0].Field != "pep" {
		t.Errorf("Children[0] = %s, want pep", children[0].Field)
	}
	for i := 1; i < len(children); i++ {
		if children[i-1].Cost > children[i].Cost {
			t.Errorf("Children[%d].Cost = %d > Children[%d].Cost = %d", i-1, children[i-1].Cost, i, children[i].Cost)
		}
	}

	sum := 0
	for _, c := range children {
		sum += c.Cost
	}
	if compiled.Root.Cost != sum {
		t.Errorf("group Cost = %d, want sum %d", compiled.Root.Cost, sum)
	}
}

func TestCompile_EqualCostKeepsOrder(t *testing.T) {
	rule := types.Rule{
		Name: "stable",
		When: types.AnyGroup{Conditions: []types.Condition{
			field("a", types.OpEq, "x"),
			field("b", types.OpEq, "y"),
			field("c", types.OpEq, "z"),
		}},
		Action: types.ActionAllow,
	}
	compiled, err := Compile(rule)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := compiled.Root.Children[i].Field; got != want {
			t.Errorf("Children[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	tooMany := make([]any, types.MaxInOperatorValues+1)
	for i := range tooMany {
		tooMany[i] = i
	}

	deep := types.Condition(field("x", types.OpEq, 1))
	for i := 0; i < types.MaxConditionDepth; i++ {
		deep = types.AllGroup{Conditions: []types.Condition{deep}}
	}

	tests := []struct {
		name    string
		rule    types.Rule
		wantErr error
	}{
		{
			name:    "empty name",
			rule:    types.Rule{When: types.Empty{}, Action: types.ActionAllow},
			wantErr: types.ErrEmptyName,
		},
		{
			name:    "priority out of range",
			rule:    types.Rule{Name: "p", When: types.Empty{}, Action: types.ActionAllow, Priority: 101},
			wantErr: types.ErrInvalidPriority,
		},
		{
			name:    "empty field name",
			rule:    types.Rule{Name: "f", When: types.NewBlankField(), Action: types.ActionAllow},
			wantErr: types.ErrInvalidFieldPath,
		},
		{
			name:    "bad operator",
			rule:    types.Rule{Name: "o", When: field("a", "like", "x"), Action: types.ActionAllow},
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "in needs a list",
			rule:    types.Rule{Name: "i", When: field("a", types.OpIn, "x"), Action: types.ActionAllow},
			wantErr: types.ErrInvalidCondition,
		},
		{
			name:    "too many in values",
			rule:    types.Rule{Name: "i", When: field("a", types.OpNotIn, tooMany), Action: types.ActionAllow},
			wantErr: types.ErrTooManyInValues,
		},
		{
			name: "too many wildcards nested in a group",
			rule: types.Rule{Name: "w", When: types.AnyGroup{Conditions: []types.Condition{
				field("a[*].b[*].c[*]", types.OpEq, 1),
			}}, Action: types.ActionAllow},
			wantErr: types.ErrTooManyWildcards,
		},
		{
			name:    "nesting too deep",
			rule:    types.Rule{Name: "d", When: deep, Action: types.ActionAllow},
			wantErr: types.ErrInvalidCondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.rule)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompile_MaximumINValuesAllowed(t *testing.T) {
	values := make([]any, types.MaxInOperatorValues)
	for i := range values {
		values[i] = i
	}
	rule := types.Rule{Name: "max-in", When: field("code", types.OpIn, values), Action: types.ActionFlag}
	if _, err := Compile(rule); err != nil {
		t.Errorf("Compile() error = %v, want nil", err)
	}
}

func TestCompilePolicy_PriorityOrder(t *testing.T) {
	rules := []types.Rule{
		{Name: "low", When: types.Empty{}, Action: types.ActionAllow, Priority: 10},
		{Name: "high", When: types.Empty{}, Action: types.ActionBlock, Priority: 90},
		{Name: "mid-a", When: types.Empty{}, Action: types.ActionFlag, Priority: 50},
		{Name: "mid-b", When: types.Empty{}, Action: types.ActionFlag, Priority: 50},
	}

	policy, err := CompilePolicy(rules)
	if err != nil {
		t.Fatalf("CompilePolicy() error = %v", err)
	}

	want := []string{"high", "mid-a", "mid-b", "low"}
	for i, name := range want {
		if policy.Rules[i].Name != name {
			t.Errorf("Rules[%d] = %s, want %s", i, policy.Rules[i].Name, name)
		}
	}
	if policy.Rules[2].Index != 3 {
		t.Errorf("Rules[2].Index = %d, want 3", policy.Rules[2].Index)
	}
}

func TestCompileDocument(t *testing.T) {
	doc := `
- name: sanctioned
  when:
    field: party.country
    op: in
    value: [KP, IR]
  action: block
  priority: 100
`
	policy, err := CompileDocument(doc)
	if err != nil {
		t.Fatalf("CompileDocument() error = %v", err)
	}
	if len(policy.Rules) != 1 || len(policy.Rules[0].Root.Values) != 2 {
		t.Errorf("CompileDocument() = %+v", policy.Rules)
	}

	if _, err := CompileDocument("- name: x\n  when: {field: a, op: in, value: 3}\n"); !errors.Is(err, types.ErrInvalidCondition) {
		t.Errorf("CompileDocument(bad in) error = %v, want ErrInvalidCondition", err)
	}
}
