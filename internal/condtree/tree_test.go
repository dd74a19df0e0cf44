package condtree

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/policydesk/internal/types"
)

func sampleTree() types.Condition {
	return types.AllGroup{Conditions: []types.Condition{
		types.FieldCondition{Field: "amount", Op: types.OpGt, Value: float64(1000)},
		types.AnyGroup{Conditions: []types.Condition{
			types.FieldCondition{Field: "country", Op: types.OpIn, Value: []any{"KP", "IR"}},
			types.FieldCondition{Field: "pep", Op: types.OpEq, Value: true},
		}},
		types.FieldCondition{Field: "channel", Op: types.OpNe, Value: "branch"},
	}}
}

func TestNew_RoundTripsCondition(t *testing.T) {
	tree := New(sampleTree())
	assert.True(t, types.EqualConditions(sampleTree(), tree.Condition()))
	assert.Equal(t, 6, tree.Len())
}

func TestAdd_EmptyRootBecomesKind(t *testing.T) {
	tree := NewEmpty()
	root := tree.Root()

	next, id, err := tree.Add(root, types.KindAll)
	require.NoError(t, err)
	assert.Equal(t, root, id)
	assert.True(t, types.EqualConditions(types.AllGroup{}, next.Condition()))
	assert.True(t, types.EqualConditions(types.Empty{}, tree.Condition()), "receiver must be unchanged")
}

func TestAdd_FieldTargetRejected(t *testing.T) {
	tree := New(sampleTree())
	leaf, err := tree.Resolve("all.0")
	require.NoError(t, err)

	next, _, err := tree.Add(leaf, types.KindField)
	assert.ErrorIs(t, err, types.ErrNotAGroup)
	assert.Same(t, tree, next)
}

func TestAdd_EmptyKindRejected(t *testing.T) {
	tree := New(types.AnyGroup{})
	_, _, err := tree.Add(tree.Root(), types.KindEmpty)
	assert.ErrorIs(t, err, types.ErrInvalidCondition)
}

// Scenario: new rule, add an all group at the root, then add a field at the
// root; the field lands inside the all group.
func TestAddAt_RootRoutesIntoGroup(t *testing.T) {
	draft := NewDraft(types.Rule{Name: "r1", When: types.Empty{}, Action: types.ActionAllow, Priority: 50})

	draft, err := draft.AddCondition("root", types.KindAll)
	require.NoError(t, err)
	assert.True(t, types.EqualConditions(types.AllGroup{}, draft.Rule().When))

	draft, err = draft.AddCondition("root", types.KindField)
	require.NoError(t, err)

	want := types.AllGroup{Conditions: []types.Condition{
		types.FieldCondition{Field: "", Op: types.OpEq, Value: ""},
	}}
	assert.True(t, types.EqualConditions(want, draft.Rule().When))
	assert.Equal(t, "r1", draft.Rule().Name)
	assert.Equal(t, 50, draft.Rule().Priority)
}

func TestDelete_RootResetsToEmpty(t *testing.T) {
	tree := New(sampleTree())
	next, err := tree.DeleteAt("root")
	require.NoError(t, err)
	assert.True(t, types.EqualConditions(types.Empty{}, next.Condition()))
	assert.Equal(t, tree.Root(), next.Root())
	assert.Equal(t, 1, next.Len())
}

func TestDelete_LastChildLeavesEmptyGroup(t *testing.T) {
	tree := New(types.AnyGroup{Conditions: []types.Condition{types.NewBlankField()}})
	next, err := tree.DeleteAt("any.0")
	require.NoError(t, err)
	assert.True(t, types.EqualConditions(types.AnyGroup{}, next.Condition()))
}

func TestDelete_SiblingIDsStable(t *testing.T) {
	tree := New(sampleTree())
	first, err := tree.Resolve("all.0")
	require.NoError(t, err)
	last, err := tree.Resolve("all.2")
	require.NoError(t, err)

	next, err := tree.Delete(first)
	require.NoError(t, err)

	cond, err := next.Node(last)
	require.NoError(t, err)
	assert.Equal(t, "channel", cond.(types.FieldCondition).Field)

	path, err := next.PathOf(last)
	require.NoError(t, err)
	assert.Equal(t, "root.all.1", path)

	_, err = next.Node(first)
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}

func TestUpdate_ReplacesSubtree(t *testing.T) {
	tree := New(sampleTree())
	repl := types.FieldCondition{Field: "risk_score", Op: types.OpGte, Value: float64(80)}

	next, err := tree.UpdateAt("all.1", repl)
	require.NoError(t, err)
	assert.Equal(t, 4, next.Len())

	got, err := next.Resolve("all.1")
	require.NoError(t, err)
	cond, err := next.Node(got)
	require.NoError(t, err)
	assert.True(t, types.EqualConditions(repl, cond))
	assert.True(t, types.EqualConditions(sampleTree(), tree.Condition()))
}

func TestPathErrors_ReturnUnchangedTree(t *testing.T) {
	tree := New(sampleTree())
	tests := []struct {
		name string
		path string
		want error
	}{
		{"index out of range", "all.9", types.ErrNodeNotFound},
		{"wrong group kind", "any.0", types.ErrNodeNotFound},
		{"unpaired segment", "all", types.ErrInvalidPath},
		{"bad segment", "or.0", types.ErrInvalidPath},
		{"negative index", "all.-1", types.ErrInvalidPath},
		{"descend into leaf", "all.0.any.0", types.ErrNodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tree.DeleteAt(tt.path)
			assert.ErrorIs(t, err, tt.want)
			assert.Same(t, tree, next)
		})
	}
}

func TestParsePath_Equivalents(t *testing.T) {
	a, err := ParsePath("root.all.0.any.1")
	require.NoError(t, err)
	b, err := ParsePath("all.0.any.1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "root.all.0.any.1", FormatPath(a))

	root, err := ParsePath("root")
	require.NoError(t, err)
	assert.Empty(t, root)
}

func TestParsePath_RootPrefixMustBeWholeSegment(t *testing.T) {
	for _, path := range []string{"rootall.0", "root.", "rootany", ".all.0"} {
		_, err := ParsePath(path)
		assert.ErrorIs(t, err, types.ErrInvalidPath, path)
	}
}

func TestVersionAdvancesPerEdit(t *testing.T) {
	tree := NewEmpty()
	next, _, err := tree.Add(tree.Root(), types.KindAny)
	require.NoError(t, err)
	next, _, err = next.Add(next.Root(), types.KindField)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tree.Version())
	assert.Equal(t, uint64(2), next.Version())
}

func TestRender(t *testing.T) {
	out := Render(sampleTree())
	want := "ALL\n" +
		"  amount gt 1000\n" +
		"  ANY\n" +
		"    country in [\"KP\",\"IR\"]\n" +
		"    pep eq true\n" +
		"  channel ne \"branch\"\n"
	assert.Equal(t, want, out)
	assert.Equal(t, "(no condition)\n", Render(types.Empty{}))
	assert.Equal(t, "<field> eq \"\"\n", Render(types.NewBlankField()))
}

// randomCondition builds a tree of bounded depth from rng.
func randomCondition(rng *rand.Rand, depth int) types.Condition {
	if depth <= 0 || rng.Intn(3) == 0 {
		return types.FieldCondition{
			Field: []string{"amount", "country", "tier"}[rng.Intn(3)],
			Op:    types.Operators[rng.Intn(len(types.Operators))],
			Value: float64(rng.Intn(100)),
		}
	}
	n := rng.Intn(4)
	children := make([]types.Condition, 0, n)
	for i := 0; i < n; i++ {
		children = append(children, randomCondition(rng, depth-1))
	}
	if rng.Intn(2) == 0 {
		return types.AnyGroup{Conditions: children}
	}
	return types.AllGroup{Conditions: children}
}

// nonRootNodes lists every node id except the root, in walk order.
func nonRootNodes(tree *Tree) []types.NodeID {
	var ids []types.NodeID
	tree.Walk(func(id types.NodeID, _ types.ConditionKind, depth int) {
		if depth > 0 {
			ids = append(ids, id)
		}
	})
	return ids
}

func childKinds(t *Tree, id types.NodeID) map[types.ConditionKind]int {
	kinds := make(map[types.ConditionKind]int)
	children, _ := t.Children(id)
	for _, c := range children {
		k, _ := t.Kind(c)
		kinds[k]++
	}
	return kinds
}

func TestTree_PropertyDeleteThenAddRestoresShape(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("delete then add at the parent keeps the parent's shape", prop.ForAll(
		func(seed int64, pick int) bool {
			rng := rand.New(rand.NewSource(seed))
			tree := New(types.AllGroup{Conditions: []types.Condition{randomCondition(rng, 3)}})
			ids := nonRootNodes(tree)
			target := ids[pick%len(ids)]

			parent, _ := tree.Parent(target)
			kind, _ := tree.Kind(target)
			before := childKinds(tree, parent)

			deleted, err := tree.Delete(target)
			if err != nil {
				return false
			}
			readded, fresh, err := deleted.Add(parent, kind)
			if err != nil {
				return false
			}

			after := childKinds(readded, parent)
			if len(before) != len(after) {
				return false
			}
			for k, n := range before {
				if after[k] != n {
					return false
				}
			}

			freshCond, _ := readded.Node(fresh)
			switch kind {
			case types.KindField:
				return types.EqualConditions(types.NewBlankField(), freshCond)
			case types.KindAny:
				return types.EqualConditions(types.AnyGroup{}, freshCond)
			default:
				return types.EqualConditions(types.AllGroup{}, freshCond)
			}
		},
		gen.Int64(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestTree_PropertyUpdateIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("update twice equals update once", prop.ForAll(
		func(seed int64, pick int) bool {
			rng := rand.New(rand.NewSource(seed))
			tree := New(randomCondition(rng, 4))
			var ids []types.NodeID
			tree.Walk(func(id types.NodeID, _ types.ConditionKind, _ int) { ids = append(ids, id) })
			target := ids[pick%len(ids)]
			repl := randomCondition(rng, 2)

			once, err := tree.Update(target, repl)
			if err != nil {
				return false
			}
			twice, err := once.Update(target, repl)
			if err != nil {
				return false
			}
			return types.EqualConditions(once.Condition(), twice.Condition()) && once.Len() == twice.Len()
		},
		gen.Int64(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestTree_PropertyDeleteLastChildKeepsGroup(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("removing every child leaves an empty group", prop.ForAll(
		func(seed int64, useAny bool) bool {
			rng := rand.New(rand.NewSource(seed))
			children := []types.Condition{randomCondition(rng, 2), randomCondition(rng, 2)}
			var root types.Condition = types.AllGroup{Conditions: children}
			want := types.Condition(types.AllGroup{})
			if useAny {
				root = types.AnyGroup{Conditions: children}
				want = types.AnyGroup{}
			}

			tree := New(root)
			var err error
			for i := 0; i < len(children); i++ {
				prefix := "all"
				if useAny {
					prefix = "any"
				}
				tree, err = tree.DeleteAt(prefix + ".0")
				if err != nil {
					return false
				}
			}
			return types.EqualConditions(want, tree.Condition()) && tree.Len() == 1
		},
		gen.Int64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestTree_PropertyEditsNeverMutateReceiver(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("receiver condition is unchanged after any edit", prop.ForAll(
		func(seed int64, pick int, op int) bool {
			rng := rand.New(rand.NewSource(seed))
			original := randomCondition(rng, 4)
			tree := New(original)
			var ids []types.NodeID
			tree.Walk(func(id types.NodeID, _ types.ConditionKind, _ int) { ids = append(ids, id) })
			target := ids[pick%len(ids)]

			switch op % 3 {
			case 0:
				_, _, _ = tree.Add(target, types.KindField)
			case 1:
				_, _ = tree.Update(target, types.NewBlankField())
			default:
				_, _ = tree.Delete(target)
			}
			return types.EqualConditions(original, tree.Condition())
		},
		gen.Int64(),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
