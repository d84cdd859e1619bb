package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/ir"
)

// TestTarjanSCC_Empty tests that an empty graph has no components.
func TestTarjanSCC_Empty(t *testing.T) {
	assert.Empty(t, tarjanSCC(Graph{}))
}

// TestTarjanSCC_DAG tests that every node of an acyclic graph is its own
// component and dependencies come first.
func TestTarjanSCC_DAG(t *testing.T) {
	g := Graph{
		"l3": {{To: "l2"}},
		"l2": {{To: "l1"}},
		"l1": {},
	}
	assert.Equal(t, [][]string{{"l1"}, {"l2"}, {"l3"}}, tarjanSCC(g))
}

// TestTarjanSCC_TwoNodeCycle tests mutual recursion.
func TestTarjanSCC_TwoNodeCycle(t *testing.T) {
	g := Graph{
		"even": {{To: "odd"}},
		"odd":  {{To: "even"}},
		"?":    {{To: "even"}},
	}
	assert.Equal(t, [][]string{{"even", "odd"}, {"?"}}, tarjanSCC(g))
}

// TestTarjanSCC_MultipleIndependentCycles tests that separate cycles stay
// separate.
func TestTarjanSCC_MultipleIndependentCycles(t *testing.T) {
	g := Graph{
		"a": {{To: "b"}},
		"b": {{To: "a"}},
		"c": {{To: "d"}},
		"d": {{To: "c"}},
	}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, tarjanSCC(g))
}

func TestBuildGraph_DedupesAndSorts(t *testing.T) {
	rules := []ir.Rule{
		{Head: head("p", "x"), Body: []ir.Atom{ruleAtom("r", ir.V("x")), ruleAtom("q", ir.V("x"))}},
		{Head: head("p", "x"), Body: []ir.Atom{ruleAtom("q", ir.V("x")), ir.NegatedAtom{Atom: ruleAtom("q", ir.V("x"))}}},
		{Head: head("q", "x"), Body: []ir.Atom{friends(ir.V("x"), ir.V("_"))}},
	}
	g := buildGraph(rules)
	assert.Equal(t, []Edge{{To: "q"}, {To: "q", Negative: true}, {To: "r"}}, g["p"])
	assert.Empty(t, g["q"], "stored relations are not nodes")
	_, ok := g["q"]
	assert.True(t, ok, "every head is a node")
}

func TestReconstructCyclePath(t *testing.T) {
	g := Graph{
		"a": {{To: "b"}},
		"b": {{To: "c"}},
		"c": {{To: "a", Negative: true}},
	}
	assert.Equal(t, []string{"c", "a", "b", "c"}, reconstructCyclePath([]string{"a", "b", "c"}, g, "c", "a"))

	self := Graph{"n": {{To: "n", Negative: true}}}
	assert.Equal(t, []string{"n", "n"}, reconstructCyclePath([]string{"n"}, self, "n", "n"))
}

func TestStratify_Levels(t *testing.T) {
	g := Graph{
		"reach":    {{To: "reach"}},
		"unreach":  {{To: "reach", Negative: true}},
		"count":    {{To: "unreach", Aggregate: true}},
		"?":        {{To: "count"}},
		"constant": {},
	}
	levels, err := stratify(g, map[string]bool{"count": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"reach":    0,
		"unreach":  1,
		"count":    2,
		"?":        3,
		"constant": 0,
	}, levels)
}

func TestStratify_SelfNegation(t *testing.T) {
	g := Graph{"p": {{To: "p", Negative: true}}}
	_, err := stratify(g, nil)
	require.Error(t, err)
	assert.True(t, ir.IsStratificationError(err))

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "p -> p", e.Details["cycle"])
	assert.Equal(t, "p", e.Relation)
}

func TestStratify_PositiveRecursionAllowed(t *testing.T) {
	g := Graph{
		"a": {{To: "b"}},
		"b": {{To: "a"}, {To: "c", Negative: true}},
		"c": {},
	}
	levels, err := stratify(g, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, levels["a"])
	assert.Equal(t, 1, levels["b"])
	assert.Equal(t, 0, levels["c"])
}
