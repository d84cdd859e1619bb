package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/ir"
)

const friendsSource = `
relation: friends: {
	keys: {fr: "Int", to: "Int"}
}

relation: scores: {
	keys: {name: "String"}
	values: {score: "Float?", note: "String?"}
}

rules: [
	{head: "l1", args: ["to"], body: [{stored: "friends", bind: {fr: "$start", to: "to"}}]},
	{head: "?", args: ["to"], body: [
		{rule: "l1", args: ["to"]},
		{not: {stored: "friends", bind: {fr: "to", to: 1}}},
		{filter: {try: [{op: ">", args: ["to", 1]}, false]}},
	]},
]

order: ["-to"]
limit: 5
`

func TestLoadSource_RelationsKeepDeclarationOrder(t *testing.T) {
	f, err := LoadSource("friends.cue", []byte(friendsSource))
	require.NoError(t, err)
	require.Len(t, f.Relations, 2)

	assert.Equal(t, "friends", f.Relations[0].Name)
	assert.Equal(t, []string{"fr", "to"}, f.Relations[0].ColumnNames())

	scores := f.Relations[1]
	assert.Equal(t, []string{"name", "score", "note"}, scores.ColumnNames())
	assert.Equal(t, ir.ColumnType{Base: ir.TypeFloat, Nullable: true}, scores.Values[0].Type)
}

func TestLoadSource_Program(t *testing.T) {
	f, err := LoadSource("friends.cue", []byte(friendsSource))
	require.NoError(t, err)
	require.NotNil(t, f.Program)

	prog := f.Program
	require.Len(t, prog.Rules, 2)
	assert.Equal(t, "l1", prog.Rules[0].Head.Name)
	assert.Equal(t, ir.StoredAtom{Relation: "friends", Bindings: []ir.Binding{
		{Column: "fr", Term: ir.P("start")},
		{Column: "to", Term: ir.V("to")},
	}}, prog.Rules[0].Body[0])

	body := prog.Rules[1].Body
	require.Len(t, body, 3)
	assert.Equal(t, ir.RuleAtom{Name: "l1", Args: []ir.Expr{ir.V("to")}}, body[0])
	assert.IsType(t, ir.NegatedAtom{}, body[1])
	assert.Equal(t, ir.FilterAtom{Expr: ir.Try{
		Cond:    ir.B(ir.OpGt, ir.V("to"), ir.C(ir.Int(1))),
		Default: ir.C(ir.Bool(false)),
	}}, body[2])

	assert.Equal(t, []ir.SortKey{{Column: "to", Desc: true}}, prog.Sort)
	assert.Equal(t, 5, prog.Limit)
	assert.Equal(t, []string{"start"}, prog.Params())

	// The loaded program compiles against its own relations
	byName := make(map[string]ir.RelationSchema)
	for _, r := range f.Relations {
		byName[r.Name] = r
	}
	_, err = Compile(*prog, CatalogFunc(func(name string) (ir.RelationSchema, error) {
		return byName[name], nil
	}))
	require.NoError(t, err)
}

func TestLoadSource_ExpressionsAndAggregates(t *testing.T) {
	src := `
rules: [
	{head: "?", args: ["name", "mean(s)", "count(name)"], body: [
		{stored: "scores", bind: {name: "name", score: "s"}},
		{unify: "half", expr: {op: "/", args: ["s", 2]}},
		{filter: {op: "&&", args: [{is_null: "note"}, {is_in: "name", list: [{const: "ann"}, {const: "bob"}]}, true]}},
		{filter: {op: "!", args: [{op: "==", args: ["half", 0.5]}]}},
	]},
	{head: "seed", args: ["x", "y"], facts: [[1, null], [2.5, {const: "two"}]]},
]
`
	f, err := LoadSource("expr.cue", []byte(src))
	require.NoError(t, err)
	rules := f.Program.Rules

	assert.Equal(t, []ir.HeadArg{
		{Var: "name"},
		{Var: "s", Reducer: ir.ReducerMean},
		{Var: "name", Reducer: ir.ReducerCount},
	}, rules[0].Head.Args)

	assert.Equal(t, ir.UnifyAtom{Var: "half", Expr: ir.B(ir.OpDiv, ir.V("s"), ir.C(ir.Int(2)))}, rules[0].Body[1])

	and := rules[0].Body[2].(ir.FilterAtom).Expr.(ir.Binary)
	assert.Equal(t, ir.OpAnd, and.Op)
	assert.Equal(t, ir.C(ir.Bool(true)), and.Right, "three arguments fold left")
	inner := and.Left.(ir.Binary)
	assert.Equal(t, ir.NullTest{X: ir.V("note")}, inner.Left)
	assert.Equal(t, ir.In{X: ir.V("name"), List: []ir.Expr{ir.C(ir.String("ann")), ir.C(ir.String("bob"))}}, inner.Right)

	not := rules[0].Body[3].(ir.FilterAtom).Expr.(ir.Unary)
	assert.Equal(t, ir.OpNot, not.Op)

	require.True(t, rules[1].IsFact())
	assert.Equal(t, [][]ir.Expr{
		{ir.C(ir.Int(1)), ir.C(ir.Null{})},
		{ir.C(ir.Float(2.5)), ir.C(ir.String("two"))},
	}, rules[1].Facts)
}

func TestLoadSource_Mutation(t *testing.T) {
	src := `
rules: [{head: "?", args: ["name", "score"], facts: [[{const: "ann"}, 1.5]]}]
put: {relation: "scores", keys: ["name"], values: ["score"]}
`
	f, err := LoadSource("put.cue", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, &ir.Mutation{Op: ir.MutationPut, Relation: "scores", Keys: []string{"name"}, Values: []string{"score"}}, f.Program.Mutation)

	both := src + `rm: {relation: "scores", keys: ["name"]}`
	_, err = LoadSource("both.cue", []byte(both))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "rm", ce.Field)
}

func TestLoadSource_Script(t *testing.T) {
	src := `
script: [
	{rules: [{head: "?", args: ["x"], facts: [[1]]}]},
	"::compact",
]
`
	f, err := LoadSource("script.cue", []byte(src))
	require.NoError(t, err)
	require.NotNil(t, f.Script)
	require.Len(t, f.Script.Statements, 2)
	assert.IsType(t, ir.Program{}, f.Script.Statements[0])
	assert.Equal(t, ir.CompactDirective{}, f.Script.Statements[1])

	_, err = LoadSource("bad.cue", []byte(`script: ["::vacuum"]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown directive")
}

func TestLoadSource_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{name: "syntax", src: "rules: [", field: "cue"},
		{name: "empty", src: "other: 1", field: "file"},
		{name: "no head", src: `rules: [{args: ["x"], body: []}]`, field: "head"},
		{name: "no body", src: `rules: [{head: "?", args: ["x"]}]`, field: "body"},
		{name: "unknown atom", src: `rules: [{head: "?", args: ["x"], body: [{join: "x"}]}]`, field: "body"},
		{name: "bad reducer", src: `rules: [{head: "?", args: ["sum(x)"], body: [{rule: "p", args: ["x"]}]}]`, field: "args"},
		{name: "bad operator", src: `rules: [{head: "?", args: ["x"], body: [{rule: "p", args: ["x"]}, {filter: {op: "<>", args: ["x", 1]}}]}]`, field: "op"},
		{name: "bad column type", src: `relation: r: {keys: {a: "Decimal"}}`, field: "keys.a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSource("test.cue", []byte(tt.src))
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileError_Format(t *testing.T) {
	_, err := LoadSource("broken.cue", []byte("rules: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.cue:")

	plain := &CompileError{Field: "head", Message: "rule head name is required"}
	assert.Equal(t, "head: rule head name is required", plain.Error())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "friends.cue")
	require.NoError(t, os.WriteFile(path, []byte(friendsSource), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Relations, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
}
