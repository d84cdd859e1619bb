package ir

import (
	"fmt"
	"strings"
)

// EntryName is the head name of a program's result relation.
const EntryName = "?"

// Reducer is the closed set of aggregation kinds a head argument may apply.
type Reducer uint8

const (
	ReducerNone Reducer = iota
	ReducerCount
	ReducerCountUnique
	ReducerMin
	ReducerMax
	ReducerMean
)

func (r Reducer) String() string {
	switch r {
	case ReducerNone:
		return ""
	case ReducerCount:
		return "count"
	case ReducerCountUnique:
		return "count_unique"
	case ReducerMin:
		return "min"
	case ReducerMax:
		return "max"
	case ReducerMean:
		return "mean"
	default:
		return fmt.Sprintf("Reducer(%d)", uint8(r))
	}
}

// ParseReducer maps a reducer name to its kind.
func ParseReducer(s string) (Reducer, error) {
	switch s {
	case "count":
		return ReducerCount, nil
	case "count_unique":
		return ReducerCountUnique, nil
	case "min":
		return ReducerMin, nil
	case "max":
		return ReducerMax, nil
	case "mean":
		return ReducerMean, nil
	}
	return ReducerNone, fmt.Errorf("unknown reducer %q", s)
}

// HeadArg is one output column of a rule head: a variable, optionally
// wrapped in a reducer.
type HeadArg struct {
	Var     string  `json:"var"`
	Reducer Reducer `json:"reducer,omitempty"`
}

func (h HeadArg) String() string {
	if h.Reducer == ReducerNone {
		return h.Var
	}
	return fmt.Sprintf("%s(%s)", h.Reducer, h.Var)
}

// Head names the derived relation a rule defines and its output columns.
type Head struct {
	Name string    `json:"name"`
	Args []HeadArg `json:"args"`
}

// Aggregated reports whether any head argument applies a reducer.
func (h Head) Aggregated() bool {
	for _, a := range h.Args {
		if a.Reducer != ReducerNone {
			return true
		}
	}
	return false
}

// Headers returns the output column names.
func (h Head) Headers() []string {
	out := make([]string, len(h.Args))
	for i, a := range h.Args {
		out[i] = a.String()
	}
	return out
}

func (h Head) String() string {
	parts := make([]string, len(h.Args))
	for i, a := range h.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s[%s]", h.Name, strings.Join(parts, ", "))
}

// Atom is a sealed interface for the elements of a rule body.
type Atom interface {
	atom() // Sealed - only the types below implement it
	String() string
}

// Binding binds one column of a stored relation to a term (Var, Const or Param).
type Binding struct {
	Column string `json:"column"`
	Term   Expr   `json:"term"`
}

// StoredAtom matches rows of a stored relation by named column:
// *friends{fr: 1, to}.
type StoredAtom struct {
	Relation string    `json:"relation"`
	Bindings []Binding `json:"bindings"`
}

// RuleAtom matches rows of a derived relation positionally: l1[fr].
type RuleAtom struct {
	Name string `json:"name"`
	Args []Expr `json:"args"`
}

// NegatedAtom succeeds when its StoredAtom or RuleAtom has no match.
type NegatedAtom struct {
	Atom Atom `json:"atom"`
}

// FilterAtom keeps a binding when Expr evaluates to true.
type FilterAtom struct {
	Expr Expr `json:"expr"`
}

// UnifyAtom binds Var to the value of Expr, or filters on equality when Var
// is already bound.
type UnifyAtom struct {
	Var  string `json:"var"`
	Expr Expr   `json:"expr"`
}

func (StoredAtom) atom()  {}
func (RuleAtom) atom()    {}
func (NegatedAtom) atom() {}
func (FilterAtom) atom()  {}
func (UnifyAtom) atom()   {}

func (a StoredAtom) String() string {
	parts := make([]string, len(a.Bindings))
	for i, b := range a.Bindings {
		if v, ok := b.Term.(Var); ok && v.Name == b.Column {
			parts[i] = b.Column
			continue
		}
		parts[i] = fmt.Sprintf("%s: %s", b.Column, b.Term)
	}
	return fmt.Sprintf("*%s{%s}", a.Relation, strings.Join(parts, ", "))
}

func (a RuleAtom) String() string {
	parts := make([]string, len(a.Args))
	for i, e := range a.Args {
		parts[i] = e.String()
	}
	return fmt.Sprintf("%s[%s]", a.Name, strings.Join(parts, ", "))
}

func (a NegatedAtom) String() string { return "not " + a.Atom.String() }
func (a FilterAtom) String() string  { return a.Expr.String() }
func (a UnifyAtom) String() string   { return fmt.Sprintf("%s = %s", a.Var, a.Expr) }

// Rule defines rows of Head: either by joining Body atoms or, for an inline
// data rule, by listing Facts directly.
type Rule struct {
	Head  Head     `json:"head"`
	Body  []Atom   `json:"body,omitempty"`
	Facts [][]Expr `json:"facts,omitempty"`
}

// IsFact reports whether the rule is an inline data rule.
func (r Rule) IsFact() bool {
	return len(r.Body) == 0 && r.Facts != nil
}

func (r Rule) String() string {
	if r.IsFact() {
		rows := make([]string, len(r.Facts))
		for i, row := range r.Facts {
			vals := make([]string, len(row))
			for j, e := range row {
				vals[j] = e.String()
			}
			rows[i] = "[" + strings.Join(vals, ", ") + "]"
		}
		return fmt.Sprintf("%s <- [%s]", r.Head, strings.Join(rows, ", "))
	}
	parts := make([]string, len(r.Body))
	for i, a := range r.Body {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s := %s", r.Head, strings.Join(parts, ", "))
}

// MutationOp selects what a mutation directive does with the entry rows.
type MutationOp uint8

const (
	// MutationPut upserts rows by key.
	MutationPut MutationOp = iota + 1

	// MutationRm retracts rows by key.
	MutationRm
)

func (m MutationOp) String() string {
	switch m {
	case MutationPut:
		return ":put"
	case MutationRm:
		return ":rm"
	}
	return fmt.Sprintf("MutationOp(%d)", uint8(m))
}

// Mutation writes the entry relation's rows into a stored relation:
// :put rel {keys => values}. Columns are matched to entry head variables by
// name.
type Mutation struct {
	Op       MutationOp `json:"op"`
	Relation string     `json:"relation"`
	Keys     []string   `json:"keys"`
	Values   []string   `json:"values,omitempty"`
}

func (m Mutation) String() string {
	s := fmt.Sprintf("%s %s {%s", m.Op, m.Relation, strings.Join(m.Keys, ", "))
	if len(m.Values) > 0 {
		s += " => " + strings.Join(m.Values, ", ")
	}
	return s + "}"
}

// SortKey orders results by one output column.
type SortKey struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Program is the full rule set submitted in one query.
type Program struct {
	Rules    []Rule    `json:"rules"`
	Entry    string    `json:"entry,omitempty"`
	Mutation *Mutation `json:"mutation,omitempty"`
	Sort     []SortKey `json:"sort,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}

// EntryRelation returns the name of the result relation ("?" by default).
func (p Program) EntryRelation() string {
	if p.Entry == "" {
		return EntryName
	}
	return p.Entry
}

// Params returns every parameter name the program references.
func (p Program) Params() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(e Expr) {
		for _, name := range ExprParams(e) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	for _, r := range p.Rules {
		for _, row := range r.Facts {
			for _, e := range row {
				add(e)
			}
		}
		for _, a := range r.Body {
			forEachAtomExpr(a, add)
		}
	}
	return out
}

// forEachAtomExpr calls fn for every expression directly held by a.
func forEachAtomExpr(a Atom, fn func(Expr)) {
	switch x := a.(type) {
	case StoredAtom:
		for _, b := range x.Bindings {
			fn(b.Term)
		}
	case RuleAtom:
		for _, e := range x.Args {
			fn(e)
		}
	case NegatedAtom:
		forEachAtomExpr(x.Atom, fn)
	case FilterAtom:
		fn(x.Expr)
	case UnifyAtom:
		fn(x.Expr)
	}
}

// String renders the program one rule per line, followed by its directives.
func (p Program) String() string {
	var b strings.Builder
	for _, r := range p.Rules {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	if p.Entry != "" && p.Entry != EntryName {
		fmt.Fprintf(&b, ":entry %s\n", p.Entry)
	}
	if len(p.Sort) > 0 {
		keys := make([]string, len(p.Sort))
		for i, k := range p.Sort {
			if k.Desc {
				keys[i] = "-" + k.Column
			} else {
				keys[i] = k.Column
			}
		}
		fmt.Fprintf(&b, ":order %s\n", strings.Join(keys, ", "))
	}
	if p.Limit > 0 {
		fmt.Fprintf(&b, ":limit %d\n", p.Limit)
	}
	if p.Offset > 0 {
		fmt.Fprintf(&b, ":offset %d\n", p.Offset)
	}
	if p.Mutation != nil {
		b.WriteString(p.Mutation.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Statement is a sealed interface for the elements of a script.
type Statement interface {
	statement()
}

// CompactDirective requests compaction (::compact).
type CompactDirective struct{}

func (Program) statement()          {}
func (CompactDirective) statement() {}

// Script is an ordered list of statements executed in one transaction.
type Script struct {
	Statements []Statement `json:"statements"`
}
