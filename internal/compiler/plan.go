package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/deduce/internal/ir"
)

// Plan is a compiled program: derived relations partitioned into strata,
// each rule's body ordered into steps over numbered variable slots.
//
// Strata are listed in evaluation order. A stratum reads only stored
// relations, strata before it, and the relations of its own recursive
// components.
type Plan struct {
	Hash    string
	Entry   string
	Headers []string
	Params  []string

	Strata []Stratum
	Graph  Graph

	// Arity of every derived relation.
	Arity map[string]int

	// Stored relations the program reads, sorted.
	Stored []string

	Mutation *MutationPlan
	Sort     []SortKey
	Limit    int
	Offset   int
}

// Stratum is one evaluation layer.
type Stratum struct {
	Index     int
	Relations []string // derived relations defined here, sorted
	Rules     []*Rule

	// Aggregated relations of this stratum. Their inputs all live in
	// earlier strata.
	Aggregated []string
}

// Defines reports whether name is a relation of this stratum.
func (s Stratum) Defines(name string) bool {
	for _, r := range s.Relations {
		if r == name {
			return true
		}
	}
	return false
}

// Rule is one compiled rule.
type Rule struct {
	// Index is the rule's position in the source program.
	Index int
	Head  ir.Head

	// HeadSlots maps each head argument to the slot holding its value.
	HeadSlots []int
	Slots     []string // slot -> variable name
	Steps     []Step

	// Facts holds the rows of an inline data rule. Rows contain constants
	// and parameters only.
	Facts [][]ir.Expr

	Aggregated bool

	// Recursive lists the step indexes that read a relation of the rule's
	// own stratum. Semi-naive rounds substitute the delta at these steps.
	Recursive []int
}

// IsFact reports whether the rule is an inline data rule.
func (r *Rule) IsFact() bool {
	return r.Facts != nil
}

// SlotOf returns the slot of a variable, or -1.
func (r *Rule) SlotOf(name string) int {
	for i, n := range r.Slots {
		if n == name {
			return i
		}
	}
	return -1
}

func (r *Rule) String() string {
	if r.IsFact() {
		return fmt.Sprintf("%s <- %d rows", r.Head, len(r.Facts))
	}
	parts := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s := %s", r.Head, strings.Join(parts, ", "))
}

// StepKind selects how a step extends a binding.
type StepKind uint8

const (
	// StepStored joins with a stored relation.
	StepStored StepKind = iota + 1

	// StepDerived joins with a derived relation.
	StepDerived

	// StepNotStored keeps the binding when no stored row matches.
	StepNotStored

	// StepNotDerived keeps the binding when no derived row matches.
	StepNotDerived

	// StepFilter keeps the binding when an expression is true.
	StepFilter

	// StepBind assigns an expression's value to an unbound slot.
	StepBind
)

var stepKindNames = map[StepKind]string{
	StepStored:     "stored",
	StepDerived:    "derived",
	StepNotStored:  "not-stored",
	StepNotDerived: "not-derived",
	StepFilter:     "filter",
	StepBind:       "bind",
}

func (k StepKind) String() string {
	if s, ok := stepKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("StepKind(%d)", uint8(k))
}

// Access is how a relation step reads its rows.
type Access uint8

const (
	// AccessScan reads every row.
	AccessScan Access = iota

	// AccessPoint reads one row by its full key.
	AccessPoint

	// AccessPrefix reads rows whose leading columns are bound.
	AccessPrefix

	// AccessIndexed reads rows matching bound non-leading columns.
	AccessIndexed
)

func (a Access) String() string {
	switch a {
	case AccessScan:
		return "scan"
	case AccessPoint:
		return "point"
	case AccessPrefix:
		return "prefix"
	case AccessIndexed:
		return "indexed"
	}
	return fmt.Sprintf("Access(%d)", uint8(a))
}

// TermKind classifies one column of a relation step.
type TermKind uint8

const (
	// TermIgnore matches anything and binds nothing (wildcard, or a
	// column the atom does not mention).
	TermIgnore TermKind = iota

	// TermConst must equal Value.
	TermConst

	// TermParam must equal the named parameter.
	TermParam

	// TermBound must equal the value already in Slot.
	TermBound

	// TermBind assigns the column value to Slot.
	TermBind
)

// Term is the role of one column in a relation step.
type Term struct {
	Kind  TermKind
	Slot  int
	Value ir.Value
	Param string

	// Repeat marks a TermBound whose slot an earlier column of the same
	// step binds, as in *edge{fr: x, to: x}.
	Repeat bool
}

// Prebound reports whether the term's value is known before the step runs.
func (t Term) Prebound() bool {
	switch t.Kind {
	case TermConst, TermParam:
		return true
	case TermBound:
		return !t.Repeat
	}
	return false
}

// Step is one element of an ordered rule body.
type Step struct {
	Kind     StepKind
	Relation string

	// Schema is set for stored steps.
	Schema *ir.RelationSchema

	// Terms has one entry per relation column, in tuple order.
	Terms  []Term
	Access Access

	// Expr is the filter or bind expression.
	Expr ir.Expr

	// Slot receives the value of a bind step.
	Slot int
}

func (s Step) String() string {
	switch s.Kind {
	case StepStored, StepNotStored:
		return fmt.Sprintf("%s *%s(%s)", s.Kind, s.Relation, s.Access)
	case StepDerived, StepNotDerived:
		return fmt.Sprintf("%s %s(%s)", s.Kind, s.Relation, s.Access)
	case StepFilter:
		return fmt.Sprintf("filter %s", s.Expr)
	case StepBind:
		return fmt.Sprintf("bind #%d = %s", s.Slot, s.Expr)
	}
	return s.Kind.String()
}

// MutationPlan maps entry rows onto a stored relation.
type MutationPlan struct {
	Op       ir.MutationOp
	Relation string
	Schema   ir.RelationSchema

	// Columns has one entry per relation column (per key column for :rm):
	// the index of the entry header feeding it, or -1 for null.
	Columns []int
}

// SortKey orders results by entry column index.
type SortKey struct {
	Column int
	Desc   bool
}

// String renders the strata for diagnostics.
func (p *Plan) String() string {
	var b strings.Builder
	for _, s := range p.Strata {
		fmt.Fprintf(&b, "stratum %d: %s\n", s.Index, strings.Join(s.Relations, ", "))
		for _, r := range s.Rules {
			fmt.Fprintf(&b, "  %s\n", r)
		}
	}
	return b.String()
}
