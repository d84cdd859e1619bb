package queryir

import "github.com/roach88/deduce/internal/ir"

// Query represents a lookup against one stored relation.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition over table columns.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Table describes the physical layout of a versioned relation table.
//
// Every table also carries the bookkeeping columns EpochColumn and
// TombstoneColumn; they are implied and not listed here.
type Table struct {
	Name         string         // physical table name, e.g. "rel_3"
	KeyColumns   []string       // physical key column names in key order
	ValueColumns []string       // physical value column names
	Types        []ir.ColumnType // column types in tuple order (keys, then values)
}

// Bookkeeping column names shared by every relation table.
const (
	EpochColumn     = "epoch"
	TombstoneColumn = "tombstone"
)

// Columns returns key columns followed by value columns.
func (t Table) Columns() []string {
	cols := make([]string, 0, len(t.KeyColumns)+len(t.ValueColumns))
	cols = append(cols, t.KeyColumns...)
	return append(cols, t.ValueColumns...)
}

// HasColumn reports whether name is a key or value column of the table.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns() {
		if c == name {
			return true
		}
	}
	return false
}

// Select reads the rows of Table visible at epoch AsOf.
//
// Semantics:
//
//	for each key, take the version with the greatest epoch <= AsOf;
//	drop it if it is a tombstone; keep it if Filter holds.
//
// Rows come back ordered by key columns.
//
// Example:
//
//	Select{
//	  Table:  friends,
//	  Filter: Equals{Column: "k0", Value: ir.Int(1)},
//	  AsOf:   7,
//	}
//
// reads every edge leaving node 1 as of epoch 7.
type Select struct {
	Table  Table     // physical table to read
	Filter Predicate // WHERE conditions (nil = no filter)
	AsOf   int64     // snapshot epoch
	Limit  int       // maximum rows (0 = unlimited)
}

func (Select) queryNode() {}

// History reads every stored version of the keys matching Filter, including
// superseded versions and tombstones, ordered by key then epoch. It is used
// for conflict detection and storage statistics, never for query answers.
type History struct {
	Table  Table
	Filter Predicate
	After  int64 // only versions with epoch > After
}

func (History) queryNode() {}

// Equals represents a column-equals-literal predicate.
//
// Unlike SQL, a null literal matches null column values, following the
// value total order in which null equals null.
type Equals struct {
	Column string   // physical column name
	Value  ir.Value // literal value
}

func (Equals) predicateNode() {}

// Range bounds a column from below, above or both. A nil bound is open.
type Range struct {
	Column         string
	Lower          ir.Value
	Upper          ir.Value
	LowerInclusive bool
	UpperInclusive bool
}

func (Range) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates slice means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Conjoin builds an And from the non-nil predicates, unwrapping the
// single-predicate case.
func Conjoin(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}
