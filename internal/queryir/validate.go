package queryir

import (
	"fmt"
	"math"

	"github.com/roach88/deduce/internal/ir"
)

// Validate checks that a query is well formed against its table: every
// referenced column exists, ranges have at least one bound, and literals are
// representable in SQLite (no NaN).
//
// Validate is a pure function with no side effects.
func Validate(query Query) error {
	switch q := query.(type) {
	case Select:
		if err := validateTable(q.Table); err != nil {
			return err
		}
		if q.AsOf < 0 {
			return fmt.Errorf("negative snapshot epoch %d", q.AsOf)
		}
		if q.Limit < 0 {
			return fmt.Errorf("negative limit %d", q.Limit)
		}
		return validatePredicate(q.Table, q.Filter)
	case History:
		if err := validateTable(q.Table); err != nil {
			return err
		}
		return validatePredicate(q.Table, q.Filter)
	case nil:
		return fmt.Errorf("nil query")
	default:
		return fmt.Errorf("unsupported query type: %T", query)
	}
}

func validateTable(t Table) error {
	if t.Name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.KeyColumns) == 0 {
		return fmt.Errorf("table %s has no key columns", t.Name)
	}
	if len(t.Types) != len(t.KeyColumns)+len(t.ValueColumns) {
		return fmt.Errorf("table %s: %d types for %d columns", t.Name, len(t.Types), len(t.KeyColumns)+len(t.ValueColumns))
	}
	return nil
}

func validatePredicate(t Table, p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		if !t.HasColumn(pred.Column) {
			return fmt.Errorf("unknown column %q in table %s", pred.Column, t.Name)
		}
		return validateLiteral(pred.Value)
	case Range:
		if !t.HasColumn(pred.Column) {
			return fmt.Errorf("unknown column %q in table %s", pred.Column, t.Name)
		}
		if pred.Lower == nil && pred.Upper == nil {
			return fmt.Errorf("range on %q has no bounds", pred.Column)
		}
		for _, v := range []ir.Value{pred.Lower, pred.Upper} {
			if v == nil {
				continue
			}
			if ir.IsNull(v) {
				return fmt.Errorf("range on %q has a null bound", pred.Column)
			}
			if err := validateLiteral(v); err != nil {
				return err
			}
		}
		return nil
	case And:
		for _, sub := range pred.Predicates {
			if err := validatePredicate(t, sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func validateLiteral(v ir.Value) error {
	if f, ok := v.(ir.Float); ok && math.IsNaN(float64(f)) {
		return fmt.Errorf("NaN literal cannot be compared in storage")
	}
	return nil
}
