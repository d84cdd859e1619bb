package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/deduce/internal/engine"
	"github.com/roach88/deduce/internal/ir"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Type     string
	Relation string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Relation)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the latest committed
// state and returns the failure messages.
func EvaluateAssertions(ctx context.Context, db *engine.DB, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluateAssertion(ctx, db, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluateAssertion(ctx context.Context, db *engine.DB, a Assertion) error {
	rows, err := db.Store().ScanAll(ctx, a.Relation, db.Epoch())
	if err != nil {
		return &AssertionError{Type: a.Type, Relation: a.Relation, Expected: "readable relation", Actual: errorLabel(err)}
	}

	switch a.Type {
	case AssertRelationCount:
		if len(rows) != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Relation: a.Relation,
				Expected: fmt.Sprintf("%d rows", a.Count),
				Actual:   fmt.Sprintf("%d rows", len(rows)),
			}
		}
	case AssertRelationRows:
		want, err := toTuples(a.Rows)
		if err != nil {
			return err
		}
		if msg := diffRows(want, rows); msg != "" {
			return &AssertionError{Type: a.Type, Relation: a.Relation, Expected: fmt.Sprint(want), Actual: fmt.Sprint(rows)}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// diffRows compares two row lists in order. Int and Float values that are
// numerically equal match. It returns "" when they agree.
func diffRows(want, got []ir.Tuple) string {
	if len(want) != len(got) {
		return fmt.Sprintf("rows: expected %d, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if ir.CompareTuples(want[i], got[i]) != 0 {
			return fmt.Sprintf("row %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	return ""
}
