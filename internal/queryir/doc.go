// Package queryir provides the lookup IR for stored relations.
//
// QueryIR is the boundary between the evaluator, which thinks in terms of
// relation columns and bound values, and the SQL backend, which stores each
// relation as a versioned table. A lookup names a physical table, a filter
// over its columns and the epoch to read at:
//
//	[stored atom + bindings] -> [queryir.Select] -> [querysql] -> SQLite
//
// The backend is responsible for MVCC visibility: only the latest version of
// each key at or below AsOf is returned, and tombstoned keys are hidden.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, which keeps backend type
// switches exhaustive:
//
//	switch q := query.(type) {
//	case Select:
//	    // Handle select
//	default:
//	    // Impossible - compiler knows all Query types
//	}
//
// Predicates:
//   - Equals: column = value (null matches null)
//   - Range: lower <=/< column <=/< upper, either bound optional
//   - And: all predicates must be true
package queryir
