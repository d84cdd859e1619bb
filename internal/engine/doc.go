// Package engine implements the deductive query engine.
//
// A DB owns one store. Run compiles a program (or takes it from the plan
// cache), pins a snapshot, evaluates the plan stratum by stratum, and
// returns the entry relation's rows. Programs with a mutation directive
// write those rows through a transaction that commits at one new epoch.
//
// EVALUATION:
//
// Each stratum is evaluated to fixpoint before the next one starts.
// Semi-naive evaluation (the default) seeds every relation of the stratum
// with one pass over all its rules, then re-runs only rules that read the
// stratum's own relations, once per such atom, with that atom reading the
// previous round's delta. Naive evaluation re-runs every rule against the
// full relations each round; both reach the same fixpoint.
//
// Aggregated relations read only earlier strata, so they are evaluated
// once, after those strata are complete.
//
// CRITICAL PATTERNS:
//
// Snapshot isolation: a query reads one immutable snapshot. Stored lookups
// are memoized for the life of the query.
//
// Cancellation: ctx is checked at every round boundary. A cancelled query
// discards its derived relations and leaves the store untouched.
//
// Determinism: derived relations are ordered sets, so results come out
// sorted by the value total order regardless of rule scheduling.
package engine
