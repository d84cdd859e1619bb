package engine

import (
	"fmt"
	"strconv"

	"github.com/roach88/deduce/internal/ir"
)

// DefaultMaxRounds is the default maximum number of fixpoint rounds per
// query, summed over all strata.
const DefaultMaxRounds = 100000

// RoundQuota counts the fixpoint rounds of one query and enforces a
// maximum.
//
// Monotone programs over finite stored relations always terminate; the
// quota bounds programs whose unifications keep producing new values, such
// as n = m + 1 over a recursive relation.
type RoundQuota struct {
	maxRounds int // Maximum rounds; zero or less disables the limit
	current   int
}

// NewRoundQuota creates a quota with the given limit.
func NewRoundQuota(maxRounds int) *RoundQuota {
	return &RoundQuota{maxRounds: maxRounds}
}

// Check counts one round of stratum and fails with an EvaluationError
// (ROUND_LIMIT) once the limit is passed.
func (q *RoundQuota) Check(stratum int) error {
	q.current++
	if q.maxRounds > 0 && q.current > q.maxRounds {
		return ir.NewEvaluationError(ir.CodeRoundLimit,
			fmt.Sprintf("fixpoint did not converge within %d rounds", q.maxRounds)).
			WithDetail("stratum", strconv.Itoa(stratum)).
			WithDetail("rounds", strconv.Itoa(q.current))
	}
	return nil
}

// Current returns the number of rounds counted so far.
func (q *RoundQuota) Current() int {
	return q.current
}

// MaxRounds returns the limit.
func (q *RoundQuota) MaxRounds() int {
	return q.maxRounds
}
