package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/ir"
)

// TestRoundQuota_WithinLimit tests normal operation within quota.
func TestRoundQuota_WithinLimit(t *testing.T) {
	q := NewRoundQuota(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check(0), "round %d should be allowed", i+1)
	}

	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxRounds())
}

// TestRoundQuota_ExceedsLimit tests the ROUND_LIMIT error.
func TestRoundQuota_ExceedsLimit(t *testing.T) {
	q := NewRoundQuota(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check(1))
	}

	err := q.Check(1)
	require.Error(t, err)
	assert.True(t, ir.IsEvaluationError(err))
	assert.Equal(t, ir.CodeRoundLimit, ir.CodeOf(err))

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "1", e.Details["stratum"])
	assert.Equal(t, "6", e.Details["rounds"])
}

// TestRoundQuota_Unlimited tests that a non-positive limit disables the check.
func TestRoundQuota_Unlimited(t *testing.T) {
	q := NewRoundQuota(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.Check(0))
	}
}
