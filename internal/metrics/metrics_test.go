package metrics

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/deduce/internal/ir"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "ok", Status(nil))
	assert.Equal(t, "ConflictError", Status(fmt.Errorf("commit: %w", ir.NewConflictError("friends", ir.Tuple{ir.Int(1)}, 1, 2))))
	assert.Equal(t, "error", Status(context.Canceled))
}

func TestQueriesTotal_CountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("ok"))
	QueriesTotal.WithLabelValues(Status(nil)).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(QueriesTotal.WithLabelValues("ok")))
}
