package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/metrics"
	"github.com/roach88/deduce/internal/txn"
)

// Result is the outcome of a query: the entry relation's rows in order.
type Result struct {
	Headers []string   `json:"headers"`
	Rows    []ir.Tuple `json:"rows"`

	// Epoch is the commit epoch of a script that wrote, else the snapshot
	// epoch the query read at.
	Epoch int64 `json:"epoch"`

	// Committed is true when the query wrote and its writes committed.
	Committed bool `json:"committed"`
}

// NamedRows returns the headers and rows.
func (r *Result) NamedRows() ir.NamedRows {
	return ir.NamedRows{Headers: r.Headers, Rows: r.Rows}
}

// Run evaluates one program at the current epoch. A program with a :put or
// :rm directive writes the entry rows in one commit.
func (db *DB) Run(ctx context.Context, prog ir.Program, params map[string]ir.Value) (*Result, error) {
	return db.RunScript(ctx, ir.Script{Statements: []ir.Statement{prog}}, params)
}

// RunScript evaluates the statements of a script in order inside one
// transaction. Each statement sees the writes of the statements before it.
// The writes of all statements commit together or not at all; ::compact
// runs after the commit, and its failure is logged rather than returned.
// The result is that of the last program.
func (db *DB) RunScript(ctx context.Context, script ir.Script, params map[string]ir.Value) (res *Result, err error) {
	queryID := db.ids.Generate()
	start := time.Now()
	defer func() {
		metrics.QueriesTotal.WithLabelValues(metrics.Status(err)).Inc()
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Debug("query failed", "query", queryID, "error", err)
		}
	}()

	params = normalizeParams(params)
	t := db.txns.Begin()
	defer t.Rollback()

	res = &Result{Epoch: t.Epoch()}
	compact := false
	for i, stmt := range script.Statements {
		switch s := stmt.(type) {
		case ir.Program:
			res, err = db.runProgram(ctx, t, s, params, queryID)
			if err != nil {
				if len(script.Statements) > 1 {
					err = fmt.Errorf("statement %d: %w", i, err)
				}
				return nil, err
			}
		case ir.CompactDirective:
			compact = true
		default:
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("unsupported statement %T", stmt))
		}
	}

	if t.Pending() > 0 {
		epoch, err := t.Commit(ctx)
		metrics.CommitsTotal.WithLabelValues(metrics.Status(err)).Inc()
		if err != nil {
			return nil, err
		}
		res.Epoch = epoch
		res.Committed = true
	} else {
		t.Rollback()
	}
	if compact {
		// Writes are committed by now, so a compaction failure does not
		// fail the script.
		compactFn := db.Compact
		if db.scriptCompact != nil {
			compactFn = db.scriptCompact
		}
		if _, cerr := compactFn(ctx); cerr != nil {
			slog.Warn("compaction after script failed",
				"query", queryID,
				"epoch", res.Epoch,
				"error", cerr,
			)
		}
	}

	slog.Debug("query finished",
		"query", queryID,
		"txn", t.ID(),
		"rows", len(res.Rows),
		"epoch", res.Epoch,
		"duration", time.Since(start),
	)
	return res, nil
}

// runProgram evaluates one program against the transaction's view and
// buffers its mutation, if any, in t.
func (db *DB) runProgram(ctx context.Context, t *txn.Txn, prog ir.Program, params map[string]ir.Value, queryID string) (*Result, error) {
	plan, err := db.plan(prog, t.Epoch())
	if err != nil {
		return nil, err
	}
	if err := checkParams(plan, params); err != nil {
		return nil, err
	}

	quota := NewRoundQuota(db.maxRounds)
	memo := newLookupMemo(t)
	ev := newEvaluator(plan, params, memo, quota, db.naive, db.parallelism, queryID)
	entry, err := ev.run(ctx)
	if err != nil {
		return nil, err
	}
	metrics.FixpointRounds.Observe(float64(quota.Current()))

	hits, misses := memo.stats()
	slog.Debug("program evaluated",
		"query", queryID,
		"plan", plan.Hash[:12],
		"strata", len(plan.Strata),
		"rounds", quota.Current(),
		"memo_hits", hits,
		"memo_misses", misses,
	)

	rows := orderRows(plan, entry.tuples())
	if plan.Mutation != nil {
		if err := applyMutation(t, plan.Mutation, rows); err != nil {
			return nil, err
		}
	}
	return &Result{Headers: plan.Headers, Rows: rows, Epoch: t.Epoch()}, nil
}

// plan returns the compiled plan of prog against the catalog at epoch.
// Plans are cached only when epoch sees the latest catalog.
func (db *DB) plan(prog ir.Program, epoch int64) (*compiler.Plan, error) {
	hash := ir.ProgramHash(prog)
	catEpoch := db.store.CatalogEpoch()
	cacheable := epoch >= catEpoch
	if cacheable {
		if p, ok := db.plans.get(hash, catEpoch); ok {
			return p, nil
		}
	}

	cat := compiler.CatalogFunc(func(name string) (ir.RelationSchema, error) {
		return db.store.Relation(name, epoch)
	})
	p, err := compiler.Compile(prog, cat)
	if err != nil {
		return nil, err
	}
	if cacheable {
		db.plans.add(hash, catEpoch, p)
	}
	return p, nil
}

func normalizeParams(params map[string]ir.Value) map[string]ir.Value {
	out := make(map[string]ir.Value, len(params))
	for k, v := range params {
		if v == nil {
			v = ir.Null{}
		}
		out[k] = v
	}
	return out
}

// checkParams fails before evaluation when a referenced parameter has no
// value.
func checkParams(plan *compiler.Plan, params map[string]ir.Value) error {
	for _, name := range plan.Params {
		if _, ok := params[name]; !ok {
			return ir.NewEvaluationError(ir.CodeMissingParam, fmt.Sprintf("parameter $%s was not supplied", name)).
				WithDetail("param", name)
		}
	}
	return nil
}

// orderRows applies the plan's ordering, offset and limit to rows already
// in value order.
func orderRows(plan *compiler.Plan, rows []ir.Tuple) []ir.Tuple {
	if len(plan.Sort) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range plan.Sort {
				c := ir.Compare(rows[i][k.Column], rows[j][k.Column])
				if c == 0 {
					continue
				}
				if k.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if plan.Offset > 0 {
		if plan.Offset >= len(rows) {
			return []ir.Tuple{}
		}
		rows = rows[plan.Offset:]
	}
	if plan.Limit > 0 && plan.Limit < len(rows) {
		rows = rows[:plan.Limit]
	}
	if rows == nil {
		rows = []ir.Tuple{}
	}
	return rows
}

// applyMutation buffers the entry rows as puts or retractions.
func applyMutation(t *txn.Txn, m *compiler.MutationPlan, rows []ir.Tuple) error {
	if len(rows) == 0 {
		return nil
	}
	tuples := make([]ir.Tuple, len(rows))
	for i, row := range rows {
		tuple := make(ir.Tuple, len(m.Columns))
		for c, src := range m.Columns {
			if src < 0 {
				tuple[c] = ir.Null{}
				continue
			}
			tuple[c] = row[src]
		}
		tuples[i] = tuple
	}
	if m.Op == ir.MutationRm {
		return t.Retract(m.Relation, tuples...)
	}
	return t.Put(m.Relation, tuples...)
}
