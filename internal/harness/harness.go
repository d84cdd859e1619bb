package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/engine"
	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/testutil"
)

// Harness runs one scenario against its own database.
type Harness struct {
	db  *engine.DB
	ids *testutil.SequenceGenerator
	ctx context.Context
}

// Run executes a scenario in a fresh in-memory database and returns the
// result. The error return is for setup failures (unreadable schema, bad
// seed data); failed expectations are reported in the result.
func Run(scenario *Scenario, opts ...engine.Option) (*Result, error) {
	ids := testutil.NewSequenceGenerator(scenario.Name)
	opts = append([]engine.Option{engine.WithIDGenerator(ids)}, opts...)
	db, err := engine.Open(":memory:", opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	defer db.Close()

	h := &Harness{db: db, ids: ids, ctx: context.Background()}
	if err := h.setup(scenario); err != nil {
		return nil, fmt.Errorf("failed to set up scenario: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.runStep(step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}
		result.Steps = append(result.Steps, sr)
		for _, msg := range checkStep(step, sr) {
			result.AddError(fmt.Sprintf("step %s: %s", step.Name, msg))
		}
	}

	for _, msg := range EvaluateAssertions(h.ctx, db, scenario.Assertions) {
		result.AddError(msg)
	}

	digest, err := db.Digest(h.ctx, db.Epoch())
	if err != nil {
		return nil, fmt.Errorf("failed to digest final state: %w", err)
	}
	result.Digest = digest

	slog.Debug("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"steps", len(result.Steps),
		"ids", ids.Count(),
	)
	return result, nil
}

// setup creates the schema relations and imports the seed rows.
func (h *Harness) setup(s *Scenario) error {
	if s.Schema != "" {
		f, err := compiler.LoadFile(s.Schema)
		if err != nil {
			return err
		}
		for _, schema := range f.Relations {
			if _, err := h.db.CreateRelation(h.ctx, schema); err != nil {
				return err
			}
		}
	}
	if len(s.Data) == 0 {
		return nil
	}

	payload := make(map[string]ir.NamedRows, len(s.Data))
	for name, rows := range s.Data {
		tuples, err := toTuples(rows.Rows)
		if err != nil {
			return fmt.Errorf("data.%s: %w", name, err)
		}
		payload[name] = ir.NamedRows{Headers: rows.Headers, Rows: tuples}
	}
	_, err := h.db.Import(h.ctx, payload)
	return err
}

// runStep runs one step. Engine errors become part of the step result;
// only unloadable steps fail the scenario outright.
func (h *Harness) runStep(step Step) (StepResult, error) {
	sr := StepResult{Name: step.Name}
	if step.Compact {
		if _, err := h.db.Compact(h.ctx); err != nil {
			sr.Error = errorLabel(err)
		}
		return sr, nil
	}

	var (
		f   *compiler.File
		err error
	)
	if step.Program != "" {
		f, err = compiler.LoadFile(step.Program)
	} else {
		f, err = compiler.LoadSource(step.Name+".cue", []byte(step.Source))
	}
	if err != nil {
		return sr, err
	}
	params, err := toParams(step.Params)
	if err != nil {
		return sr, err
	}

	var res *engine.Result
	switch {
	case f.Script != nil:
		res, err = h.db.RunScript(h.ctx, *f.Script, params)
	case f.Program != nil:
		res, err = h.db.Run(h.ctx, *f.Program, params)
	default:
		return sr, fmt.Errorf("%s holds no rules or script", filepath.Base(step.Program))
	}
	if err != nil {
		sr.Error = errorLabel(err)
		return sr, nil
	}
	sr.Headers = res.Headers
	sr.Rows = res.Rows
	return sr, nil
}

// checkStep compares a step result with the step's expectations.
func checkStep(step Step, sr StepResult) []string {
	var errs []string
	if step.Error != nil {
		want := step.Error.Kind
		if step.Error.Code != "" {
			want += " [" + step.Error.Code + "]"
		}
		switch {
		case sr.Error == "":
			errs = append(errs, fmt.Sprintf("expected error %s, got %d rows", want, len(sr.Rows)))
		case step.Error.Code == "" && ir.ErrorKind(step.Error.Kind) != errorKindOf(sr.Error):
			errs = append(errs, fmt.Sprintf("expected error %s, got %s", want, sr.Error))
		case step.Error.Code != "" && sr.Error != want:
			errs = append(errs, fmt.Sprintf("expected error %s, got %s", want, sr.Error))
		}
		return errs
	}

	if sr.Error != "" {
		return append(errs, fmt.Sprintf("unexpected error: %s", sr.Error))
	}
	if step.Expect == nil {
		return nil
	}
	if step.Expect.Headers != nil && !equalStrings(step.Expect.Headers, sr.Headers) {
		errs = append(errs, fmt.Sprintf("headers: expected %v, got %v", step.Expect.Headers, sr.Headers))
	}
	want, err := toTuples(step.Expect.Rows)
	if err != nil {
		return append(errs, fmt.Sprintf("expect: %v", err))
	}
	if msg := diffRows(want, sr.Rows); msg != "" {
		errs = append(errs, msg)
	}
	return errs
}

// errorKindOf extracts the kind from an error label.
func errorKindOf(label string) ir.ErrorKind {
	for i := range len(label) {
		if label[i] == ' ' {
			return ir.ErrorKind(label[:i])
		}
	}
	return ir.ErrorKind(label)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
