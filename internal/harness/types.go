package harness

import (
	"github.com/roach88/deduce/internal/ir"
)

// StepResult is what one step produced: rows, or the error that ended it.
type StepResult struct {
	Name    string     `json:"name"`
	Headers []string   `json:"headers,omitempty"`
	Rows    []ir.Tuple `json:"rows,omitempty"`

	// Error is "Kind [CODE]" for engine errors, otherwise the message.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Digest is the content digest of the stored relations after the last
	// step.
	Digest string `json:"digest"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// errorLabel renders err as "Kind [CODE]" when it is an engine error.
func errorLabel(err error) string {
	if kind := ir.KindOf(err); kind != "" {
		return string(kind) + " [" + string(ir.CodeOf(err)) + "]"
	}
	return err.Error()
}
