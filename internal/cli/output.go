package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Evaluation error, write conflict or failed scenarios
	ExitCommandError = 2 // Usage, schema or stratification error
	ExitIOError      = 3 // Storage, backup, restore or compaction failure
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCodeFor picks the exit code for an engine error by its kind.
func ExitCodeFor(err error) int {
	switch ir.KindOf(err) {
	case ir.KindEvaluation, ir.KindConflict:
		return ExitFailure
	case ir.KindIO:
		return ExitIOError
	}
	return ExitCommandError
}

// GetExitCode extracts the exit code from an error.
// Errors that are not ExitErrors are mapped by engine error kind.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCodeFor(err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Kind     string            `json:"kind,omitempty"`     // engine error kind
	Code     string            `json:"code"`               // engine error code, or a CLI code
	Message  string            `json:"message"`            // human-readable message
	Relation string            `json:"relation,omitempty"` // relation involved
	Details  any               `json:"details,omitempty"`  // additional context
	Position map[string]string `json:"position,omitempty"` // source position for CUE errors
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.writeError(&CLIError{Code: code, Message: message, Details: details})
}

// Fail outputs err, keeping the structure of engine and compile errors, and
// returns it wrapped in an ExitError carrying the matching exit code.
func (f *OutputFormatter) Fail(message string, err error) error {
	_ = f.writeError(toCLIError(err))
	return WrapExitError(GetExitCode(err), message, err)
}

func (f *OutputFormatter) writeError(e *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: e})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// toCLIError converts engine and compile errors to their response form.
func toCLIError(err error) *CLIError {
	var ierr *ir.Error
	if errors.As(err, &ierr) {
		out := &CLIError{
			Kind:     string(ierr.Kind),
			Code:     string(ierr.Code),
			Message:  ierr.Message,
			Relation: ierr.Relation,
		}
		if len(ierr.Details) > 0 {
			out.Details = ierr.Details
		}
		return out
	}
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		out := &CLIError{Code: ErrCodeCompile, Message: cerr.Message}
		if cerr.Pos.IsValid() {
			out.Position = map[string]string{
				"file":   cerr.Pos.Filename(),
				"line":   fmt.Sprint(cerr.Pos.Line()),
				"column": fmt.Sprint(cerr.Pos.Column()),
				"field":  cerr.Field,
			}
		}
		return out
	}
	return &CLIError{Code: ErrCodeGeneric, Message: err.Error()}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Rows outputs a headed result set: a JSON object in json format, an
// aligned table in text format.
func (f *OutputFormatter) Rows(rows ir.NamedRows) error {
	if rows.Rows == nil {
		rows.Rows = []ir.Tuple{}
	}
	if f.Format == "json" {
		return f.Success(rows)
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(rows.Headers, "\t"))
	for _, row := range rows.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "null"
				continue
			}
			cells[i] = v.String()
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	f.VerboseLog("%d row(s)", len(rows.Rows))
	return nil
}
