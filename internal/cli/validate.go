package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/engine"
	"github.com/roach88/deduce/internal/ir"
)

// ValidationError is one program that failed to compile.
type ValidationError struct {
	File      string `json:"file"`
	Statement int    `json:"statement"`
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Line      int    `json:"line,omitempty"`
}

// CompiledProgram summarizes one program that compiled.
type CompiledProgram struct {
	File      string   `json:"file"`
	Statement int      `json:"statement"`
	Hash      string   `json:"hash"`
	Strata    int      `json:"strata"`
	Params    []string `json:"params,omitempty"`
	Stored    []string `json:"stored,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Programs []CompiledProgram `json:"programs"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program.cue|dir>",
		Short: "Compile programs without running them",
		Long: `Compile the rule programs in a CUE file, or in every .cue file below a
directory, and report schema and stratification errors without evaluating
anything.

Stored relations resolve against the relations declared in the loaded files
first, then against the database when its file exists. Validation never
creates a database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	files, err := LoadCUE(path)
	if err != nil {
		return formatter.Fail("failed to load programs", err)
	}
	formatter.VerboseLog("Loaded %d CUE file(s) from %s", len(files), path)

	declared := make(map[string]ir.RelationSchema)
	for _, f := range files {
		for _, schema := range f.Relations {
			declared[schema.Name] = schema
		}
	}

	var db *engine.DB
	if _, err := os.Stat(opts.Config.Database); err == nil {
		db, err = opts.openDB()
		if err != nil {
			return formatter.Fail("failed to open database", err)
		}
		defer closeDB(db)
	}
	catalog := compiler.CatalogFunc(func(name string) (ir.RelationSchema, error) {
		if schema, ok := declared[name]; ok {
			return schema, nil
		}
		if db != nil {
			return db.Relation(name)
		}
		return ir.RelationSchema{}, ir.NewSchemaError(ir.CodeRelationNotFound,
			fmt.Sprintf("relation %q is not declared and no database exists at %s", name, opts.Config.Database)).WithRelation(name)
	})

	result := ValidationResult{Valid: true, Programs: []CompiledProgram{}}
	for _, f := range files {
		for i, prog := range programsOf(f.File) {
			formatter.VerboseLog("Validating %s statement %d", f.Path, i)
			plan, err := compiler.Compile(prog, catalog)
			if err != nil {
				result.Valid = false
				result.Errors = append(result.Errors, toValidationError(f.Path, i, err))
				continue
			}
			result.Programs = append(result.Programs, CompiledProgram{
				File:      f.Path,
				Statement: i,
				Hash:      plan.Hash,
				Strata:    len(plan.Strata),
				Params:    plan.Params,
				Stored:    plan.Stored,
			})
		}
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	for _, p := range result.Programs {
		fmt.Fprintf(formatter.Writer, "✓ %s[%d]: %d strata, plan %s\n", p.File, p.Statement, p.Strata, p.Hash[:12])
	}
	fmt.Fprintf(formatter.Writer, "✓ All programs valid (%d)\n", len(result.Programs))
	return nil
}

// programsOf lists the programs of a file: its rules, or the program
// statements of its script.
func programsOf(f *compiler.File) []ir.Program {
	var out []ir.Program
	if f.Program != nil {
		out = append(out, *f.Program)
	}
	if f.Script != nil {
		for _, stmt := range f.Script.Statements {
			if p, ok := stmt.(ir.Program); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func toValidationError(file string, statement int, err error) ValidationError {
	ve := ValidationError{File: file, Statement: statement, Message: err.Error(), Code: ErrCodeGeneric}
	var ierr *ir.Error
	if errors.As(err, &ierr) {
		ve.Kind = string(ierr.Kind)
		ve.Code = string(ierr.Code)
	}
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		ve.Code = ErrCodeCompile
		if cerr.Pos.IsValid() {
			ve.Line = cerr.Pos.Line()
		}
	}
	return ve
}

// outputValidationErrors outputs every compile failure. The exit code
// follows the first error's kind.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	first := result.Errors[0]
	exit := NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Kind:    first.Kind,
				Code:    first.Code,
				Message: first.Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return exit
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", e.File, e.Line)
		} else {
			fmt.Fprintf(formatter.Writer, "%s[%d]\n", e.File, e.Statement)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return exit
}
