package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/engine"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Params []string // name=value pairs
	Source string   // inline CUE instead of a file
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [program.cue]",
		Short: "Run a rule program or script",
		Long: `Run the rules (or script) in a CUE file against the database and print
the entry relation's rows. Mutations and every statement of a script commit
in one transaction.

Exit codes:
  0 - Success
  1 - Evaluation error or write conflict (conflicts may be retried)
  2 - Usage, schema or stratification error
  3 - Storage error

Examples:
  deduce query hops.cue --param start=1
  deduce query -e 'rules: [{head: "?", args: ["n"], body: [{stored: "nums", bind: {n: "n"}}]}]'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "query parameter name=value (repeatable)")
	cmd.Flags().StringVarP(&opts.Source, "source", "e", "", "inline CUE program")

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var (
		f   *compiler.File
		err error
	)
	switch {
	case len(args) == 1 && opts.Source != "":
		return NewExitError(ExitCommandError, "give either a program file or --source, not both")
	case len(args) == 1:
		f, err = compiler.LoadFile(args[0])
	case opts.Source != "":
		f, err = compiler.LoadSource("source.cue", []byte(opts.Source))
	default:
		return NewExitError(ExitCommandError, "a program file or --source is required")
	}
	if err != nil {
		return formatter.Fail("failed to load program", err)
	}
	if f.Program == nil && f.Script == nil {
		return NewExitError(ExitCommandError, "file holds no rules or script")
	}

	params, err := ParseParams(opts.Params)
	if err != nil {
		_ = formatter.Error(ErrCodeParam, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	db, err := opts.openDB()
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer closeDB(db)

	var res *engine.Result
	if f.Script != nil {
		res, err = db.RunScript(cmd.Context(), *f.Script, params)
	} else {
		res, err = db.Run(cmd.Context(), *f.Program, params)
	}
	if err != nil {
		return formatter.Fail("query failed", err)
	}
	slog.Debug("query finished", "rows", len(res.Rows), "epoch", res.Epoch)

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	if err := formatter.Rows(res.NamedRows()); err != nil {
		return err
	}
	if res.Committed {
		fmt.Fprintf(formatter.GetErrWriter(), "committed at epoch %d\n", res.Epoch)
	}
	return nil
}
