package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// CreatedRelation reports one relation created by the create command.
type CreatedRelation struct {
	Name  string `json:"name"`
	Epoch int64  `json:"epoch"`
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <schema.cue|dir>",
		Short: "Create stored relations declared in CUE",
		Long: `Create every stored relation declared under "relation:" in a CUE file,
or in every .cue file below a directory.

Example schema:
  relation: friends: {
    keys: {fr: "Int", to: "Int"}
    values: {since: "String?"}
  }`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(rootOpts, args[0], cmd)
		},
	}
}

func runCreate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	files, err := LoadCUE(path)
	if err != nil {
		return formatter.Fail("failed to load schema", err)
	}

	db, err := opts.openDB()
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer closeDB(db)

	var created []CreatedRelation
	for _, f := range files {
		for _, schema := range f.Relations {
			epoch, err := db.CreateRelation(cmd.Context(), schema)
			if err != nil {
				return formatter.Fail(fmt.Sprintf("failed to create %s", schema.Name), err)
			}
			slog.Info("relation created", "relation", schema.Name, "epoch", epoch, "file", f.Path)
			created = append(created, CreatedRelation{Name: schema.Name, Epoch: epoch})
		}
	}
	if len(created) == 0 {
		return formatter.Fail("nothing to create", NewExitError(ExitCommandError, fmt.Sprintf("no relations declared in %s", path)))
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"relations": created})
	}
	for _, c := range created {
		fmt.Fprintf(formatter.Writer, "✓ created %s (epoch %d)\n", c.Name, c.Epoch)
	}
	return nil
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <relation>",
		Short: "Drop a stored relation",
		Long: `Drop a stored relation. Snapshots taken before the drop still see it
until compaction passes the drop epoch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			db, err := rootOpts.openDB()
			if err != nil {
				return formatter.Fail("failed to open database", err)
			}
			defer closeDB(db)

			epoch, err := db.DropRelation(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(fmt.Sprintf("failed to drop %s", args[0]), err)
			}
			if formatter.Format == "json" {
				return formatter.Success(CreatedRelation{Name: args[0], Epoch: epoch})
			}
			fmt.Fprintf(formatter.Writer, "✓ dropped %s (epoch %d)\n", args[0], epoch)
			return nil
		},
	}
}
