package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/deduce/internal/ir"
)

// RelationInfo describes one live stored relation.
type RelationInfo struct {
	Name     string      `json:"name"`
	Keys     []ir.Column `json:"keys"`
	Values   []ir.Column `json:"values"`
	Rows     int         `json:"rows"`
	Versions int64       `json:"versions"`
}

// NewRelationsCommand creates the relations command.
func NewRelationsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relations",
		Short: "List stored relations with row and version counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelations(rootOpts, cmd)
		},
	}
}

func runRelations(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	db, err := opts.openDB()
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer closeDB(db)

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return formatter.Fail("failed to read stats", err)
	}
	counts := make(map[string]int, len(stats))
	versions := make(map[string]int64, len(stats))
	for _, s := range stats {
		counts[s.Name] = s.Rows
		versions[s.Name] = s.Versions
	}

	infos := []RelationInfo{}
	for _, schema := range db.Relations() {
		infos = append(infos, RelationInfo{
			Name:     schema.Name,
			Keys:     schema.Keys,
			Values:   schema.Values,
			Rows:     counts[schema.Name],
			Versions: versions[schema.Name],
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"epoch": db.Epoch(), "relations": infos})
	}
	if len(infos) == 0 {
		fmt.Fprintln(formatter.Writer, "No relations.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCOLUMNS\tROWS\tVERSIONS")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", info.Name, describeColumns(info.Keys, info.Values), info.Rows, info.Versions)
	}
	return tw.Flush()
}

// describeColumns renders "{fr: Int, to: Int => since: String?}".
func describeColumns(keys, values []ir.Column) string {
	render := func(cols []ir.Column) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = c.Name + ": " + c.Type.String()
		}
		return strings.Join(parts, ", ")
	}
	s := render(keys)
	if len(values) > 0 {
		s += " => " + render(values)
	}
	return "{" + s + "}"
}
