package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/deduce/internal/ir"
)

// ImportResult reports a finished import.
type ImportResult struct {
	Epoch     int64          `json:"epoch"`
	Relations map[string]int `json:"relations"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <data.json|->",
		Short: "Bulk-load rows into stored relations",
		Long: `Load rows into existing stored relations in one atomic commit. The file
maps relation names to headed rows; headers name columns in any order and
nullable columns may be left out:

  {"friends": {"headers": ["fr", "to"], "rows": [[1, 2], [2, 3]]}}

Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read import data", err)
	}

	payload, err := decodeImport(data)
	if err != nil {
		_ = formatter.Error(ErrCodeData, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid import data", err)
	}

	db, err := opts.openDB()
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer closeDB(db)

	epoch, err := db.Import(cmd.Context(), payload)
	if err != nil {
		return formatter.Fail("import failed", err)
	}

	result := ImportResult{Epoch: epoch, Relations: make(map[string]int, len(payload))}
	for name, rows := range payload {
		result.Relations[name] = len(rows.Rows)
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	total := 0
	for _, n := range result.Relations {
		total += n
	}
	fmt.Fprintf(formatter.Writer, "✓ imported %d row(s) into %d relation(s) at epoch %d\n", total, len(result.Relations), epoch)
	return nil
}

// decodeImport parses the import document, rejecting unknown fields.
func decodeImport(data []byte) (map[string]ir.NamedRows, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var payload map[string]ir.NamedRows
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("no relations in import data")
	}
	return payload, nil
}
