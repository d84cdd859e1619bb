package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const friendsSchema = `
relation: friends: {
	keys: {fr: "Int", to: "Int"}
}
`

const hopsProgram = `
rules: [
	{head: "l1", args: ["to"], body: [{stored: "friends", bind: {fr: "$start", to: "to"}}]},
	{head: "?", args: ["to"], body: [{rule: "l1", args: ["m"]}, {stored: "friends", bind: {fr: "m", to: "to"}}]},
]
`

const friendsData = `{"friends": {"headers": ["to", "fr"], "rows": [[2, 1], [3, 2], [4, 2]]}}`

// seeded creates a database with the friends relation and three edges.
func seeded(t *testing.T) (dir, db string) {
	t.Helper()
	dir = t.TempDir()
	db = filepath.Join(dir, "test.db")
	schema := writeFile(t, dir, "schema.cue", friendsSchema)
	data := writeFile(t, dir, "data.json", friendsData)

	out, _, err := execute(t, "--db", db, "create", schema)
	require.NoError(t, err)
	assert.Contains(t, out, "created friends")

	out, _, err = execute(t, "--db", db, "import", data)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 row(s) into 1 relation(s)")
	return dir, db
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Headers   []string `json:"headers"`
		Rows      [][]any  `json:"rows"`
		Committed bool     `json:"committed"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func TestQuery_TwoHops(t *testing.T) {
	dir, db := seeded(t)
	prog := writeFile(t, dir, "hops.cue", hopsProgram)

	out, _, err := execute(t, "--db", db, "--format", "json", "query", prog, "--param", "start=1")
	require.NoError(t, err)

	var resp queryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"to"}, resp.Data.Headers)
	assert.Equal(t, [][]any{{3.0}, {4.0}}, resp.Data.Rows)
	assert.False(t, resp.Data.Committed)
}

func TestQuery_TextTable(t *testing.T) {
	dir, db := seeded(t)
	prog := writeFile(t, dir, "hops.cue", hopsProgram)

	out, _, err := execute(t, "--db", db, "query", prog, "-p", "start=1")
	require.NoError(t, err)
	assert.Equal(t, []string{"to", "3", "4"}, strings.Fields(out))
}

func TestQuery_InlineSourceWithPut(t *testing.T) {
	_, db := seeded(t)
	src := `rules: [{head: "?", args: ["fr", "to"], facts: [[4, 5]]}]
put: {relation: "friends", keys: ["fr", "to"]}`

	_, errOut, err := execute(t, "--db", db, "query", "-e", src)
	require.NoError(t, err)
	assert.Contains(t, errOut, "committed at epoch")

	out, _, err := execute(t, "--db", db, "--format", "json", "relations")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows":4`)
}

func TestQuery_Errors(t *testing.T) {
	dir, db := seeded(t)
	prog := writeFile(t, dir, "hops.cue", hopsProgram)
	unknown := writeFile(t, dir, "unknown.cue", `rules: [{head: "?", args: ["x"], body: [{stored: "absent", bind: {x: "x"}}]}]`)
	cycle := writeFile(t, dir, "cycle.cue", `rules: [
	{head: "p", args: ["x"], body: [{stored: "friends", bind: {fr: "x", to: "_"}}, {not: {rule: "q", args: ["x"]}}]},
	{head: "q", args: ["x"], body: [{stored: "friends", bind: {fr: "x", to: "_"}}, {not: {rule: "p", args: ["x"]}}]},
	{head: "?", args: ["x"], body: [{rule: "p", args: ["x"]}]},
]`)
	divide := writeFile(t, dir, "divide.cue", `rules: [{head: "?", args: ["r"], body: [
	{stored: "friends", bind: {fr: "x", to: "y"}},
	{unify: "r", expr: {op: "/", args: ["y", 0]}},
]}]`)
	broken := writeFile(t, dir, "broken.cue", `rules: [`)

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantCode string
	}{
		{"missing param", []string{"query", prog}, ExitFailure, "MISSING_PARAMETER"},
		{"unknown relation", []string{"query", unknown}, ExitCommandError, "RELATION_NOT_FOUND"},
		{"negation cycle", []string{"query", cycle}, ExitCommandError, "ILLEGAL_CYCLE"},
		{"division by zero", []string{"query", divide}, ExitFailure, "DIVISION_BY_ZERO"},
		{"parse error", []string{"query", broken}, ExitCommandError, ""},
		{"bad param", []string{"query", prog, "--param", "start"}, ExitCommandError, ErrCodeParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--db", db, "--format", "json"}, tt.args...)
			out, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))

			var resp queryResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestQuery_NeedsProgram(t *testing.T) {
	_, db := seeded(t)
	_, _, err := execute(t, "--db", db, "query")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCreate_Twice(t *testing.T) {
	dir, db := seeded(t)
	schema := filepath.Join(dir, "schema.cue")

	_, _, err := execute(t, "--db", db, "create", schema)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "RELATION_EXISTS")
}

func TestImport_Errors(t *testing.T) {
	dir, db := seeded(t)
	unknownCol := writeFile(t, dir, "bad.json", `{"friends": {"headers": ["fr", "x"], "rows": [[1, 2]]}}`)
	malformed := writeFile(t, dir, "malformed.json", `{"friends": [1, 2]}`)

	_, _, err := execute(t, "--db", db, "import", unknownCol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COLUMN_NOT_FOUND")

	_, _, err = execute(t, "--db", db, "import", malformed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid import data")

	_, _, err = execute(t, "--db", db, "import", filepath.Join(dir, "absent.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRelations(t *testing.T) {
	_, db := seeded(t)

	out, _, err := execute(t, "--db", db, "relations")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "{fr: Int, to: Int}")
	assert.Equal(t, []string{"NAME", "COLUMNS", "ROWS", "VERSIONS", "friends", "{fr:", "Int,", "to:", "Int}", "3", "3"}, strings.Fields(out))
}

func TestBackupRestoreCompact(t *testing.T) {
	dir, db := seeded(t)
	backup := filepath.Join(dir, "backup.db")

	out, _, err := execute(t, "--db", db, "backup", backup)
	require.NoError(t, err)
	assert.Contains(t, out, "backed up")
	assert.FileExists(t, backup)

	_, _, err = execute(t, "--db", db, "backup", backup)
	require.Error(t, err)
	assert.Equal(t, ExitIOError, GetExitCode(err))

	_, _, err = execute(t, "--db", db, "drop", "friends")
	require.NoError(t, err)

	out, _, err = execute(t, "--db", db, "restore", backup)
	require.NoError(t, err)
	assert.Contains(t, out, "restored")

	out, _, err = execute(t, "--db", db, "--format", "json", "compact")
	require.NoError(t, err)
	assert.Contains(t, out, `"horizon"`)

	out, _, err = execute(t, "--db", db, "relations")
	require.NoError(t, err)
	assert.Contains(t, out, "friends")

	_, _, err = execute(t, "--db", db, "restore", filepath.Join(dir, "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitIOError, GetExitCode(err))
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"n=1", "f=2.5", "b=true", "z=null", "s=ada", `q="1"`, "$d=x=y"})
	require.NoError(t, err)
	assert.Equal(t, "1", params["n"].String())
	assert.Equal(t, "2.5", params["f"].String())
	assert.Equal(t, "true", params["b"].String())
	assert.Equal(t, "null", params["z"].String())
	assert.Equal(t, `"ada"`, params["s"].String())
	assert.Equal(t, `"1"`, params["q"].String())
	assert.Equal(t, `"x=y"`, params["d"].String())

	_, err = ParseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseParams([]string{"a=1", "a=2"})
	assert.Error(t, err)
}
