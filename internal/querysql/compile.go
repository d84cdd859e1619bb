package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/queryir"
)

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// Every relation lives in its own table whose primary key is
// (key columns..., epoch). A row is one version of one key; tombstone = 1
// marks a retraction.
//
// CRITICAL: ALL row-returning queries include ORDER BY for deterministic results.
// CRITICAL: All values are parameterized, never interpolated. Identifiers are
// quoted and come only from the store's catalog.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case queryir.History:
		return c.compileHistory(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a Select to SQL that keeps, per key, only the latest
// version at or below AsOf, then drops tombstones.
//
//	SELECT t."k0", t."v0" FROM "rel_1" AS t
//	WHERE <filter> AND t."tombstone" = 0
//	  AND t."epoch" = (SELECT MAX(s."epoch") FROM "rel_1" AS s
//	                   WHERE s."k0" = t."k0" AND s."epoch" <= ?)
//	ORDER BY t."k0" ASC
//
// The filter may reference value columns: the subquery picks the visible
// version independently of the filter, so filtering the outer row is safe.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var b strings.Builder
	var params []any

	fmt.Fprintf(&b, "SELECT %s FROM %s AS t WHERE ", qualifiedList("t", q.Table.Columns()), QuoteIdent(q.Table.Name))

	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate("t", q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(filterSQL)
		b.WriteString(" AND ")
		params = append(params, filterParams...)
	}

	fmt.Fprintf(&b, "t.%s = 0 AND t.%s = (SELECT MAX(s.%s) FROM %s AS s WHERE %s AND s.%s <= ?)",
		QuoteIdent(queryir.TombstoneColumn),
		QuoteIdent(queryir.EpochColumn),
		QuoteIdent(queryir.EpochColumn),
		QuoteIdent(q.Table.Name),
		keyMatch("s", "t", q.Table.KeyColumns),
		QuoteIdent(queryir.EpochColumn))
	params = append(params, q.AsOf)

	// MANDATORY: deterministic ordering
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy("t", q.Table.KeyColumns))

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

// compileHistory compiles a History query over raw versions.
func (c *SQLCompiler) compileHistory(q queryir.History) (string, []any, error) {
	var b strings.Builder
	var params []any

	cols := append(q.Table.Columns(), queryir.EpochColumn, queryir.TombstoneColumn)
	fmt.Fprintf(&b, "SELECT %s FROM %s AS t WHERE ", qualifiedList("t", cols), QuoteIdent(q.Table.Name))
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate("t", q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(filterSQL)
		b.WriteString(" AND ")
		params = append(params, filterParams...)
	}
	fmt.Fprintf(&b, "t.%s > ?", QuoteIdent(queryir.EpochColumn))
	params = append(params, q.After)

	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy("t", append(append([]string{}, q.Table.KeyColumns...), queryir.EpochColumn)))
	return b.String(), params, nil
}

// compilePredicate compiles a queryir.Predicate to a WHERE clause fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(alias string, p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return c.compileEquals(alias, pred)
	case queryir.Range:
		return c.compileRange(alias, pred)
	case queryir.And:
		return c.compileAnd(alias, pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate. Null literals compile to IS NULL.
func (c *SQLCompiler) compileEquals(alias string, eq queryir.Equals) (string, []any, error) {
	col := alias + "." + QuoteIdent(eq.Column)
	if ir.IsNull(eq.Value) {
		return col + " IS NULL", nil, nil
	}
	param, err := ValueToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}
	return col + " = ?", []any{param}, nil
}

// compileRange compiles a Range predicate to one or two comparisons.
func (c *SQLCompiler) compileRange(alias string, r queryir.Range) (string, []any, error) {
	col := alias + "." + QuoteIdent(r.Column)
	var parts []string
	var params []any
	if r.Lower != nil {
		op := ">"
		if r.LowerInclusive {
			op = ">="
		}
		param, err := ValueToParam(r.Lower)
		if err != nil {
			return "", nil, fmt.Errorf("convert lower bound: %w", err)
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		params = append(params, param)
	}
	if r.Upper != nil {
		op := "<"
		if r.UpperInclusive {
			op = "<="
		}
		param, err := ValueToParam(r.Upper)
		if err != nil {
			return "", nil, fmt.Errorf("convert upper bound: %w", err)
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		params = append(params, param)
	}
	return strings.Join(parts, " AND "), params, nil
}

// compileAnd compiles an And predicate to conjunction with AND.
func (c *SQLCompiler) compileAnd(alias string, and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(alias, pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return strings.Join(sqlParts, " AND "), allParams, nil
}

// CompileCreateTable returns the DDL for a relation table.
func (c *SQLCompiler) CompileCreateTable(t queryir.Table) string {
	var defs []string
	for i, name := range t.Columns() {
		def := QuoteIdent(name) + " " + sqlType(t.Types[i].Base)
		if i < len(t.KeyColumns) {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs,
		QuoteIdent(queryir.EpochColumn)+" INTEGER NOT NULL",
		QuoteIdent(queryir.TombstoneColumn)+" INTEGER NOT NULL DEFAULT 0",
		fmt.Sprintf("PRIMARY KEY (%s)", quotedList(append(append([]string{}, t.KeyColumns...), queryir.EpochColumn))),
	)
	return fmt.Sprintf("CREATE TABLE %s (%s) WITHOUT ROWID", QuoteIdent(t.Name), strings.Join(defs, ", "))
}

// CompileDropTable returns the DDL that removes a relation table.
func (c *SQLCompiler) CompileDropTable(t queryir.Table) string {
	return "DROP TABLE IF EXISTS " + QuoteIdent(t.Name)
}

// CompileUpsert returns an INSERT writing one version of one key.
// Params: every column in tuple order, then epoch, then tombstone.
// A second write of the same key at the same epoch overwrites the first.
func (c *SQLCompiler) CompileUpsert(t queryir.Table) string {
	cols := append(t.Columns(), queryir.EpochColumn, queryir.TombstoneColumn)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var sets []string
	for _, name := range append(append([]string{}, t.ValueColumns...), queryir.TombstoneColumn) {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", QuoteIdent(name), QuoteIdent(name)))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		QuoteIdent(t.Name),
		quotedList(cols),
		placeholders,
		quotedList(append(append([]string{}, t.KeyColumns...), queryir.EpochColumn)),
		strings.Join(sets, ", "))
}

// CompileConflictCheck returns a query yielding the newest epoch at which a
// key was written after a snapshot, or NULL if none.
// Params: key values in key order, then the snapshot epoch.
func (c *SQLCompiler) CompileConflictCheck(t queryir.Table) string {
	var conds []string
	for _, k := range t.KeyColumns {
		conds = append(conds, QuoteIdent(k)+" = ?")
	}
	return fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s AND %s > ?",
		QuoteIdent(queryir.EpochColumn),
		QuoteIdent(t.Name),
		strings.Join(conds, " AND "),
		QuoteIdent(queryir.EpochColumn))
}

// CompilePurgeSuperseded deletes versions that a newer version at or below
// the horizon hides from every snapshot at or above the horizon.
// Params: horizon, horizon.
func (c *SQLCompiler) CompilePurgeSuperseded(t queryir.Table) string {
	table := QuoteIdent(t.Name)
	return fmt.Sprintf("DELETE FROM %s WHERE %s <= ? AND EXISTS (SELECT 1 FROM %s AS n WHERE %s AND n.%s > %s.%s AND n.%s <= ?)",
		table,
		QuoteIdent(queryir.EpochColumn),
		table,
		keyMatch("n", table, t.KeyColumns),
		QuoteIdent(queryir.EpochColumn), table, QuoteIdent(queryir.EpochColumn),
		QuoteIdent(queryir.EpochColumn))
}

// CompilePurgeTombstones deletes tombstones at or below the horizon. Run it
// after CompilePurgeSuperseded so no older version of the key survives.
// Params: horizon.
func (c *SQLCompiler) CompilePurgeTombstones(t queryir.Table) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = 1 AND %s <= ?",
		QuoteIdent(t.Name),
		QuoteIdent(queryir.TombstoneColumn),
		QuoteIdent(queryir.EpochColumn))
}

// CompileCountVersions counts every stored version, visible or not.
func (c *SQLCompiler) CompileCountVersions(t queryir.Table) string {
	return "SELECT COUNT(*) FROM " + QuoteIdent(t.Name)
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quotedList(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = QuoteIdent(n)
	}
	return strings.Join(parts, ", ")
}

func qualifiedList(alias string, names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = alias + "." + QuoteIdent(n)
	}
	return strings.Join(parts, ", ")
}

// keyMatch renders a.k0 = b.k0 AND a.k1 = b.k1 ...
func keyMatch(a, b string, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		q := QuoteIdent(k)
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", a, q, b, q)
	}
	return strings.Join(parts, " AND ")
}

func orderBy(alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = alias + "." + QuoteIdent(c) + " ASC"
	}
	return strings.Join(parts, ", ")
}

func sqlType(t ir.BaseType) string {
	switch t {
	case ir.TypeInt, ir.TypeBool:
		return "INTEGER"
	case ir.TypeFloat:
		return "REAL"
	case ir.TypeString:
		return "TEXT"
	}
	return "BLOB"
}

// ValueToParam converts an ir.Value to a Go native type for an SQL parameter.
// Bools are stored as 0/1 integers.
func ValueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return nil, nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.Int:
		return int64(val), nil
	case ir.Float:
		return float64(val), nil
	case ir.String:
		return string(val), nil
	default:
		return nil, fmt.Errorf("unsupported Value type for SQL parameter: %T", v)
	}
}

// ParamToValue converts a scanned SQL value back to an ir.Value of the
// column's type.
func ParamToValue(raw any, t ir.ColumnType) (ir.Value, error) {
	if raw == nil {
		return ir.Null{}, nil
	}
	switch t.Base {
	case ir.TypeInt:
		if n, ok := raw.(int64); ok {
			return ir.Int(n), nil
		}
	case ir.TypeBool:
		if n, ok := raw.(int64); ok {
			return ir.Bool(n != 0), nil
		}
	case ir.TypeFloat:
		switch n := raw.(type) {
		case float64:
			return ir.Float(n), nil
		case int64:
			return ir.Float(n), nil
		}
	case ir.TypeString:
		switch s := raw.(type) {
		case string:
			return ir.String(s), nil
		case []byte:
			return ir.String(s), nil
		}
	}
	return nil, fmt.Errorf("stored %T does not fit %s column", raw, t)
}
