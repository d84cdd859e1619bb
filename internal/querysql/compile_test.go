package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/queryir"
)

var (
	intType      = ir.ColumnType{Base: ir.TypeInt}
	nullableText = ir.ColumnType{Base: ir.TypeString, Nullable: true}
)

func friendsTable() queryir.Table {
	return queryir.Table{
		Name:       "rel_1",
		KeyColumns: []string{"k0", "k1"},
		Types:      []ir.ColumnType{intType, intType},
	}
}

func userTable() queryir.Table {
	return queryir.Table{
		Name:         "rel_2",
		KeyColumns:   []string{"k0"},
		ValueColumns: []string{"v0", "v1"},
		Types:        []ir.ColumnType{intType, nullableText, {Base: ir.TypeBool}},
	}
}

func TestCompile_SelectAllAtEpoch(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{Table: friendsTable(), AsOf: 5})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT t."k0", t."k1" FROM "rel_1" AS t WHERE t."tombstone" = 0 AND t."epoch" = `+
			`(SELECT MAX(s."epoch") FROM "rel_1" AS s WHERE s."k0" = t."k0" AND s."k1" = t."k1" AND s."epoch" <= ?) `+
			`ORDER BY t."k0" ASC, t."k1" ASC`,
		sql)
	assert.Equal(t, []any{int64(5)}, params)
}

func TestCompile_SelectPointLookup(t *testing.T) {
	q := queryir.Select{
		Table: friendsTable(),
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Column: "k0", Value: ir.Int(1)},
			queryir.Equals{Column: "k1", Value: ir.Int(2)},
		}},
		AsOf: 9,
	}
	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, `WHERE t."k0" = ? AND t."k1" = ? AND t."tombstone" = 0`)
	assert.Equal(t, []any{int64(1), int64(2), int64(9)}, params, "filter params precede the epoch")
}

func TestCompile_SelectNullEqualsUsesIsNull(t *testing.T) {
	q := queryir.Select{Table: userTable(), Filter: queryir.Equals{Column: "v0", Value: ir.Null{}}, AsOf: 1}
	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, `t."v0" IS NULL AND`)
	assert.Equal(t, []any{int64(1)}, params)
}

func TestCompile_SelectRangeAndLimit(t *testing.T) {
	q := queryir.Select{
		Table:  friendsTable(),
		Filter: queryir.Range{Column: "k0", Lower: ir.Int(2), LowerInclusive: true, Upper: ir.Int(4)},
		AsOf:   3,
		Limit:  10,
	}
	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, `t."k0" >= ? AND t."k0" < ? AND`)
	assert.True(t, len(sql) > 0 && sql[len(sql)-len(" LIMIT ?"):] == " LIMIT ?")
	assert.Equal(t, []any{int64(2), int64(4), int64(3), 10}, params)
}

func TestCompile_BoolParamsAreIntegers(t *testing.T) {
	q := queryir.Select{Table: userTable(), Filter: queryir.Equals{Column: "v1", Value: ir.Bool(true)}}
	_, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(0)}, params)
}

func TestCompile_History(t *testing.T) {
	q := queryir.History{
		Table:  friendsTable(),
		Filter: queryir.Equals{Column: "k0", Value: ir.Int(1)},
		After:  4,
	}
	sql, params, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT t."k0", t."k1", t."epoch", t."tombstone" FROM "rel_1" AS t WHERE t."k0" = ? AND t."epoch" > ? `+
			`ORDER BY t."k0" ASC, t."k1" ASC, t."epoch" ASC`,
		sql)
	assert.Equal(t, []any{int64(1), int64(4)}, params)
}

func TestCompile_RejectsInvalidQuery(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(nil)
	assert.Error(t, err)

	_, _, err = NewSQLCompiler().Compile(queryir.Select{
		Table:  friendsTable(),
		Filter: queryir.Equals{Column: "nope", Value: ir.Int(1)},
	})
	assert.Error(t, err)
}

func TestCompileCreateTable(t *testing.T) {
	ddl := NewSQLCompiler().CompileCreateTable(userTable())
	assert.Equal(t,
		`CREATE TABLE "rel_2" ("k0" INTEGER NOT NULL, "v0" TEXT, "v1" INTEGER, "epoch" INTEGER NOT NULL, `+
			`"tombstone" INTEGER NOT NULL DEFAULT 0, PRIMARY KEY ("k0", "epoch")) WITHOUT ROWID`,
		ddl)
}

func TestCompileUpsert(t *testing.T) {
	sql := NewSQLCompiler().CompileUpsert(userTable())
	assert.Equal(t,
		`INSERT INTO "rel_2" ("k0", "v0", "v1", "epoch", "tombstone") VALUES (?, ?, ?, ?, ?) `+
			`ON CONFLICT ("k0", "epoch") DO UPDATE SET "v0" = excluded."v0", "v1" = excluded."v1", "tombstone" = excluded."tombstone"`,
		sql)

	keysOnly := NewSQLCompiler().CompileUpsert(friendsTable())
	assert.Contains(t, keysOnly, `DO UPDATE SET "tombstone" = excluded."tombstone"`)
}

func TestCompileConflictCheck(t *testing.T) {
	sql := NewSQLCompiler().CompileConflictCheck(friendsTable())
	assert.Equal(t, `SELECT MAX("epoch") FROM "rel_1" WHERE "k0" = ? AND "k1" = ? AND "epoch" > ?`, sql)
}

func TestCompilePurge(t *testing.T) {
	c := NewSQLCompiler()
	assert.Equal(t,
		`DELETE FROM "rel_1" WHERE "epoch" <= ? AND EXISTS (SELECT 1 FROM "rel_1" AS n WHERE `+
			`n."k0" = "rel_1"."k0" AND n."k1" = "rel_1"."k1" AND n."epoch" > "rel_1"."epoch" AND n."epoch" <= ?)`,
		c.CompilePurgeSuperseded(friendsTable()))
	assert.Equal(t, `DELETE FROM "rel_1" WHERE "tombstone" = 1 AND "epoch" <= ?`, c.CompilePurgeTombstones(friendsTable()))
	assert.Equal(t, `DROP TABLE IF EXISTS "rel_1"`, c.CompileDropTable(friendsTable()))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteIdent("plain"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestValueParamRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    ir.Value
		typ  ir.ColumnType
	}{
		{"int", ir.Int(-4), intType},
		{"float", ir.Float(2.5), ir.ColumnType{Base: ir.TypeFloat}},
		{"string", ir.String("hé"), nullableText},
		{"bool", ir.Bool(true), ir.ColumnType{Base: ir.TypeBool}},
		{"null", ir.Null{}, nullableText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ValueToParam(tt.v)
			require.NoError(t, err)
			back, err := ParamToValue(p, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.v, back)
		})
	}
}

func TestParamToValueTypeMismatch(t *testing.T) {
	_, err := ParamToValue("x", intType)
	assert.Error(t, err)

	v, err := ParamToValue(int64(3), ir.ColumnType{Base: ir.TypeFloat})
	require.NoError(t, err)
	assert.Equal(t, ir.Float(3), v)
}
