package postgres

import (
	"testing"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"users"`, quoteIdentifier("users"))
	assert.Equal(t, `"we""ird"`, quoteIdentifier(`we"ird`))
	assert.Equal(t, `"sales"."orders"`, quoteQualified("sales.orders"))
	assert.Equal(t, `"orders"`, quoteQualified("orders"))
}

func TestWhereBuilder(t *testing.T) {
	t.Run("empty filter renders nothing", func(t *testing.T) {
		w := &whereBuilder{}
		where, err := w.build(nil)
		require.NoError(t, err)
		assert.Empty(t, where)
		assert.Empty(t, w.args)
	})

	t.Run("equality and null", func(t *testing.T) {
		w := &whereBuilder{}
		where, err := w.build(map[string]interface{}{
			"name":       "alice",
			"deleted_at": nil,
		})
		require.NoError(t, err)
		assert.Equal(t, `"deleted_at" IS NULL AND "name" = $1`, where)
		assert.Equal(t, []interface{}{"alice"}, w.args)
	})

	t.Run("operators are sorted and parameterized", func(t *testing.T) {
		w := &whereBuilder{}
		where, err := w.build(map[string]interface{}{
			"age":  map[string]interface{}{"$gte": 18, "$lt": 65},
			"role": map[string]interface{}{"$in": []interface{}{"admin", "owner"}},
		})
		require.NoError(t, err)
		assert.Equal(t, `"age" >= $1 AND "age" < $2 AND "role" = ANY($3)`, where)
		assert.Equal(t, []interface{}{18, 65, []interface{}{"admin", "owner"}}, w.args)
	})

	t.Run("or groups", func(t *testing.T) {
		w := &whereBuilder{}
		where, err := w.build(map[string]interface{}{
			"$or": []interface{}{
				map[string]interface{}{"a": 1},
				map[string]interface{}{"b": map[string]interface{}{"$null": false}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, `(("a" = $1) OR ("b" IS NOT NULL))`, where)
	})

	t.Run("values never reach the SQL text", func(t *testing.T) {
		w := &whereBuilder{}
		where, err := w.build(map[string]interface{}{"name": "x'; DROP TABLE users; --"})
		require.NoError(t, err)
		assert.NotContains(t, where, "DROP")
	})

	t.Run("logical list of empty filters is a validation error", func(t *testing.T) {
		for _, filter := range []map[string]interface{}{
			{"$or": []interface{}{map[string]interface{}{}}},
			{"$and": []interface{}{map[string]interface{}{}, map[string]interface{}{}}},
		} {
			w := &whereBuilder{}
			_, err := w.build(filter)
			assert.Equal(t, adapter.KindValidation, adapter.KindOf(err), "%v", filter)
		}

		_, _, err := buildSelect(adapter.ReadRequest{
			Container: "t",
			Filter:    map[string]interface{}{"$or": []interface{}{map[string]interface{}{}}},
		}, 11)
		assert.Equal(t, adapter.KindValidation, adapter.KindOf(err))
	})

	t.Run("unknown operator is a validation error", func(t *testing.T) {
		w := &whereBuilder{}
		_, err := w.build(map[string]interface{}{"a": map[string]interface{}{"$regex": "x"}})
		assert.Equal(t, adapter.KindValidation, adapter.KindOf(err))
	})
}

func TestBuildSelect(t *testing.T) {
	query, args, err := buildSelect(adapter.ReadRequest{
		Container:  "public.users",
		Filter:     map[string]interface{}{"active": true},
		Projection: []string{"id", "email"},
		Sort:       []adapter.SortField{{Field: "id", Descending: true}},
		Skip:       20,
	}, 11)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "email" FROM "public"."users" WHERE "active" = $1 ORDER BY "id" DESC LIMIT 11 OFFSET 20`, query)
	assert.Equal(t, []interface{}{true}, args)
}

func TestBuildInsert(t *testing.T) {
	query, values := buildInsert("users", map[string]interface{}{"name": "bob", "age": 40})
	assert.Equal(t, `INSERT INTO "users" ("age", "name") VALUES ($1, $2)`, query)
	assert.Equal(t, []interface{}{40, "bob"}, values)

	query, values = buildInsert("users", map[string]interface{}{})
	assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES`, query)
	assert.Nil(t, values)
}

func TestBuildUpdateNumbersSetArgsFirst(t *testing.T) {
	query, args, err := buildUpdate("users",
		map[string]interface{}{"name": "carol"},
		map[string]interface{}{"id": 7})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "name" = $1 WHERE "id" = $2`, query)
	assert.Equal(t, []interface{}{"carol", 7}, args)
}

func TestBuildDelete(t *testing.T) {
	query, args, err := buildDelete("users", map[string]interface{}{"id": map[string]interface{}{"$ne": nil}})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "id" IS NOT NULL`, query)
	assert.Empty(t, args)
}

func TestBuildCreateTable(t *testing.T) {
	stmt, err := buildCreateTable("items", []adapter.ColumnDefinition{
		{Name: "id", Type: "bigserial", PrimaryKey: true},
		{Name: "price", Type: "numeric(10, 2)", Default: "0"},
		{Name: "note", Type: "text", Nullable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "items" ("id" bigserial, "price" numeric(10, 2) NOT NULL DEFAULT 0, "note" text, PRIMARY KEY ("id"))`, stmt)

	_, err = buildCreateTable("items", []adapter.ColumnDefinition{{Name: "x", Type: "int); DROP TABLE y; --"}})
	assert.Equal(t, adapter.KindValidation, adapter.KindOf(err))

	_, err = buildCreateTable("items", nil)
	assert.Equal(t, adapter.KindValidation, adapter.KindOf(err))
}

func TestBuildIndexStatements(t *testing.T) {
	stmt, err := buildCreateIndex("sales.orders", &adapter.IndexDefinition{
		Name:   "orders_customer_idx",
		Fields: []adapter.SortField{{Field: "customer_id"}, {Field: "created_at", Descending: true}},
		Unique: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `CREATE UNIQUE INDEX "orders_customer_idx" ON "sales"."orders" ("customer_id", "created_at" DESC)`, stmt)

	assert.Equal(t, `DROP INDEX "sales"."orders_customer_idx"`, buildDropIndex("sales.orders", "orders_customer_idx"))
	assert.Equal(t, `DROP INDEX "idx"`, buildDropIndex("orders", "idx"))
	assert.Equal(t, `ALTER TABLE "sales"."orders" RENAME TO "orders_old"`, buildRename("sales.orders", "sales.orders_old"))
}

func TestBuildMaintenance(t *testing.T) {
	cases := []struct {
		action adapter.SchemaAction
		target string
		want   string
	}{
		{adapter.ActionVacuum, "", "VACUUM (ANALYZE)"},
		{adapter.ActionVacuum, "users", `VACUUM (ANALYZE) "users"`},
		{adapter.ActionAnalyze, "public.users", `ANALYZE "public"."users"`},
		{adapter.ActionReindex, "", `REINDEX DATABASE "app"`},
		{adapter.ActionReindex, "users", `REINDEX TABLE "users"`},
	}
	for _, tc := range cases {
		got, err := buildMaintenance(tc.action, tc.target, "app")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestExplainStatement(t *testing.T) {
	assert.Equal(t, "EXPLAIN (FORMAT JSON) SELECT 1", explainStatement("SELECT 1", false))
	assert.Equal(t, "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) SELECT 1", explainStatement("SELECT 1", true))
}

func TestParseExplain(t *testing.T) {
	raw := []byte(`[{"Plan": {"Node Type": "Seq Scan", "Total Cost": 35.5, "Plan Rows": 2550, "Actual Rows": 3},
		"Planning Time": 0.05, "Execution Time": 0.02}]`)
	plan, err := parseExplain(raw)
	require.NoError(t, err)

	summary, ok := plan["summary"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Seq Scan", summary["nodeType"])
	assert.Equal(t, float64(3), summary["actualRows"])
	assert.Equal(t, 0.02, summary["executionTimeMs"])

	_, err = parseExplain([]byte(`[]`))
	assert.Error(t, err)
}

func TestCacheHitRatio(t *testing.T) {
	assert.Equal(t, float64(0), cacheHitRatio(0, 0))
	assert.InDelta(t, 0.75, cacheHitRatio(3, 1), 1e-9)
}
