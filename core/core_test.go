package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combiql/combiql/core"
)

func demoSQL(t *testing.T, q *core.Query) string {
	t.Helper()
	e := core.NewDemoEngine(nil, nil)
	stmt, err := e.SQL(q)
	require.NoError(t, err)
	return stmt
}

func TestRegionNames(t *testing.T) {
	stmt := demoSQL(t, core.Nav("region", "name"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1) AS anon_1`,
		stmt)
}

func TestRegionCount(t *testing.T) {
	stmt := demoSQL(t, core.Nav("region").Count())
	assert.Equal(t,
		`SELECT anon_1.value AS value FROM (SELECT coalesce(count(*), 0) AS value`+
			` FROM region AS region_1) AS anon_1`,
		stmt)
}

func TestFilterByLinkedName(t *testing.T) {
	stmt := demoSQL(t, core.Nav("nation").
		Filter(core.Nav("region", "name").Eq("AFRICA")).
		Nav("name"))
	assert.Contains(t, stmt, `WHERE region_1.name = 'AFRICA'`)
	assert.Contains(t, stmt, `JOIN region AS region_1 ON nation_1.region_id = region_1.id`)
}

func TestSelectWithAggregate(t *testing.T) {
	stmt := demoSQL(t, core.Nav("region").Select(
		core.F("name", core.Nav("name")),
		core.F("nation_count", core.Nav("nation").Count()),
	))
	assert.Contains(t, stmt, `jsonb_build_object('name', region_1.name, 'nation_count', anon_2.value)`)
	assert.Contains(t, stmt, `LEFT OUTER JOIN LATERAL`)
}

func TestGroupSelect(t *testing.T) {
	stmt := demoSQL(t, core.Nav("nation").
		Group(core.F("r", core.Nav("region", "name"))).
		Select(
			core.F("r", core.Nav("r")),
			core.F("c", core.Nav("_").Count()),
		))
	assert.Contains(t, stmt, `GROUP BY region_1.name`)
	assert.Contains(t, stmt, `coalesce(anon_2.value, 0) AS compute_0`)
	assert.Contains(t, stmt, `jsonb_build_object('r', anon_3.r, 'c', anon_3.compute_0)`)
}

func TestJSONValueNav(t *testing.T) {
	stmt := demoSQL(t, core.JSONVal(map[string]interface{}{
		"a": []interface{}{float64(1)},
	}).Nav("a"))
	assert.Equal(t, `SELECT CAST('{"a":[1]}' AS JSONB) -> 'a' AS value`, stmt)
}

func TestSortTake(t *testing.T) {
	stmt := demoSQL(t, core.Nav("region").
		Sort(core.Nav("name").Desc()).
		Take(2).
		Nav("name"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1`+
			` ORDER BY region_1.name DESC LIMIT 2) AS anon_1`,
		stmt)
}

// Then is associative: both groupings compile to the same SQL.
func TestThenAssociativity(t *testing.T) {
	a := core.Nav("nation").Then(core.Nav("region")).Then(core.Nav("name"))
	b := core.Nav("nation").Then(core.Nav("region").Then(core.Nav("name")))
	assert.Equal(t, demoSQL(t, a), demoSQL(t, b))
}

func TestCompiledStatementIsCached(t *testing.T) {
	e := core.NewDemoEngine(nil, nil)
	q := core.Nav("region", "name")
	first, err := e.SQL(q)
	require.NoError(t, err)
	second, err := e.SQL(q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuilderErrorSurfaces(t *testing.T) {
	e := core.NewDemoEngine(nil, nil)
	_, err := e.SQL(core.Val(struct{}{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported literal")
}

func TestEmptyQueryFails(t *testing.T) {
	e := core.NewDemoEngine(nil, nil)
	_, err := e.SQL(core.Q())
	require.Error(t, err)
}

func TestExecuteWithoutDatabaseFails(t *testing.T) {
	e := core.NewDemoEngine(nil, nil)
	_, err := e.Execute(nil, core.Nav("region", "name")) //nolint:staticcheck
	require.Error(t, err)
}
