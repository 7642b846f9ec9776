package psql_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combiql/combiql/core/internal/psql"
	"github.com/combiql/combiql/core/internal/qcode"
	"github.com/combiql/combiql/core/internal/sdata"
)

func nav(names ...string) qcode.Syn {
	var syn qcode.Syn
	for _, n := range names {
		syn = compose(syn, &qcode.Nav{Name: n})
	}
	return syn
}

func compose(a, b qcode.Syn) qcode.Syn {
	if a == nil {
		return b
	}
	return &qcode.Compose{A: a, B: b}
}

func apply(parent qcode.Syn, name string, args ...qcode.Syn) qcode.Syn {
	return compose(parent, &qcode.Apply{Name: name, Args: args})
}

func fields(parent qcode.Syn, name string, fs ...qcode.SynField) qcode.Syn {
	return compose(parent, &qcode.Apply{Name: name, Fields: fs})
}

func field(name string, syn qcode.Syn) qcode.SynField {
	return qcode.SynField{Name: name, Syn: syn}
}

func lit(v interface{}) qcode.Syn {
	l, err := qcode.MakeValue(v)
	if err != nil {
		panic(err)
	}
	return l
}

func binop(op string, a, b qcode.Syn) qcode.Syn {
	return &qcode.BinOp{Op: op, A: a, B: b}
}

func compile(t *testing.T, syn qcode.Syn) string {
	t.Helper()
	op, err := qcode.Plan(syn, sdata.DemoSchema())
	require.NoError(t, err)
	stmt, err := psql.CompileString(op)
	require.NoError(t, err)
	return stmt
}

func TestNavColumn(t *testing.T) {
	stmt := compile(t, nav("region", "name"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1) AS anon_1`,
		stmt)
}

func TestNavTableIdentity(t *testing.T) {
	stmt := compile(t, nav("region"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT CAST(row(region_1.id) AS VARCHAR) AS value FROM region AS region_1) AS anon_1`,
		stmt)
}

func TestNavForwardLink(t *testing.T) {
	stmt := compile(t, nav("nation", "region", "name"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM nation AS nation_1`+
			` JOIN region AS region_1 ON nation_1.region_id = region_1.id) AS anon_1`,
		stmt)
}

func TestNavBackLink(t *testing.T) {
	stmt := compile(t, nav("region", "nation", "name"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT nation_1.name AS value FROM region AS region_1`+
			` JOIN nation AS nation_1 ON region_1.id = nation_1.region_id) AS anon_1`,
		stmt)
}

func TestCount(t *testing.T) {
	stmt := compile(t, apply(nav("region"), "count"))
	assert.Equal(t,
		`SELECT anon_1.value AS value FROM (SELECT coalesce(count(*), 0) AS value`+
			` FROM region AS region_1) AS anon_1`,
		stmt)
}

func TestSelectRecord(t *testing.T) {
	stmt := compile(t, fields(nav("nation"), "select",
		field("nation_name", nav("name")),
		field("region_name", nav("region", "name")),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT jsonb_build_object('nation_name', nation_1.name, 'region_name', region_1.name) AS value`+
			` FROM nation AS nation_1 JOIN region AS region_1 ON nation_1.region_id = region_1.id) AS anon_1`,
		stmt)
}

// Navigating the same link twice from the same row shares one join.
func TestSelectJoinDedup(t *testing.T) {
	stmt := compile(t, fields(nav("nation"), "select",
		field("a", nav("region", "name")),
		field("b", nav("region", "comment")),
	))
	assert.Equal(t, 1, strings.Count(stmt, "JOIN"))
	assert.Contains(t, stmt,
		`jsonb_build_object('a', region_1.name, 'b', region_1.comment)`)
}

func TestSelectAggregateField(t *testing.T) {
	stmt := compile(t, fields(nav("region"), "select",
		field("name", nav("name")),
		field("nation_count", apply(nav("nation"), "count")),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_3.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT jsonb_build_object('name', region_1.name, 'nation_count', anon_2.value) AS value`+
			` FROM region AS region_1 LEFT OUTER JOIN LATERAL`+
			` (SELECT coalesce(count(*), 0) AS value FROM (SELECT nation_1.* FROM nation AS nation_1`+
			` WHERE nation_1.region_id = region_1.id) AS anon_1) AS anon_2 ON true) AS anon_3`,
		stmt)
}

// A plural field is implicitly aggregated to a JSON array.
func TestSelectPluralField(t *testing.T) {
	stmt := compile(t, fields(nav("region"), "select",
		field("nation_names", nav("nation", "name")),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_3.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT jsonb_build_object('nation_names', anon_2.value) AS value`+
			` FROM region AS region_1 LEFT OUTER JOIN LATERAL`+
			` (SELECT coalesce(jsonb_agg(anon_1.name), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT nation_1.* FROM nation AS nation_1`+
			` WHERE nation_1.region_id = region_1.id) AS anon_1) AS anon_2 ON true) AS anon_3`,
		stmt)
}

// region{name: name}.name collapses the record away.
func TestSelectCollapsesOnNav(t *testing.T) {
	stmt := compile(t, compose(
		fields(nav("region"), "select", field("region_name", nav("name"))),
		nav("region_name"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1) AS anon_1`,
		stmt)
}

// A plural record field re-roots on the enclosing relation.
func TestSelectPluralFieldNav(t *testing.T) {
	stmt := compile(t, compose(
		fields(nav("region"), "select", field("n", nav("nation", "name"))),
		nav("n"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT nation_1.name AS value FROM region AS region_1`+
			` JOIN nation AS nation_1 ON region_1.id = nation_1.region_id) AS anon_1`,
		stmt)
}

func TestFilter(t *testing.T) {
	stmt := compile(t, compose(
		apply(nav("nation"), "filter",
			binop("eq", nav("region", "name"), lit("AFRICA"))),
		nav("name"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT nation_1.name AS value FROM nation AS nation_1`+
			` JOIN region AS region_1 ON nation_1.region_id = region_1.id`+
			` WHERE region_1.name = 'AFRICA') AS anon_1`,
		stmt)
}

func TestFilterByAggregate(t *testing.T) {
	stmt := compile(t, compose(
		apply(nav("region"), "filter",
			binop("eq", apply(nav("nation"), "count"), lit(5))),
		nav("name"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_3.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1 LEFT OUTER JOIN LATERAL`+
			` (SELECT coalesce(count(*), 0) AS value FROM (SELECT nation_1.* FROM nation AS nation_1`+
			` WHERE nation_1.region_id = region_1.id) AS anon_1) AS anon_2 ON true`+
			` WHERE anon_2.value = 5) AS anon_3`,
		stmt)
}

func TestTake(t *testing.T) {
	stmt := compile(t, compose(apply(nav("region"), "take", lit(2)), nav("name")))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1 LIMIT 2) AS anon_1`,
		stmt)
}

// Navigating a link over a pending LIMIT seals the frame first.
func TestTakeThenNav(t *testing.T) {
	stmt := compile(t, compose(apply(nav("region"), "take", lit(2)), nav("nation", "name")))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_2.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT nation_1.name AS value FROM`+
			` (SELECT region_1.* FROM region AS region_1 LIMIT 2) AS anon_1`+
			` JOIN nation AS nation_1 ON anon_1.id = nation_1.region_id) AS anon_2`,
		stmt)
}

// filter over a pending LIMIT seals the frame before applying itself.
func TestTakeThenFilter(t *testing.T) {
	stmt := compile(t, compose(
		apply(apply(nav("region"), "take", lit(3)), "filter",
			binop("eq", nav("name"), lit("ASIA"))),
		nav("name"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_2.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT anon_1.name AS value FROM`+
			` (SELECT region_1.* FROM region AS region_1 LIMIT 3) AS anon_1`+
			` WHERE anon_1.name = 'ASIA') AS anon_2`,
		stmt)
}

func TestSortDescTake(t *testing.T) {
	stmt := compile(t, compose(
		apply(
			apply(nav("region"), "sort", &qcode.Desc{Syn: nav("name")}),
			"take", lit(2)),
		nav("name"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT region_1.name AS value FROM region AS region_1`+
			` ORDER BY region_1.name DESC LIMIT 2) AS anon_1`,
		stmt)
}

func TestFirst(t *testing.T) {
	stmt := compile(t, compose(
		apply(apply(nav("region"), "sort", nav("name")), "first"),
		nav("name"),
	))
	assert.Equal(t,
		`SELECT region_1.name AS value FROM region AS region_1 ORDER BY region_1.name LIMIT 1`,
		stmt)
}

// x.group(k: expr).k is DISTINCT expr over x.
func TestGroupKeys(t *testing.T) {
	stmt := compile(t, compose(
		fields(nav("nation"), "group", field("r", nav("region", "name"))),
		nav("r"),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_2.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT anon_1.r AS value FROM (SELECT region_1.name AS r`+
			` FROM nation AS nation_1 JOIN region AS region_1 ON nation_1.region_id = region_1.id`+
			` GROUP BY region_1.name) AS anon_1) AS anon_2`,
		stmt)
}

func TestGroupAggregate(t *testing.T) {
	stmt := compile(t, compose(
		fields(nav("nation"), "group", field("r", nav("region", "name"))),
		fields(nil, "select",
			field("r", nav("r")),
			field("c", apply(nav("_"), "count")),
		),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_4.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT jsonb_build_object('r', anon_3.r, 'c', anon_3.compute_0) AS value`+
			` FROM (SELECT anon_1.r AS r, coalesce(anon_2.value, 0) AS compute_0`+
			` FROM (SELECT region_1.name AS r FROM nation AS nation_1`+
			` JOIN region AS region_1 ON nation_1.region_id = region_1.id`+
			` GROUP BY region_1.name) AS anon_1 LEFT OUTER JOIN`+
			` (SELECT region_2.name AS r, count(*) AS value FROM nation AS nation_1`+
			` JOIN region AS region_2 ON nation_1.region_id = region_2.id`+
			` GROUP BY region_2.name) AS anon_2 ON anon_1.r = anon_2.r) AS anon_3) AS anon_4`,
		stmt)
}

// Reopening the grouped rows through `_` at sequence position.
func TestGroupUnderscoreReopens(t *testing.T) {
	stmt := compile(t, compose(
		fields(nav("nation"), "group", field("r", nav("region", "name"))),
		nav("_", "name"),
	))
	assert.Contains(t, stmt, `SELECT nation_1.name AS value FROM nation AS nation_1`)
}

func TestLiteralString(t *testing.T) {
	stmt := compile(t, lit("Hello"))
	assert.Equal(t, `SELECT 'Hello' AS value`, stmt)
}

func TestLiteralComposedWithQuery(t *testing.T) {
	stmt := compile(t, compose(nav("region"), lit(true)))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT true AS value FROM region AS region_1) AS anon_1`,
		stmt)
}

func TestArithmetic(t *testing.T) {
	stmt := compile(t, binop("add", lit(40), lit(2)))
	assert.Equal(t, `SELECT 40 + 2 AS value`, stmt)
}

func TestBoolean(t *testing.T) {
	stmt := compile(t, binop("and", lit(true), lit(false)))
	assert.Equal(t, `SELECT true AND false AS value`, stmt)
}

// Adding strings concatenates.
func TestStringConcat(t *testing.T) {
	stmt := compile(t, fields(nav("nation"), "select",
		field("full_name", binop("add", binop("add", nav("name"), lit(" IN ")), nav("region", "name"))),
	))
	assert.Contains(t, stmt,
		`jsonb_build_object('full_name', nation_1.name || ' IN ' || region_1.name)`)
}

// The singular operand is pushed into the plural side.
func TestBinOpCardinalityPush(t *testing.T) {
	stmt := compile(t, binop("eq", nav("nation", "name"), lit("ALGERIA")))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT nation_1.name = 'ALGERIA' AS value FROM nation AS nation_1) AS anon_1`,
		stmt)
}

func TestDateLiteralExtract(t *testing.T) {
	d := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	stmt := compile(t, compose(lit(d), nav("year")))
	assert.Equal(t, `SELECT EXTRACT(year FROM CAST('2020-01-02' AS DATE)) AS value`, stmt)
}

func TestDateColumnExtract(t *testing.T) {
	stmt := compile(t, nav("customer", "since", "year"))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_1.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT EXTRACT(year FROM customer_1.since) AS value FROM customer AS customer_1) AS anon_1`,
		stmt)
}

func TestJSONLiteralNav(t *testing.T) {
	stmt := compile(t, compose(
		&qcode.Literal{Value: map[string]interface{}{"a": []interface{}{float64(1)}}, Kind: qcode.LitJSON},
		nav("a"),
	))
	assert.Equal(t, `SELECT CAST('{"a":[1]}' AS JSONB) -> 'a' AS value`, stmt)
}

func TestJSONNestedNav(t *testing.T) {
	stmt := compile(t, compose(
		&qcode.Literal{Value: map[string]interface{}{"a": map[string]interface{}{"b": "YES"}}, Kind: qcode.LitJSON},
		nav("a", "b"),
	))
	assert.Equal(t, `SELECT (CAST('{"a":{"b":"YES"}}' AS JSONB) -> 'a') -> 'b' AS value`, stmt)
}

func TestJSONColumnNav(t *testing.T) {
	stmt := compile(t, nav("customer", "profile", "segments"))
	assert.Contains(t, stmt, `customer_1.profile -> 'segments'`)
}

func TestExists(t *testing.T) {
	stmt := compile(t, fields(nav("region"), "select",
		field("has_nations", apply(nav("nation"), "exists")),
	))
	assert.Contains(t, stmt, `coalesce(bool_and(true), false)`)
}

// around() reopens the pre-filter source relation.
func TestAroundPreFilter(t *testing.T) {
	stmt := compile(t, compose(
		apply(nav("region"), "filter", binop("eq", nav("name"), lit("AFRICA"))),
		fields(nil, "select",
			field("name", nav("name")),
			field("total", apply(apply(nil, "around"), "count")),
		),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_2.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT jsonb_build_object('name', region_1.name, 'total', anon_1.value) AS value`+
			` FROM region AS region_1 LEFT OUTER JOIN LATERAL`+
			` (SELECT coalesce(count(*), 0) AS value FROM region AS region_2) AS anon_1 ON true`+
			` WHERE region_1.name = 'AFRICA') AS anon_2`,
		stmt)
}

// around(link) traverses correlated against the outer row.
func TestAroundThrough(t *testing.T) {
	stmt := compile(t, fields(nav("customer"), "select",
		field("name", nav("name")),
		field("compatriots", apply(compose(apply(nil, "around", nav("nation")), nav("customer")), "count")),
	))
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg(anon_3.value), CAST('[]' AS JSONB)) AS value`+
			` FROM (SELECT jsonb_build_object('name', customer_1.name, 'compatriots', anon_2.value) AS value`+
			` FROM customer AS customer_1 LEFT OUTER JOIN LATERAL`+
			` (SELECT coalesce(count(*), 0) AS value FROM (SELECT nation_1.* FROM nation AS nation_1`+
			` WHERE nation_1.id = customer_1.nation_id) AS anon_1`+
			` JOIN customer AS customer_2 ON anon_1.id = customer_2.nation_id) AS anon_2 ON true) AS anon_3`,
		stmt)
}

// Composition associates: (a.b).c and a.(b.c) compile identically.
func TestComposeAssociativity(t *testing.T) {
	left := compose(compose(&qcode.Nav{Name: "nation"}, &qcode.Nav{Name: "region"}), &qcode.Nav{Name: "name"})
	right := compose(&qcode.Nav{Name: "nation"}, compose(&qcode.Nav{Name: "region"}, &qcode.Nav{Name: "name"}))
	assert.Equal(t, compile(t, left), compile(t, right))
}

// filter/take and take/filter both compile; the sealed frames differ.
func TestFilterTakeCommuteCompiles(t *testing.T) {
	cond := binop("ne", nav("name"), lit("ASIA"))
	a := compile(t, apply(apply(nav("region"), "filter", cond), "take", lit(2)))
	b := compile(t, apply(apply(nav("region"), "take", lit(2)), "filter",
		binop("ne", nav("name"), lit("ASIA"))))
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "WHERE")
	assert.Contains(t, b, "WHERE")
}

func TestSumOverColumn(t *testing.T) {
	stmt := compile(t, fields(nav("nation"), "select",
		field("total", apply(nav("customer", "acctbal"), "sum")),
	))
	assert.Contains(t, stmt, `coalesce(sum(anon_1.acctbal), 0)`)
	assert.Contains(t, stmt, `WHERE customer_1.nation_id = nation_1.id`)
}

func TestScalarFunctions(t *testing.T) {
	stmt := compile(t, apply(nav("region", "name"), "lower"))
	assert.Contains(t, stmt, `lower(region_1.name)`)

	stmt = compile(t, apply(nav("region", "name"), "like", lit("A%")))
	assert.Contains(t, stmt, `region_1.name LIKE 'A%'`)

	stmt = compile(t, apply(nav("region", "name"), "matches", lit("^A")))
	assert.Contains(t, stmt, `region_1.name ~ '^A'`)
}
