package qcode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combiql/combiql/core/internal/qcode"
	"github.com/combiql/combiql/core/internal/sdata"
)

func plan(t *testing.T, syn qcode.Syn) *qcode.Op {
	t.Helper()
	op, err := qcode.Plan(syn, sdata.DemoSchema())
	require.NoError(t, err)
	return op
}

func planErr(t *testing.T, syn qcode.Syn) *qcode.Error {
	t.Helper()
	_, err := qcode.Plan(syn, sdata.DemoSchema())
	require.Error(t, err)
	qerr, ok := err.(*qcode.Error)
	require.True(t, ok, "expected a planner error, got %T: %v", err, err)
	return qerr
}

func nav(names ...string) qcode.Syn {
	var syn qcode.Syn
	for _, n := range names {
		if syn == nil {
			syn = &qcode.Nav{Name: n}
		} else {
			syn = &qcode.Compose{A: syn, B: &qcode.Nav{Name: n}}
		}
	}
	return syn
}

func lit(v interface{}) qcode.Syn {
	l, err := qcode.MakeValue(v)
	if err != nil {
		panic(err)
	}
	return l
}

func TestCardinality(t *testing.T) {
	assert.Equal(t, qcode.Seq, qcode.One.Times(qcode.Seq))
	assert.Equal(t, qcode.Seq, qcode.Seq.Times(qcode.Seq))
	assert.Equal(t, qcode.One, qcode.One.Times(qcode.One))
}

func TestPlanTableIsPlural(t *testing.T) {
	op := plan(t, nav("region"))
	assert.Equal(t, qcode.Seq, op.Card)
}

func TestPlanColumnKeepsCard(t *testing.T) {
	op := plan(t, nav("region", "name"))
	assert.Equal(t, qcode.Seq, op.Card)
}

func TestPlanAggregateIsSingular(t *testing.T) {
	op := plan(t, &qcode.Compose{A: nav("region"), B: &qcode.Apply{Name: "count"}})
	assert.Equal(t, qcode.One, op.Card)
	require.NotNil(t, op.Sig)
	assert.Equal(t, "count", op.Sig.Name)
}

func TestPlanFirstIsSingular(t *testing.T) {
	op := plan(t, &qcode.Compose{A: nav("region"), B: &qcode.Apply{Name: "first"}})
	assert.Equal(t, qcode.One, op.Card)
}

func TestPlanForwardLinkKeepsCard(t *testing.T) {
	op := plan(t, nav("nation", "region"))
	assert.Equal(t, qcode.Seq, op.Card)
}

func TestPlanBackLinkIsPlural(t *testing.T) {
	op := plan(t, nav("region", "nation"))
	assert.Equal(t, qcode.Seq, op.Card)
}

func TestPlanGroupWithoutKeysIsSingular(t *testing.T) {
	op := plan(t, &qcode.Compose{A: nav("nation"), B: &qcode.Apply{Name: "group"}})
	assert.Equal(t, qcode.One, op.Card)
}

func TestUnknownTable(t *testing.T) {
	err := planErr(t, nav("planet"))
	assert.Equal(t, qcode.ErrUnknownName, err.Kind)
	assert.Equal(t, "planet", err.Name)
}

func TestUnknownColumn(t *testing.T) {
	err := planErr(t, nav("region", "population"))
	assert.Equal(t, qcode.ErrUnknownName, err.Kind)
}

func TestNavIntoScalarFails(t *testing.T) {
	err := planErr(t, nav("region", "name", "length"))
	assert.Equal(t, qcode.ErrUnknownName, err.Kind)
}

func TestUnknownCombinator(t *testing.T) {
	err := planErr(t, &qcode.Compose{A: nav("region"), B: &qcode.Apply{Name: "frobnicate"}})
	assert.Equal(t, qcode.ErrUnknownCombinator, err.Kind)
	assert.Equal(t, "frobnicate", err.Name)
}

func TestFilterArity(t *testing.T) {
	err := planErr(t, &qcode.Compose{A: nav("region"), B: &qcode.Apply{Name: "filter"}})
	assert.Equal(t, qcode.ErrArity, err.Kind)
}

func TestAggregateOverSingularFails(t *testing.T) {
	err := planErr(t, &qcode.Compose{A: lit(42), B: &qcode.Apply{Name: "count"}})
	assert.Equal(t, qcode.ErrCardinality, err.Kind)
}

func TestDescOutsideSortFails(t *testing.T) {
	err := planErr(t, &qcode.Desc{Syn: nav("region", "name")})
	assert.Equal(t, qcode.ErrBadSyntaxPosition, err.Kind)
}

func TestSortKeyMustBeSingular(t *testing.T) {
	err := planErr(t, &qcode.Compose{
		A: nav("region"),
		B: &qcode.Apply{Name: "sort", Args: []qcode.Syn{nav("nation", "name")}},
	})
	assert.Equal(t, qcode.ErrCardinality, err.Kind)
}

// Two plural operands of a binary operator must extend the same row.
func TestBinOpSeqSeqFails(t *testing.T) {
	err := planErr(t, &qcode.BinOp{Op: "eq", A: nav("region", "name"), B: nav("nation", "name")})
	assert.Equal(t, qcode.ErrCardinality, err.Kind)
}

func TestGroupUnknownKey(t *testing.T) {
	err := planErr(t, &qcode.Compose{
		A: &qcode.Compose{
			A: nav("nation"),
			B: &qcode.Apply{Name: "group", Fields: []qcode.SynField{{Name: "r", Syn: nav("region", "name")}}},
		},
		B: &qcode.Nav{Name: "missing"},
	})
	assert.Equal(t, qcode.ErrUnknownName, err.Kind)
}

func TestMakeValue(t *testing.T) {
	l, err := qcode.MakeValue(42)
	require.NoError(t, err)
	assert.Equal(t, qcode.LitInt, l.Kind)

	l, err = qcode.MakeValue("x")
	require.NoError(t, err)
	assert.Equal(t, qcode.LitString, l.Kind)

	_, err = qcode.MakeValue(struct{}{})
	require.Error(t, err)
	assert.Equal(t, qcode.ErrUnsupportedLiteral, err.(*qcode.Error).Kind)
}

func TestGetSig(t *testing.T) {
	kind, ok := qcode.GetSig("filter")
	require.True(t, ok)
	assert.Equal(t, qcode.SigBuiltIn, kind)

	kind, ok = qcode.GetSig("count")
	require.True(t, ok)
	assert.Equal(t, qcode.SigAggregate, kind)

	kind, ok = qcode.GetSig("upper")
	require.True(t, ok)
	assert.Equal(t, qcode.SigFunc, kind)

	_, ok = qcode.GetSig("nope")
	assert.False(t, ok)
}

func TestDumpOp(t *testing.T) {
	op := plan(t, nav("nation", "region", "name"))
	dump := qcode.DumpOp(op)
	assert.Contains(t, dump, "join: region")
	assert.Contains(t, dump, "column: name")
}
