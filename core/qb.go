package core

import (
	"github.com/combiql/combiql/core/internal/qcode"
)

// Query is the hosted surface builder. Queries are immutable; every
// method returns a new Query, so partial pipelines can be shared and
// extended freely. Construction never touches the schema; names resolve
// when the query is planned.
type Query struct {
	syn qcode.Syn
	err error
}

// Q returns the empty root query.
func Q() *Query {
	return &Query{}
}

// Nav navigates one or more names from the root.
func Nav(names ...string) *Query {
	return Q().Nav(names...)
}

// Val embeds a Go value as a literal query.
func Val(v interface{}) *Query {
	return Q().Val(v)
}

// JSONVal embeds a value as a JSON literal.
func JSONVal(v interface{}) *Query {
	return Q().JSONVal(v)
}

// Field is a named sub-query for Select and Group.
type Field struct {
	Name  string
	Query *Query
}

// F builds a field.
func F(name string, q *Query) Field {
	return Field{Name: name, Query: q}
}

func (q *Query) compose(s qcode.Syn) *Query {
	if q.err != nil {
		return q
	}
	if q.syn == nil {
		return &Query{syn: s}
	}
	return &Query{syn: &qcode.Compose{A: q.syn, B: s}}
}

func (q *Query) fail(err error) *Query {
	if q.err != nil {
		return q
	}
	return &Query{syn: q.syn, err: err}
}

// Nav resolves names left to right in the ambient scope.
func (q *Query) Nav(names ...string) *Query {
	for _, name := range names {
		q = q.compose(&qcode.Nav{Name: name})
	}
	return q
}

// Then composes another query in the scope this one produces.
func (q *Query) Then(o *Query) *Query {
	if o.err != nil {
		return q.fail(o.err)
	}
	return q.compose(o.syn)
}

// Select attaches named sub-queries, producing a record.
func (q *Query) Select(fields ...Field) *Query {
	syn, err := applyFields("select", fields)
	if err != nil {
		return q.fail(err)
	}
	return q.compose(syn)
}

// Group groups the pipeline by named key queries.
func (q *Query) Group(fields ...Field) *Query {
	syn, err := applyFields("group", fields)
	if err != nil {
		return q.fail(err)
	}
	return q.compose(syn)
}

func applyFields(name string, fields []Field) (qcode.Syn, error) {
	fs := make([]qcode.SynField, 0, len(fields))
	for _, f := range fields {
		if f.Query.err != nil {
			return nil, f.Query.err
		}
		fs = append(fs, qcode.SynField{Name: f.Name, Syn: f.Query.syn})
	}
	return &qcode.Apply{Name: name, Fields: fs}, nil
}

// Apply invokes a named combinator with the given arguments.
func (q *Query) Apply(name string, args ...*Query) *Query {
	syns := make([]qcode.Syn, 0, len(args))
	for _, a := range args {
		if a.err != nil {
			return q.fail(a.err)
		}
		syns = append(syns, a.syn)
	}
	return q.compose(&qcode.Apply{Name: name, Args: syns})
}

// Filter restricts the pipeline to rows the condition holds for.
func (q *Query) Filter(cond *Query) *Query {
	return q.Apply("filter", cond)
}

// Take limits the pipeline. The limit may be an integer or a query.
func (q *Query) Take(n interface{}) *Query {
	return q.Apply("take", asQuery(n))
}

// First limits the pipeline to its first row, collapsing cardinality.
func (q *Query) First() *Query {
	return q.Apply("first")
}

// Sort orders the pipeline by the given keys; wrap a key with Desc for
// descending order.
func (q *Query) Sort(keys ...*Query) *Query {
	return q.Apply("sort", keys...)
}

// Around rewinds to the source relation of the current pipeline,
// optionally traversing through a link first.
func (q *Query) Around(through ...*Query) *Query {
	return q.Apply("around", through...)
}

// Desc marks a sort key as descending.
func (q *Query) Desc() *Query {
	if q.err != nil {
		return q
	}
	return &Query{syn: &qcode.Desc{Syn: q.syn}}
}

// Count counts the rows of a plural pipeline.
func (q *Query) Count() *Query { return q.Apply("count") }

// Sum sums a plural value.
func (q *Query) Sum() *Query { return q.Apply("sum") }

// Avg averages a plural value.
func (q *Query) Avg() *Query { return q.Apply("avg") }

// Min takes the minimum of a plural value.
func (q *Query) Min() *Query { return q.Apply("min") }

// Max takes the maximum of a plural value.
func (q *Query) Max() *Query { return q.Apply("max") }

// Exists reports whether a plural pipeline has any rows.
func (q *Query) Exists() *Query { return q.Apply("exists") }

// Val composes a literal into the pipeline.
func (q *Query) Val(v interface{}) *Query {
	lit, err := qcode.MakeValue(v)
	if err != nil {
		return q.fail(err)
	}
	return q.compose(lit)
}

// JSONVal composes a JSON literal into the pipeline.
func (q *Query) JSONVal(v interface{}) *Query {
	return q.compose(&qcode.Literal{Value: v, Kind: qcode.LitJSON})
}

func (q *Query) binOp(op string, o interface{}) *Query {
	other := asQuery(o)
	if q.err != nil {
		return q
	}
	if other.err != nil {
		return q.fail(other.err)
	}
	return &Query{syn: &qcode.BinOp{Op: op, A: q.syn, B: other.syn}}
}

// Eq compares for equality; the operand may be a query or a Go value.
func (q *Query) Eq(o interface{}) *Query { return q.binOp("eq", o) }

// Ne compares for inequality.
func (q *Query) Ne(o interface{}) *Query { return q.binOp("ne", o) }

// Lt compares with <.
func (q *Query) Lt(o interface{}) *Query { return q.binOp("lt", o) }

// Le compares with <=.
func (q *Query) Le(o interface{}) *Query { return q.binOp("le", o) }

// Gt compares with >.
func (q *Query) Gt(o interface{}) *Query { return q.binOp("gt", o) }

// Ge compares with >=.
func (q *Query) Ge(o interface{}) *Query { return q.binOp("ge", o) }

// Add adds; on strings it concatenates.
func (q *Query) Add(o interface{}) *Query { return q.binOp("add", o) }

// Sub subtracts.
func (q *Query) Sub(o interface{}) *Query { return q.binOp("sub", o) }

// Mul multiplies.
func (q *Query) Mul(o interface{}) *Query { return q.binOp("mul", o) }

// Div divides.
func (q *Query) Div(o interface{}) *Query { return q.binOp("div", o) }

// And combines boolean values.
func (q *Query) And(o interface{}) *Query { return q.binOp("and", o) }

// Or combines boolean values.
func (q *Query) Or(o interface{}) *Query { return q.binOp("or", o) }

func asQuery(v interface{}) *Query {
	if q, ok := v.(*Query); ok {
		return q
	}
	lit, err := qcode.MakeValue(v)
	if err != nil {
		return &Query{err: err}
	}
	return &Query{syn: lit}
}

// Dump renders the syntax tree as YAML for debugging.
func (q *Query) Dump() string {
	return qcode.DumpSyn(q.syn)
}
