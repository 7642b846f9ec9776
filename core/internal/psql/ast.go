// Package psql lowers the Op IR to a PostgreSQL SELECT statement. The
// package owns a small SQL AST, the From frame the two lowering passes
// thread through, and a renderer producing the final text with literal
// binds.
package psql

import (
	"github.com/combiql/combiql/core/internal/qcode"
	"github.com/combiql/combiql/core/internal/sdata"
)

// Expr is a SQL value expression.
type Expr interface {
	sqlExpr()
}

// ColRef references a column of an aliased relation. Type carries the
// source column type when known; the compiler uses it to pick string
// concatenation over addition.
type ColRef struct {
	Of   *Alias
	Name string
	Type string
}

// Lit is a literal value embedded with its SQL type.
type Lit struct {
	Kind  qcode.LitKind
	Value interface{}
}

// FuncCall is a function invocation; Star renders as fn(*).
type FuncCall struct {
	Name string
	Args []Expr
	Star bool
}

// Binary is an infix operation.
type Binary struct {
	Op string
	L  Expr
	R  Expr
}

// Unary is a prefix operation, e.g. NOT.
type Unary struct {
	Op string
	X  Expr
}

// Cast renders CAST(x AS Type).
type Cast struct {
	X    Expr
	Type string
}

// Extract renders EXTRACT(part FROM x).
type Extract struct {
	Part string
	X    Expr
}

// JSONGet renders x -> 'key'.
type JSONGet struct {
	X   Expr
	Key string
}

func (*ColRef) sqlExpr()   {}
func (*Lit) sqlExpr()      {}
func (*FuncCall) sqlExpr() {}
func (*Binary) sqlExpr()   {}
func (*Unary) sqlExpr()    {}
func (*Cast) sqlExpr()     {}
func (*Extract) sqlExpr()  {}
func (*JSONGet) sqlExpr()  {}

// FromItem is a relation appearing in a FROM clause.
type FromItem interface {
	fromItem()
}

// Alias names a table or a subselect. Lateral marks a laterally joined
// subselect; Correlate records the outer alias a correlated subselect
// refers to.
type Alias struct {
	Name      string
	Table     *sdata.DBTable
	Sel       *SelectStmt
	Lateral   bool
	Correlate *Alias
}

// Join combines two from items on a condition.
type Join struct {
	Left  FromItem
	Right *Alias
	On    Expr
	Outer bool
}

func (*Alias) fromItem() {}
func (*Join) fromItem()  {}

// SelectCol is one projected column. Star expands an alias instead of a
// single expression.
type SelectCol struct {
	Expr  Expr
	Label string
	Star  *Alias
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// SelectStmt is a single SELECT.
type SelectStmt struct {
	Cols    []SelectCol
	From    FromItem
	Where   Expr
	GroupBy []Expr
	OrderBy []OrderItem
	Limit   Expr
}
