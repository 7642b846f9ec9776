package psql

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/combiql/combiql/core/internal/qcode"
)

// Compile lowers a planned op into a single SELECT whose rows carry one
// column named "value". A plural op is aggregated to a JSON array at
// the outermost step so the statement always returns one row.
func Compile(op *qcode.Op) (*SelectStmt, error) {
	c := &compiler{alloc: newAliasAlloc()}

	value, f, err := c.opToSQL(op, newFrom(c.alloc))
	if err != nil {
		return nil, err
	}
	sel := f.toSelect(value)

	if op.Card == qcode.Seq {
		inner := c.alloc.subselect(sel)
		agg := &FuncCall{Name: "jsonb_agg", Args: []Expr{&ColRef{Of: inner, Name: "value"}}}
		value := &FuncCall{Name: "coalesce", Args: []Expr{
			agg,
			&Lit{Kind: qcode.LitJSON, Value: []interface{}{}},
		}}
		sel = &SelectStmt{
			Cols: []SelectCol{{Expr: value, Label: "value"}},
			From: inner,
		}
	}
	return sel, nil
}

// CompileString compiles and renders in one step.
func CompileString(op *qcode.Op) (string, error) {
	sel, err := Compile(op)
	if err != nil {
		return "", err
	}
	return Render(sel), nil
}

type compiler struct {
	alloc *aliasAlloc
}

// opToSQL lowers the rel, then the value expression, then wraps the
// value in the op's aggregate signature when one is set. Aggregates
// over a frame with pending LIMIT/ORDER seal it first; the aggregated
// subselect attaches laterally when the outer frame has a current row.
func (c *compiler) opToSQL(op *qcode.Op, f *From) (Expr, *From, error) {
	inner, err := c.relToSQL(op.Rel, f)
	if err != nil {
		return nil, nil, err
	}

	var value Expr
	if op.Expr != nil {
		value, inner, err = c.exprToSQL(op.Expr, inner)
		if err != nil {
			return nil, nil, err
		}
	}

	if op.Sig == nil {
		return value, inner, nil
	}

	if inner.limit != nil || len(inner.order) != 0 {
		sealed := inner.makeSelect(inner.toSelect(value), inner.correlate, inner.ns)
		value = &ColRef{Of: sealed.at, Name: "value"}
		inner = sealed
	}

	agg, err := aggValue(op.Sig, value)
	if err != nil {
		return nil, nil, err
	}
	coalesced := &FuncCall{Name: "coalesce", Args: []Expr{agg, unitLit(op.Sig)}}
	sel := inner.toSelect(coalesced)

	if f.at != nil {
		nf, at := f.joinLateral(sel)
		return &ColRef{Of: at, Name: "value"}, nf, nil
	}
	nf, at := f.joinSelect(sel)
	return &ColRef{Of: at, Name: "value"}, nf, nil
}

// aggValue builds the aggregate call. exists ignores its operand and
// folds to bool_and(true); count without a value expression counts
// rows, and any other aggregate without one is an error.
func aggValue(sig *qcode.AggrSig, value Expr) (Expr, error) {
	if sig.Name == "exists" {
		return &FuncCall{Name: sig.FuncName(), Args: []Expr{&Lit{Kind: qcode.LitBool, Value: true}}}, nil
	}
	if value == nil {
		if sig.Name != "count" {
			return nil, errors.Errorf("psql: aggregate %s requires a value", sig.Name)
		}
		return &FuncCall{Name: "count", Star: true}, nil
	}
	return &FuncCall{Name: sig.FuncName(), Args: []Expr{value}}, nil
}

func unitLit(sig *qcode.AggrSig) Expr {
	return &Lit{Kind: sig.Unit.Kind, Value: sig.Unit.Value}
}

//
// Rel lowering
//

func (c *compiler) relToSQL(rel qcode.Rel, f *From) (*From, error) {
	switch rel := rel.(type) {
	case *qcode.RelVoid:
		return c.applyCompute(rel, f)

	case *qcode.RelTable:
		return c.applyCompute(rel, f.makeTable(rel.Table))

	case *qcode.RelJoin:
		nf, err := c.relJoinToSQL(rel, f)
		if err != nil {
			return nil, err
		}
		return c.applyCompute(rel, nf)

	case *qcode.RelRevJoin:
		nf, err := c.relRevJoinToSQL(rel, f)
		if err != nil {
			return nil, err
		}
		return c.applyCompute(rel, nf)

	case *qcode.RelParent, *qcode.RelAggregateParent, *qcode.RelAroundParent:
		return c.applyCompute(rel, f)

	case *qcode.RelTake:
		nf, err := c.relToSQL(rel.Rel, f)
		if err != nil {
			return nil, err
		}
		if nf.limit != nil {
			nf = nf.seal()
		}
		at := nf.at
		take, nf, err := c.exprToSQL(rel.Take, nf)
		if err != nil {
			return nil, err
		}
		return nf.withAt(at).addLimit(take), nil

	case *qcode.RelSort:
		nf, err := c.relToSQL(rel.Rel, f)
		if err != nil {
			return nil, err
		}
		if nf.limit != nil || len(nf.order) != 0 {
			nf = nf.seal()
		}
		at := nf.at
		order := make([]OrderItem, 0, len(rel.Sort))
		for _, s := range rel.Sort {
			key, next, err := c.exprToSQL(s.Expr, nf.withAt(at))
			if err != nil {
				return nil, err
			}
			nf = next
			order = append(order, OrderItem{Expr: key, Desc: s.Desc})
		}
		return nf.withAt(at).addOrder(order), nil

	case *qcode.RelFilter:
		nf, err := c.relToSQL(rel.Rel, f)
		if err != nil {
			return nil, err
		}
		if nf.limit != nil {
			nf = nf.seal()
		}
		at := nf.at
		cond, nf, err := c.exprToSQL(rel.Cond, nf)
		if err != nil {
			return nil, err
		}
		return nf.withAt(at).addWhere(cond), nil

	case *qcode.RelGroup:
		return c.relGroupToSQL(rel, f)
	}
	return nil, errors.Errorf("psql: unhandled rel %T", rel)
}

// applyCompute materializes the rel's hoisted compute fields as labeled
// columns of a sealed subselect and registers their names.
func (c *compiler) applyCompute(rel qcode.Rel, f *From) (*From, error) {
	compute := rel.Compute()
	if len(compute) == 0 {
		return f, nil
	}
	at := f.at
	cur := f
	cols := make([]SelectCol, 0, len(compute))
	names := make([]string, 0, len(compute))
	for _, field := range compute {
		value, nf, err := c.opToSQL(field.Op, cur.withAt(at))
		if err != nil {
			return nil, err
		}
		cur = nf
		cols = append(cols, SelectCol{Expr: value, Label: field.Name})
		names = append(names, field.Name)
	}
	cur = cur.withAt(at)
	return cur.makeSelect(cur.toSelect(nil, cols...), cur.correlate, cur.ns).withCompute(names), nil
}

func (c *compiler) relJoinToSQL(rel *qcode.RelJoin, f *From) (*From, error) {
	fk := rel.FK

	// A join from an around() traversal compiles to a subselect over
	// the target table correlated on the outer row.
	if _, ok := rel.Rel.(*qcode.RelAroundParent); ok {
		target := c.alloc.table(fk.Right.Ti)
		cond := &Binary{
			Op: "=",
			L:  &ColRef{Of: target, Name: fk.Right.Col.Name},
			R:  &ColRef{Of: f.at, Name: fk.Left.Col.Name},
		}
		sel := &SelectStmt{
			Cols:  []SelectCol{{Star: target}},
			From:  target,
			Where: cond,
		}
		return f.makeSelect(sel, f.at, nil), nil
	}

	nf, err := c.relToSQL(rel.Rel, f)
	if err != nil {
		return nil, err
	}
	_, isParent := rel.Rel.(*qcode.RelParent)
	nf, _ = nf.joinAt(
		fk.Right.Ti,
		[][2]string{{fk.Left.Col.Name, fk.Right.Col.Name}},
		false,
		!isParent,
	)
	return nf, nil
}

func (c *compiler) relRevJoinToSQL(rel *qcode.RelRevJoin, f *From) (*From, error) {
	fk := rel.FK

	// A back link entered from the parent row becomes a correlated
	// subquery over the child table, enabling lateral aggregation.
	if _, ok := rel.Rel.(*qcode.RelParent); ok {
		child := c.alloc.table(fk.Left.Ti)
		cond := Expr(&Binary{
			Op: "=",
			L:  &ColRef{Of: child, Name: fk.Left.Col.Name},
			R:  &ColRef{Of: f.at, Name: fk.Right.Col.Name},
		})
		if f.where != nil {
			cond = &Binary{Op: "AND", L: cond, R: f.where}
		}
		sel := &SelectStmt{
			Cols:  []SelectCol{{Star: child}},
			From:  child,
			Where: cond,
		}
		return f.makeSelect(sel, f.at, nil), nil
	}

	nf, err := c.relToSQL(rel.Rel, f)
	if err != nil {
		return nil, err
	}
	nf, _ = nf.joinAt(
		fk.Left.Ti,
		[][2]string{{fk.Right.Col.Name, fk.Left.Col.Name}},
		false,
		true,
	)
	return nf, nil
}

// relGroupToSQL builds the group kernel (the grouped key columns), then
// rebuilds it per hoisted aggregate and hangs each aggregate off the
// kernel with an outer join keyed on the group columns, defaulting
// empty groups through COALESCE.
func (c *compiler) relGroupToSQL(rel *qcode.RelGroup, f *From) (*From, error) {
	base, err := c.relToSQL(rel.Rel, f)
	if err != nil {
		return nil, err
	}

	buildKernel := func() ([]SelectCol, *From, error) {
		cur := base
		at := base.at
		cols := make([]SelectCol, 0, len(rel.Fields))
		for _, field := range rel.Fields {
			value, nf, err := c.opToSQL(field.Op, cur.withAt(at))
			if err != nil {
				return nil, nil, err
			}
			cur = nf
			cols = append(cols, SelectCol{Expr: value, Label: field.Name})
		}
		all := append(append([]SelectCol{}, cur.groupBy...), cols...)
		return all, cur.withAt(at).withGroupBy(all), nil
	}

	columns, kernel, err := buildKernel()
	if err != nil {
		return nil, err
	}

	var nf *From
	if len(columns) != 0 {
		sel := &SelectStmt{
			Cols:    columns,
			From:    kernel.current,
			Where:   kernel.where,
			GroupBy: colExprs(columns),
		}
		nf = f.makeSelect(sel, nil, nil)
	} else {
		// Keyless group: a single synthetic row the aggregates join on.
		sel := &SelectStmt{Cols: []SelectCol{{Expr: &Lit{Kind: qcode.LitBool, Value: true}, Label: "_g"}}}
		nf = f.makeSelect(sel, nil, nil)
	}

	compute := rel.Compute()
	if len(compute) == 0 {
		return nf, nil
	}

	resultCols := make([]SelectCol, 0, len(columns)+len(compute))
	for _, col := range columns {
		resultCols = append(resultCols, SelectCol{
			Expr:  &ColRef{Of: nf.at, Name: col.Label},
			Label: col.Label,
		})
	}

	names := make([]string, 0, len(compute))
	for _, field := range compute {
		op := field.Op
		if op.Sig == nil {
			return nil, errors.New("psql: group compute without an aggregate")
		}
		kcols, kernel, err := buildKernel()
		if err != nil {
			return nil, err
		}

		inner, err := c.relToSQL(op.Rel, kernel)
		if err != nil {
			return nil, err
		}
		var value Expr
		if op.Expr != nil {
			value, inner, err = c.exprToSQL(op.Expr, inner)
			if err != nil {
				return nil, err
			}
		}
		agg, err := aggValue(op.Sig, value)
		if err != nil {
			return nil, err
		}

		// When the aggregation pipeline re-rooted away from the kernel
		// the key columns are re-read from its own frame by name.
		groupCols := kcols
		if !fromContains(inner.current, kernel.at) {
			groupCols = make([]SelectCol, len(kcols))
			for i, kc := range kcols {
				groupCols[i] = SelectCol{Expr: &ColRef{Of: inner.at, Name: kc.Label}, Label: kc.Label}
			}
		}

		innerCols := append(append([]SelectCol{}, groupCols...), SelectCol{Expr: agg, Label: "value"})
		innerSel := &SelectStmt{
			Cols:    innerCols,
			From:    inner.current,
			Where:   inner.where,
			GroupBy: colExprs(groupCols),
		}

		by := make([][2]string, len(kcols))
		for i, kc := range kcols {
			by[i] = [2]string{kc.Label, kc.Label}
		}
		var innerAt *Alias
		nf, innerAt = nf.joinSelectAt(innerSel, by, true)

		resultCols = append(resultCols, SelectCol{
			Expr: &FuncCall{Name: "coalesce", Args: []Expr{
				&ColRef{Of: innerAt, Name: "value"},
				unitLit(op.Sig),
			}},
			Label: field.Name,
		})
		names = append(names, field.Name)
	}

	final := &SelectStmt{Cols: resultCols, From: nf.current}
	return nf.makeSelect(final, nil, nil).withCompute(groupColNames(columns, names)), nil
}

func colExprs(cols []SelectCol) []Expr {
	out := make([]Expr, len(cols))
	for i, c := range cols {
		out[i] = c.Expr
	}
	return out
}

func groupColNames(columns []SelectCol, computeNames []string) []string {
	names := make([]string, 0, len(columns)+len(computeNames))
	for _, c := range columns {
		names = append(names, c.Label)
	}
	return append(names, computeNames...)
}

// fromContains reports whether the from tree still contains the alias.
func fromContains(fi FromItem, at *Alias) bool {
	switch fi := fi.(type) {
	case *Alias:
		return fi == at
	case *Join:
		return fromContains(fi.Left, at) || fi.Right == at
	}
	return false
}

//
// Expr lowering
//

func (c *compiler) exprToSQL(expr qcode.Expr, f *From) (Expr, *From, error) {
	switch expr := expr.(type) {
	case *qcode.ExprOp:
		return c.opToSQL(expr.Op, f)

	case *qcode.ExprRecord:
		at := f.at
		cur := f
		args := make([]Expr, 0, len(expr.Fields)*2)
		for _, field := range expr.Fields {
			args = append(args, &Lit{Kind: qcode.LitString, Value: field.Name})
			value, nf, err := c.opToSQL(field.Op, cur.withAt(at))
			if err != nil {
				return nil, nil, err
			}
			cur = nf
			args = append(args, value)
		}
		return &FuncCall{Name: "jsonb_build_object", Args: args}, cur, nil

	case *qcode.ExprColumn:
		return &ColRef{Of: f.at, Name: expr.Name, Type: expr.Type}, f, nil

	case *qcode.ExprCompute:
		if !f.hasCompute(expr.Name) {
			return nil, nil, errors.Errorf("psql: compute %s is not in scope", expr.Name)
		}
		return &ColRef{Of: f.at, Name: expr.Name}, f, nil

	case *qcode.ExprIdentity:
		pks := expr.Table.PrimaryKeys()
		args := make([]Expr, len(pks))
		for i, pk := range pks {
			args[i] = &ColRef{Of: f.at, Name: pk.Name}
		}
		return &Cast{X: &FuncCall{Name: "row", Args: args}, Type: "VARCHAR"}, f, nil

	case *qcode.ExprConst:
		return &Lit{Kind: expr.Kind, Value: expr.Value}, f, nil

	case *qcode.ExprApply:
		var parent Expr
		cur := f
		var err error
		if expr.Parent != nil {
			parent, cur, err = c.exprToSQL(expr.Parent, cur)
			if err != nil {
				return nil, nil, err
			}
		}
		at := cur.at
		args := make([]Expr, 0, len(expr.Args))
		for _, a := range expr.Args {
			value, nf, err := c.exprToSQL(a, cur.withAt(at))
			if err != nil {
				return nil, nil, err
			}
			cur = nf
			args = append(args, value)
		}
		value, err := applyToSQL(expr.Fn, parent, args)
		if err != nil {
			return nil, nil, err
		}
		return value, cur.withAt(at), nil
	}
	return nil, nil, errors.Errorf("psql: unhandled expr %T", expr)
}

// applyToSQL materializes an apply tag as a SQL expression.
func applyToSQL(fn qcode.ApplyOp, parent Expr, args []Expr) (Expr, error) {
	switch fn.Kind {
	case qcode.ApplyBinary:
		sig, ok := qcode.GetBinSig(fn.Name)
		if !ok {
			return nil, errors.Errorf("psql: unknown binary operator %s", fn.Name)
		}
		op := sig.Operator
		if fn.Name == "add" && (isText(args[0]) || isText(args[1])) {
			op = "||"
		}
		return &Binary{Op: op, L: args[0], R: args[1]}, nil

	case qcode.ApplyFunc:
		switch fn.Name {
		case "like":
			return &Binary{Op: "LIKE", L: parent, R: args[0]}, nil
		case "ilike":
			return &Binary{Op: "ILIKE", L: parent, R: args[0]}, nil
		case "matches":
			return &Binary{Op: "~", L: parent, R: args[0]}, nil
		case "imatches":
			return &Binary{Op: "~*", L: parent, R: args[0]}, nil
		case "not":
			return &Unary{Op: "NOT", X: parent}, nil
		}
		return &FuncCall{Name: fn.Name, Args: append([]Expr{parent}, args...)}, nil

	case qcode.ApplyExtract:
		return &Extract{Part: fn.Name, X: parent}, nil

	case qcode.ApplyJSONGet:
		return &JSONGet{X: parent, Key: fn.Name}, nil
	}
	return nil, errors.Errorf("psql: unhandled apply kind %d", fn.Kind)
}

// isText guesses whether an expression is string-typed, deciding `+`
// between arithmetic and concatenation.
func isText(e Expr) bool {
	switch e := e.(type) {
	case *Lit:
		return e.Kind == qcode.LitString
	case *ColRef:
		t := strings.ToLower(e.Type)
		return strings.Contains(t, "text") || strings.Contains(t, "char")
	case *Binary:
		return e.Op == "||"
	case *FuncCall:
		switch e.Name {
		case "upper", "lower", "substring":
			return true
		}
	}
	return false
}
