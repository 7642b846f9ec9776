package qcode

import (
	"fmt"

	"github.com/combiql/combiql/core/internal/sdata"
)

// cont defers wrapping of the surrounding context. Some forms (group's
// `_` navigation, composition) produce their final shape only once the
// inner pipeline is known; they hand back the wrap as a continuation.
type cont func(*Op) (*Op, error)

type planner struct {
	schema *sdata.DBSchema
}

// Plan elaborates a syntax tree against a schema into the Op IR. Errors
// are raised at the first offending node; no partial op is returned.
func Plan(syn Syn, schema *sdata.DBSchema) (*Op, error) {
	p := &planner{schema: schema}
	parent := &Op{
		Rel:   &RelVoid{},
		Card:  One,
		Scope: &UnivScope{Schema: schema},
	}
	return p.buildOp(syn, parent)
}

// buildOp plans syn, finalizes its value expression and applies the
// pending continuation.
func (p *planner) buildOp(syn Syn, parent *Op) (*Op, error) {
	op, k, err := p.normToOp(syn, parent)
	if err != nil {
		return nil, err
	}
	op, err = p.buildOpExpr(op)
	if err != nil {
		return nil, err
	}
	return k(op)
}

// runToOp plans syn and applies the continuation without finalizing.
func (p *planner) runToOp(syn Syn, parent *Op) (*Op, error) {
	op, k, err := p.normToOp(syn, parent)
	if err != nil {
		return nil, err
	}
	return k(op)
}

func (p *planner) normToOp(syn Syn, parent *Op) (*Op, cont, error) {
	op, k, err := p.toOp(syn, parent)
	if err != nil {
		return nil, nil, err
	}
	if k == nil {
		k = func(op *Op) (*Op, error) { return op, nil }
	}
	return op, k, nil
}

// buildOpExpr ensures a value-producing expression exists on the op.
// Records materialize here rather than at select() so that a subsequent
// navigation can still collapse the record away.
func (p *planner) buildOpExpr(op *Op) (*Op, error) {
	if op.Expr != nil {
		return op, nil
	}
	switch scope := op.Scope.(type) {
	case *RecordScope:
		base := op.Clone()
		base.Scope = scope.Parent
		parent := makeParent(base)

		fields := make([]Field, 0, len(scope.Fields))
		for _, f := range scope.Fields {
			fieldOp, err := p.buildOp(f.Syn, parent)
			if err != nil {
				return nil, err
			}
			if fieldOp.Card == Seq {
				fieldOp = fieldOp.Aggregate(JSONAggSig)
			}
			fields = append(fields, Field{Name: f.Name, Op: fieldOp})
		}
		res := op.Clone()
		res.Expr = &ExprRecord{Fields: fields}
		res.Syn = &Apply{Name: "select", Fields: scope.Fields}
		return res, nil

	case *TableScope:
		res := op.Clone()
		res.Expr = &ExprIdentity{Table: scope.Table}
		res.Scope = &EmptyScope{}
		return res, nil

	case *GroupScope:
		// relation.group(x: ..) finalizes as relation.group(x: ..){x}.
		fields := make([]Field, 0, len(scope.Fields))
		for _, f := range scope.Fields {
			fields = append(fields, Field{
				Name: f.Name,
				Op: &Op{
					Rel:   &RelParent{Parent: op},
					Expr:  &ExprColumn{Name: f.Name},
					Card:  One,
					Scope: &EmptyScope{},
					Syn:   &Nav{Name: f.Name},
				},
			})
		}
		res := op.Clone()
		res.Expr = &ExprRecord{Fields: fields}
		return res, nil
	}
	return op, nil
}

// makeParent turns an op into the one-row parent context its inner
// pipelines are planned under.
func makeParent(parent *Op) *Op {
	if _, ok := parent.Rel.(*RelParent); ok && parent.Expr == nil {
		return parent
	}
	return &Op{
		Rel:   &RelParent{Parent: parent},
		Scope: parent.Scope,
		Card:  One,
	}
}

// growExpr derives a new op with the given expression. A nil scope or
// syn and a zero card keep the parent's value.
func growExpr(op *Op, expr Expr, scope Scope, card Cardinality, syn Syn) *Op {
	c := op.Clone()
	c.Expr = expr
	if scope != nil {
		c.Scope = scope
	}
	if card != 0 {
		c.Card = card
	}
	if syn != nil {
		c.Syn = syn
	}
	return c
}

// growRel derives a new op with the given relation.
func growRel(op *Op, rel Rel, scope Scope, card Cardinality, syn Syn) *Op {
	c := op.Clone()
	c.Rel = rel
	if scope != nil {
		c.Scope = scope
	}
	if card != 0 {
		c.Card = card
	}
	if syn != nil {
		c.Syn = syn
	}
	return c
}

func (p *planner) toOp(syn Syn, parent *Op) (*Op, cont, error) {
	if syn == nil {
		return parent, nil, nil
	}
	switch syn := syn.(type) {
	case *Nav:
		return p.navigate(parent.Scope, syn, parent)

	case *Compose:
		a, ak, err := p.normToOp(syn.A, parent)
		if err != nil {
			return nil, nil, err
		}
		b, bk, err := p.normToOp(syn.B, a)
		if err != nil {
			return nil, nil, err
		}
		k := func(op *Op) (*Op, error) {
			op, err := ak(op)
			if err != nil {
				return nil, err
			}
			return bk(op)
		}
		return b, k, nil

	case *Apply:
		kind, ok := GetSig(syn.Name)
		if !ok {
			return nil, nil, unknownCombinator(syn.Name)
		}
		return p.sigToOp(kind, syn, parent)

	case *BinOp:
		return p.binOpToOp(syn, parent)

	case *Literal:
		expr := &ExprConst{Value: syn.Value, Kind: syn.Kind}
		return growExpr(parent, expr, litScope(syn.Kind), 0, syn), nil, nil

	case *Desc:
		return nil, nil, badSyntaxPosition("desc() is only valid inside sort(..)")
	}
	return nil, nil, internalError("unhandled syntax node %T", syn)
}

//
// Navigation
//

func (p *planner) navigate(scope Scope, nav *Nav, parent *Op) (*Op, cont, error) {
	switch scope := scope.(type) {
	case *UnivScope:
		table, ok := p.schema.GetTable(nav.Name)
		if !ok {
			return nil, nil, unknownName(nav.Name, scope)
		}
		rel := &RelTable{Table: table}
		return &Op{
			Rel:   rel,
			Card:  Seq,
			Scope: &TableScope{Schema: p.schema, Table: table, Rel: rel},
			Syn:   nav,
		}, nil, nil

	case *TableScope:
		if col, ok := p.schema.GetColumn(scope.Table, nav.Name); ok {
			expr := &ExprColumn{Name: col.Name, Type: col.Type}
			return growExpr(parent, expr, typeScope(col.Type), 0, nav), nil, nil
		}
		if fk, ok := p.schema.ForeignKey(scope.Table, nav.Name); ok {
			if parent.Expr != nil {
				return nil, nil, internalError("navigating a link from a value position")
			}
			rel := &RelJoin{Rel: parent.Rel, FK: fk}
			next := &TableScope{Schema: p.schema, Table: fk.Right.Ti, Rel: rel}
			return growRel(parent, rel, next, 0, nav), nil, nil
		}
		if fk, ok := p.schema.ReverseForeignKey(scope.Table, nav.Name); ok {
			if parent.Expr != nil {
				return nil, nil, internalError("navigating a back link from a value position")
			}
			rel := &RelRevJoin{Rel: parent.Rel, FK: fk}
			next := &TableScope{Schema: p.schema, Table: fk.Left.Ti, Rel: rel}
			return growRel(parent, rel, next, Seq, nav), nil, nil
		}
		return nil, nil, unknownName(nav.Name, scope)

	case *RecordScope:
		field, ok := scope.field(nav.Name)
		if !ok {
			return nil, nil, unknownName(nav.Name, scope)
		}
		base := parent.Clone()
		base.Scope = scope.Parent
		op, err := p.runToOp(field.Syn, makeParent(base))
		if err != nil {
			return nil, nil, err
		}
		if op.Sig != nil || (op.Expr != nil && op.Card == One) {
			return growExpr(parent, &ExprOp{Op: op}, op.Scope, op.Card.Times(parent.Card), nil), nil, nil
		}
		// A plural field re-roots on the enclosing relation so the
		// reverse join runs at the top of the pipeline instead of in a
		// correlated frame.
		if parent.Expr != nil || parent.Sig != nil {
			return nil, nil, internalError("record navigation over a value position")
		}
		res := growRel(parent, rebase(op.Rel, parent.Rel), op.Scope, op.Card.Times(parent.Card), nil)
		res.Expr = op.Expr
		return res, nil, nil

	case *GroupScope:
		return p.navigateGroup(scope, nav, parent)

	case SyntheticScope:
		fn, next, ok := scope.Lookup(nav.Name)
		if !ok {
			return nil, nil, unknownName(nav.Name, scope)
		}
		expr := &ExprApply{Parent: parent.Expr, Fn: fn}
		return growExpr(parent, expr, next, 0, nav), nil, nil

	case *EmptyScope:
		return nil, nil, unknownName(nav.Name, scope)
	}
	return nil, nil, internalError("unhandled scope %T", scope)
}

func (p *planner) navigateGroup(scope *GroupScope, nav *Nav, parent *Op) (*Op, cont, error) {
	if nav.Name == "_" {
		if parent.Card == Seq {
			// Reintroduce the row-level relation the group was built on.
			pp := parent
			for {
				rp, ok := pp.Rel.(*RelParent)
				if !ok {
					break
				}
				pp = rp.Parent
			}
			rg, ok := pp.Rel.(*RelGroup)
			if !ok {
				return nil, nil, internalError("group scope without a group relation")
			}
			return &Op{
				Rel:   rg.Rel,
				Card:  Seq,
				Scope: scope.Scope,
				Syn:   nav,
			}, nil, nil
		}

		// An aggregate produced through `_` is hoisted onto the group
		// relation under a synthesized name; the reference downstream
		// becomes a compute lookup.
		groupRel := scope.Rel
		wrap := func(op *Op) (*Op, error) {
			if op.Card == Seq {
				op = op.Aggregate(JSONAggSig)
			} else if op.Sig == nil {
				return nil, internalError("expected an aggregate under group _")
			}
			name := fmt.Sprintf("compute_%d", len(groupRel.Compute()))
			groupRel.AddCompute(Field{Name: name, Op: op})
			return growExpr(parent, &ExprCompute{Name: name}, &EmptyScope{}, 0, nav), nil
		}
		inner := &Op{
			Rel:   &RelAggregateParent{},
			Card:  Seq,
			Scope: scope.Scope,
			Syn:   nav,
		}
		return inner, wrap, nil
	}

	if scope.hasField(nav.Name) {
		if parent.Expr != nil {
			return nil, nil, internalError("group key navigation over a value position")
		}
		expr := &ExprColumn{Name: nav.Name}
		return growExpr(parent, expr, &EmptyScope{}, 0, nav), nil, nil
	}
	return nil, nil, unknownName(nav.Name, scope)
}

// rebase replaces the RelParent root of a rel chain with base.
func rebase(rel Rel, base Rel) Rel {
	switch r := rel.(type) {
	case *RelParent:
		return base
	case *RelJoin:
		c := *r
		c.Rel = rebase(r.Rel, base)
		return &c
	case *RelRevJoin:
		c := *r
		c.Rel = rebase(r.Rel, base)
		return &c
	case *RelTake:
		c := *r
		c.Rel = rebase(r.Rel, base)
		return &c
	case *RelFilter:
		c := *r
		c.Rel = rebase(r.Rel, base)
		return &c
	case *RelSort:
		c := *r
		c.Rel = rebase(r.Rel, base)
		return &c
	case *RelGroup:
		c := *r
		c.Rel = rebase(r.Rel, base)
		return &c
	}
	return rel
}

//
// Combinator application
//

func (p *planner) sigToOp(kind SigKind, apply *Apply, parent *Op) (*Op, cont, error) {
	switch kind {
	case SigBuiltIn:
		return p.builtinToOp(apply, parent)
	case SigAggregate:
		op, err := p.aggregateToOp(apply, parent)
		return op, nil, err
	case SigFunc:
		op, err := p.funcToOp(apply, parent)
		return op, nil, err
	case SigBinary:
		if len(apply.Args) != 2 {
			return nil, nil, arityError(apply.Name, "2", len(apply.Args))
		}
		return p.binOpToOp(&BinOp{Op: apply.Name, A: apply.Args[0], B: apply.Args[1]}, parent)
	}
	return nil, nil, unknownCombinator(apply.Name)
}

func (p *planner) builtinToOp(apply *Apply, parent *Op) (*Op, cont, error) {
	switch apply.Name {
	case "select":
		// The record is not materialized here: the next syntax node may
		// still collapse it (region{name: name}.name). See buildOpExpr.
		scope := &RecordScope{Parent: parent.Scope, Fields: apply.Fields}
		res := parent.Clone()
		res.Scope = scope
		return res, nil, nil

	case "group":
		op, err := p.groupToOp(apply, parent)
		return op, nil, err

	case "filter":
		op, err := p.filterToOp(apply, parent)
		return op, nil, err

	case "take":
		op, err := p.takeToOp(apply, parent)
		return op, nil, err

	case "first":
		op, err := p.firstToOp(apply, parent)
		return op, nil, err

	case "sort":
		op, err := p.sortToOp(apply, parent)
		return op, nil, err

	case "around":
		op, err := p.aroundToOp(apply, parent)
		return op, nil, err
	}
	return nil, nil, unknownCombinator(apply.Name)
}

func (p *planner) groupToOp(apply *Apply, parent *Op) (*Op, error) {
	if parent.Card < Seq {
		return nil, cardinalityError("group", "expected a plural pipeline")
	}
	fields := make([]Field, 0, len(apply.Fields))
	for _, f := range apply.Fields {
		op, err := p.runToOp(f.Syn, makeParent(parent))
		if err != nil {
			return nil, err
		}
		if op.Expr == nil {
			if ts, ok := op.Scope.(*TableScope); ok {
				op = growExpr(op, &ExprIdentity{Table: ts.Table}, nil, 0, nil)
			}
		}
		fields = append(fields, Field{Name: f.Name, Op: op})
	}
	rel := &RelGroup{Rel: parent.Rel, Fields: fields}
	scope := &GroupScope{Scope: parent.Scope, Fields: apply.Fields, Rel: rel}
	card := One
	if len(fields) > 0 {
		card = Seq
	}
	return growRel(parent, rel, scope, card, apply), nil
}

func (p *planner) filterToOp(apply *Apply, parent *Op) (*Op, error) {
	if len(apply.Args) != 1 {
		return nil, arityError("filter", "1", len(apply.Args))
	}
	if parent.Card < Seq {
		return nil, cardinalityError("filter", "expected a plural pipeline")
	}
	cond, err := p.runToOp(apply.Args[0], makeParent(parent))
	if err != nil {
		return nil, err
	}
	if cond.Expr == nil && cond.Sig == nil {
		return nil, operandShape("filter", "condition must produce a value")
	}
	rel := &RelFilter{Rel: parent.Rel, Cond: &ExprOp{Op: cond}}
	return growRel(parent, rel, nil, 0, apply), nil
}

func (p *planner) takeToOp(apply *Apply, parent *Op) (*Op, error) {
	if len(apply.Args) != 1 {
		return nil, arityError("take", "1", len(apply.Args))
	}
	if parent.Card < Seq {
		return nil, cardinalityError("take", "expected a plural pipeline")
	}
	take, err := p.runToOp(apply.Args[0], makeParent(parent))
	if err != nil {
		return nil, err
	}
	if take.Card != One {
		return nil, cardinalityError("take", "the limit must be singular")
	}
	rel := &RelTake{Rel: parent.Rel, Take: &ExprOp{Op: take}}
	return growRel(parent, rel, nil, 0, apply), nil
}

func (p *planner) firstToOp(apply *Apply, parent *Op) (*Op, error) {
	if len(apply.Args) != 0 {
		return nil, arityError("first", "0", len(apply.Args))
	}
	if parent.Card < Seq {
		return nil, cardinalityError("first", "expected a plural pipeline")
	}
	take, err := p.runToOp(&Literal{Value: int64(1), Kind: LitInt}, makeParent(parent))
	if err != nil {
		return nil, err
	}
	rel := &RelTake{Rel: parent.Rel, Take: &ExprOp{Op: take}}
	return growRel(parent, rel, nil, One, apply), nil
}

func (p *planner) sortToOp(apply *Apply, parent *Op) (*Op, error) {
	if len(apply.Args) == 0 {
		return nil, arityError("sort", "at least 1", 0)
	}
	if parent.Card < Seq {
		return nil, cardinalityError("sort", "expected a plural pipeline")
	}
	sort := make([]Sort, 0, len(apply.Args))
	for _, arg := range apply.Args {
		desc := false
		if d, ok := arg.(*Desc); ok {
			arg, desc = d.Syn, true
		}
		key, err := p.runToOp(arg, makeParent(parent))
		if err != nil {
			return nil, err
		}
		if key.Card != One {
			return nil, cardinalityError("sort", "sort keys must be singular")
		}
		sort = append(sort, Sort{Expr: &ExprOp{Op: key}, Desc: desc})
	}
	rel := &RelSort{Rel: parent.Rel, Sort: sort}
	return growRel(parent, rel, nil, 0, apply), nil
}

// aroundToOp rewinds to the source relation of the current pipeline so
// an aggregate inside select can reference the pre-filter relation. It
// walks RelParent chains outward until a non-parent rel is found, then
// strips filter/take/sort wrappers. With a through-expression the
// traversal is planned under RelAroundParent instead, so joins compile
// correlated against the outer row.
func (p *planner) aroundToOp(apply *Apply, parent *Op) (*Op, error) {
	if len(apply.Args) > 1 {
		return nil, arityError("around", "at most 1", len(apply.Args))
	}

	if len(apply.Args) == 1 {
		base := parent.Clone()
		base.Rel = &RelAroundParent{}
		return p.runToOp(apply.Args[0], base)
	}

	src := parent
	for {
		rp, ok := src.Rel.(*RelParent)
		if !ok {
			break
		}
		src = rp.Parent
	}
	rel := src.Rel
	for {
		switch r := rel.(type) {
		case *RelFilter:
			rel = r.Rel
		case *RelTake:
			rel = r.Rel
		case *RelSort:
			rel = r.Rel
		default:
			res := src.Clone()
			res.Rel = rel
			res.Card = Seq
			res.Expr = nil
			res.Sig = nil
			return res, nil
		}
	}
}

func (p *planner) aggregateToOp(apply *Apply, parent *Op) (*Op, error) {
	sig := aggrSigs[apply.Name]
	if len(apply.Args) != 0 {
		return nil, arityError(apply.Name, "0", len(apply.Args))
	}
	reagg := parent.Card == One && parent.Sig != nil && parent.Sig.Name == JSONAggSig.Name
	if parent.Card < Seq && !reagg {
		return nil, cardinalityError(apply.Name, "expected a plural pipeline")
	}
	return parent.Aggregate(sig), nil
}

func (p *planner) funcToOp(apply *Apply, parent *Op) (*Op, error) {
	sig := funcSigs[apply.Name]
	if len(apply.Args) != sig.Arity {
		return nil, arityError(apply.Name, fmt.Sprintf("%d", sig.Arity), len(apply.Args))
	}
	if parent.Expr == nil {
		return nil, operandShape(apply.Name, "expected a value to apply to")
	}
	args := make([]Expr, 0, len(apply.Args))
	for _, a := range apply.Args {
		arg, err := p.runToOp(a, makeParent(parent))
		if err != nil {
			return nil, err
		}
		if arg.Card != One {
			return nil, operandShape(apply.Name, "arguments must be singular")
		}
		args = append(args, &ExprOp{Op: arg})
	}
	expr := &ExprApply{
		Parent: parent.Expr,
		Args:   args,
		Fn:     ApplyOp{Kind: ApplyFunc, Name: apply.Name},
	}
	return growExpr(parent, expr, nil, 0, apply), nil
}

func (p *planner) binOpToOp(syn *BinOp, parent *Op) (*Op, cont, error) {
	sig, ok := GetBinSig(syn.Op)
	if !ok {
		return nil, nil, unknownCombinator(syn.Op)
	}

	mk := func(a, b Expr) Expr {
		return &ExprApply{
			Args: []Expr{a, b},
			Fn:   ApplyOp{Kind: ApplyBinary, Name: sig.Name},
		}
	}
	asExpr := func(op *Op) Expr { return &ExprOp{Op: op} }

	a, ak, err := p.normToOp(syn.A, makeParent(parent))
	if err != nil {
		return nil, nil, err
	}
	if a, err = p.buildOpExpr(a); err != nil {
		return nil, nil, err
	}
	b, bk, err := p.normToOp(syn.B, makeParent(parent))
	if err != nil {
		return nil, nil, err
	}
	if b, err = p.buildOpExpr(b); err != nil {
		return nil, nil, err
	}

	var expr Expr
	switch {
	case a.Card > b.Card:
		// The singular side is pushed into the plural side so the
		// operator evaluates once per row of the dominant operand.
		bFin, err := bk(b)
		if err != nil {
			return nil, nil, err
		}
		aG := growExpr(a, mk(a.Expr, asExpr(bFin)), nil, 0, syn.A)
		aFin, err := ak(aG)
		if err != nil {
			return nil, nil, err
		}
		expr = asExpr(aFin)

	case a.Card < b.Card:
		aFin, err := ak(a)
		if err != nil {
			return nil, nil, err
		}
		bG := growExpr(b, mk(asExpr(aFin), b.Expr), nil, 0, syn.B)
		bFin, err := bk(bG)
		if err != nil {
			return nil, nil, err
		}
		expr = asExpr(bFin)

	default:
		aFin, err := ak(a)
		if err != nil {
			return nil, nil, err
		}
		bFin, err := bk(b)
		if err != nil {
			return nil, nil, err
		}
		if aFin.Card == Seq {
			// Two plural operands are only comparable when both extend
			// the same parent row; anything else is ambiguous.
			if !parentRooted(aFin.Rel) || !parentRooted(bFin.Rel) {
				return nil, nil, cardinalityError(sig.Name,
					"plural operands must share the enclosing relation")
			}
		}
		expr = mk(asExpr(aFin), asExpr(bFin))
	}

	card := parent.Card.Times(a.Card).Times(b.Card)
	return growExpr(parent, expr, &EmptyScope{}, card, syn), nil, nil
}

// parentRooted reports whether the rel chain bottoms out in the
// enclosing row rather than a fresh table scan.
func parentRooted(rel Rel) bool {
	for {
		switch r := rel.(type) {
		case *RelJoin:
			rel = r.Rel
		case *RelRevJoin:
			rel = r.Rel
		case *RelTake:
			rel = r.Rel
		case *RelFilter:
			rel = r.Rel
		case *RelSort:
			rel = r.Rel
		case *RelGroup:
			rel = r.Rel
		case *RelParent, *RelVoid, *RelAggregateParent, *RelAroundParent:
			return true
		default:
			_ = r
			return false
		}
	}
}
