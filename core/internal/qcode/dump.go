package qcode

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DumpOp renders an op tree as YAML for debugging and golden tests.
func DumpOp(op *Op) string {
	b, err := yaml.Marshal(opRepr(op))
	if err != nil {
		return fmt.Sprintf("!dump error: %v", err)
	}
	return string(b)
}

// DumpSyn renders a syntax tree as YAML.
func DumpSyn(syn Syn) string {
	b, err := yaml.Marshal(synRepr(syn))
	if err != nil {
		return fmt.Sprintf("!dump error: %v", err)
	}
	return string(b)
}

func opRepr(op *Op) interface{} {
	if op == nil {
		return nil
	}
	m := map[string]interface{}{
		"rel":  relRepr(op.Rel),
		"card": op.Card.String(),
	}
	if op.Expr != nil {
		m["expr"] = exprRepr(op.Expr)
	}
	if op.Sig != nil {
		m["sig"] = op.Sig.Name
	}
	return m
}

func relRepr(rel Rel) interface{} {
	var m map[string]interface{}
	switch r := rel.(type) {
	case *RelVoid:
		m = map[string]interface{}{"void": nil}
	case *RelTable:
		m = map[string]interface{}{"table": r.Table.Name}
	case *RelJoin:
		m = map[string]interface{}{"join": r.FK.Right.Ti.Name, "rel": relRepr(r.Rel)}
	case *RelRevJoin:
		m = map[string]interface{}{"revjoin": r.FK.Left.Ti.Name, "rel": relRepr(r.Rel)}
	case *RelParent:
		m = map[string]interface{}{"parent": nil}
	case *RelAggregateParent:
		m = map[string]interface{}{"aggregate-parent": nil}
	case *RelAroundParent:
		m = map[string]interface{}{"around-parent": nil}
	case *RelTake:
		m = map[string]interface{}{"take": exprRepr(r.Take), "rel": relRepr(r.Rel)}
	case *RelFilter:
		m = map[string]interface{}{"filter": exprRepr(r.Cond), "rel": relRepr(r.Rel)}
	case *RelSort:
		keys := make([]interface{}, len(r.Sort))
		for i, s := range r.Sort {
			keys[i] = map[string]interface{}{"expr": exprRepr(s.Expr), "desc": s.Desc}
		}
		m = map[string]interface{}{"sort": keys, "rel": relRepr(r.Rel)}
	case *RelGroup:
		m = map[string]interface{}{"group": fieldsRepr(r.Fields), "rel": relRepr(r.Rel)}
	default:
		return fmt.Sprintf("%T", rel)
	}
	if compute := rel.Compute(); len(compute) > 0 {
		m["compute"] = fieldsRepr(compute)
	}
	return m
}

func exprRepr(expr Expr) interface{} {
	switch e := expr.(type) {
	case *ExprOp:
		return map[string]interface{}{"op": opRepr(e.Op)}
	case *ExprRecord:
		return map[string]interface{}{"record": fieldsRepr(e.Fields)}
	case *ExprColumn:
		return map[string]interface{}{"column": e.Name}
	case *ExprCompute:
		return map[string]interface{}{"compute": e.Name}
	case *ExprIdentity:
		return map[string]interface{}{"identity": e.Table.Name}
	case *ExprConst:
		return map[string]interface{}{"const": e.Value, "kind": e.Kind.String()}
	case *ExprApply:
		m := map[string]interface{}{"apply": e.Fn.Name}
		if e.Parent != nil {
			m["parent"] = exprRepr(e.Parent)
		}
		if len(e.Args) > 0 {
			args := make([]interface{}, len(e.Args))
			for i, a := range e.Args {
				args[i] = exprRepr(a)
			}
			m["args"] = args
		}
		return m
	}
	return fmt.Sprintf("%T", expr)
}

func fieldsRepr(fields []Field) []interface{} {
	out := make([]interface{}, len(fields))
	for i, f := range fields {
		out[i] = map[string]interface{}{f.Name: opRepr(f.Op)}
	}
	return out
}

func synRepr(syn Syn) interface{} {
	switch s := syn.(type) {
	case nil:
		return nil
	case *Nav:
		return map[string]interface{}{"nav": s.Name}
	case *Compose:
		return map[string]interface{}{"compose": []interface{}{synRepr(s.A), synRepr(s.B)}}
	case *Apply:
		m := map[string]interface{}{"apply": s.Name}
		if len(s.Args) > 0 {
			args := make([]interface{}, len(s.Args))
			for i, a := range s.Args {
				args[i] = synRepr(a)
			}
			m["args"] = args
		}
		if len(s.Fields) > 0 {
			fields := make([]interface{}, len(s.Fields))
			for i, f := range s.Fields {
				fields[i] = map[string]interface{}{f.Name: synRepr(f.Syn)}
			}
			m["fields"] = fields
		}
		return m
	case *BinOp:
		return map[string]interface{}{"binop": s.Op, "a": synRepr(s.A), "b": synRepr(s.B)}
	case *Literal:
		return map[string]interface{}{"literal": s.Value, "kind": s.Kind.String()}
	case *Desc:
		return map[string]interface{}{"desc": synRepr(s.Syn)}
	}
	return fmt.Sprintf("%T", syn)
}
