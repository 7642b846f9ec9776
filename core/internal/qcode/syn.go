// Package qcode implements the typed middle of the compiler: the syntax
// tree built by the surface builder, the scope and cardinality machinery,
// the combinator signature registry and the planner that elaborates
// syntax into the Op IR consumed by the SQL compiler in psql.
package qcode

import (
	"time"
)

// LitKind tags a literal value with the SQL type it embeds as.
type LitKind int8

const (
	LitString LitKind = iota + 1
	LitInt
	LitFloat
	LitBool
	LitDate
	LitJSON
)

func (k LitKind) String() string {
	switch k {
	case LitString:
		return "string"
	case LitInt:
		return "integer"
	case LitFloat:
		return "float"
	case LitBool:
		return "boolean"
	case LitDate:
		return "date"
	case LitJSON:
		return "json"
	}
	return "unknown"
}

// Syn is a node of the surface syntax tree.
type Syn interface {
	synNode()
}

// Nav resolves a name in the ambient scope: ROOT.NAME
type Nav struct {
	Name string
}

// Compose applies B in the scope produced by A: A.B
type Compose struct {
	A Syn
	B Syn
}

// Apply invokes a named combinator. Positional combinators use Args;
// select and group carry named fields in Fields.
type Apply struct {
	Name   string
	Args   []Syn
	Fields []SynField
}

// SynField is a named sub-query, used by select and group.
type SynField struct {
	Name string
	Syn  Syn
}

// BinOp is a binary operation between two queries.
type BinOp struct {
	Op string
	A  Syn
	B  Syn
}

// Literal is a typed constant value.
type Literal struct {
	Value interface{}
	Kind  LitKind
}

// Desc marks a sort key as descending. Only valid inside sort(..).
type Desc struct {
	Syn Syn
}

func (*Nav) synNode()     {}
func (*Compose) synNode() {}
func (*Apply) synNode()   {}
func (*BinOp) synNode()   {}
func (*Literal) synNode() {}
func (*Desc) synNode()    {}

// MakeValue embeds a Go value as a literal query node.
func MakeValue(v interface{}) (*Literal, error) {
	switch v := v.(type) {
	case int:
		return &Literal{Value: int64(v), Kind: LitInt}, nil
	case int32:
		return &Literal{Value: int64(v), Kind: LitInt}, nil
	case int64:
		return &Literal{Value: v, Kind: LitInt}, nil
	case float32:
		return &Literal{Value: float64(v), Kind: LitFloat}, nil
	case float64:
		return &Literal{Value: v, Kind: LitFloat}, nil
	case string:
		return &Literal{Value: v, Kind: LitString}, nil
	case bool:
		return &Literal{Value: v, Kind: LitBool}, nil
	case time.Time:
		return &Literal{Value: v, Kind: LitDate}, nil
	case map[string]interface{}, []interface{}:
		return &Literal{Value: v, Kind: LitJSON}, nil
	}
	return nil, unsupportedLiteral(v)
}
