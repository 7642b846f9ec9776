package qcode

// The signature registry is closed at build time and read-only; the
// package-level maps below are the whole of it.

// SigKind classifies a combinator signature.
type SigKind int8

const (
	SigBuiltIn SigKind = iota + 1
	SigAggregate
	SigFunc
	SigBinary
)

// AggrSig is an aggregate combinator. Func is the SQL aggregate function
// (Name when empty) and Unit the identity value COALESCE falls back to
// over an empty sequence.
type AggrSig struct {
	Name string
	Func string
	Unit Literal
}

// FuncName returns the SQL function the aggregate compiles to.
func (s *AggrSig) FuncName() string {
	if s.Func != "" {
		return s.Func
	}
	return s.Name
}

// FuncSig is a scalar function combinator applied to the current value.
// Arity counts explicit arguments; the subject value is implicit.
type FuncSig struct {
	Name  string
	Arity int
}

// BinSig is a binary operator; Operator is its SQL spelling.
type BinSig struct {
	Name     string
	Operator string
}

// JSONAggSig is the implicit aggregate that collapses a plural value
// into a JSON array.
var JSONAggSig = &AggrSig{
	Name: "jsonb_agg",
	Unit: Literal{Kind: LitJSON, Value: []interface{}{}},
}

var aggrSigs = map[string]*AggrSig{
	"count":  {Name: "count", Unit: Literal{Kind: LitInt, Value: int64(0)}},
	"sum":    {Name: "sum", Unit: Literal{Kind: LitInt, Value: int64(0)}},
	"avg":    {Name: "avg", Unit: Literal{Kind: LitInt, Value: int64(0)}},
	"min":    {Name: "min", Unit: Literal{Kind: LitInt, Value: int64(0)}},
	"max":    {Name: "max", Unit: Literal{Kind: LitInt, Value: int64(0)}},
	"exists": {Name: "exists", Func: "bool_and", Unit: Literal{Kind: LitBool, Value: false}},
}

var funcSigs = map[string]*FuncSig{
	"length":    {Name: "length", Arity: 0},
	"upper":     {Name: "upper", Arity: 0},
	"lower":     {Name: "lower", Arity: 0},
	"substring": {Name: "substring", Arity: 2},
	"like":      {Name: "like", Arity: 1},
	"ilike":     {Name: "ilike", Arity: 1},
	"matches":   {Name: "matches", Arity: 1},
	"imatches":  {Name: "imatches", Arity: 1},
	"not":       {Name: "not", Arity: 0},
}

var binSigs = map[string]*BinSig{
	"eq":  {Name: "eq", Operator: "="},
	"ne":  {Name: "ne", Operator: "!="},
	"lt":  {Name: "lt", Operator: "<"},
	"le":  {Name: "le", Operator: "<="},
	"gt":  {Name: "gt", Operator: ">"},
	"ge":  {Name: "ge", Operator: ">="},
	"add": {Name: "add", Operator: "+"},
	"sub": {Name: "sub", Operator: "-"},
	"mul": {Name: "mul", Operator: "*"},
	"div": {Name: "div", Operator: "/"},
	"and": {Name: "and", Operator: "AND"},
	"or":  {Name: "or", Operator: "OR"},
}

var builtinSigs = map[string]bool{
	"select": true,
	"filter": true,
	"take":   true,
	"first":  true,
	"sort":   true,
	"group":  true,
	"around": true,
}

// GetSig reports the kind of a registered combinator.
func GetSig(name string) (SigKind, bool) {
	switch {
	case builtinSigs[name]:
		return SigBuiltIn, true
	case aggrSigs[name] != nil:
		return SigAggregate, true
	case funcSigs[name] != nil:
		return SigFunc, true
	case binSigs[name] != nil:
		return SigBinary, true
	}
	return 0, false
}

// GetBinSig resolves a binary operator by name.
func GetBinSig(name string) (*BinSig, bool) {
	s, ok := binSigs[name]
	return s, ok
}
