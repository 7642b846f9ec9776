package qcode

import (
	"strings"

	"github.com/combiql/combiql/core/internal/sdata"
)

// Cardinality classifies how many rows a pipeline position yields.
type Cardinality int8

const (
	One Cardinality = 1
	Seq Cardinality = 2
)

// Times combines cardinalities pointwise; the lattice join is max.
func (c Cardinality) Times(o Cardinality) Cardinality {
	if c >= o {
		return c
	}
	return o
}

func (c Cardinality) String() string {
	if c == Seq {
		return "seq"
	}
	return "one"
}

// Scope is the typing environment names resolve against.
type Scope interface {
	scopeNode()
}

// UnivScope is the entry scope; navigation picks a table.
type UnivScope struct {
	Schema *sdata.DBSchema
}

// TableScope is the scope at a row of Table; navigation picks a column,
// an outgoing FK or an incoming FK.
type TableScope struct {
	Schema *sdata.DBSchema
	Table  *sdata.DBTable
	Rel    Rel
}

// RecordScope is the scope of a just-selected record; navigation picks a
// field and re-enters the planner in the parent scope.
type RecordScope struct {
	Parent Scope
	Fields []SynField
}

func (s *RecordScope) field(name string) (SynField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SynField{}, false
}

// GroupScope is the scope after group(..); navigation picks a grouping
// key, or `_` to drop into the aggregated subrelation.
type GroupScope struct {
	Scope  Scope
	Fields []SynField
	Rel    *RelGroup
}

func (s *GroupScope) hasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// EmptyScope is terminal; lookups fail.
type EmptyScope struct{}

// SyntheticScope is a scope attached to a scalar type, offering
// type-specific navigation. Lookup yields the apply tag the emitter
// materializes, plus the scope of the result.
type SyntheticScope interface {
	Scope
	Lookup(name string) (ApplyOp, Scope, bool)
}

// DateScope offers year/month/day on date-typed values.
type DateScope struct{}

func (*DateScope) Lookup(name string) (ApplyOp, Scope, bool) {
	switch name {
	case "year", "month", "day":
		return ApplyOp{Kind: ApplyExtract, Name: name}, &EmptyScope{}, true
	}
	return ApplyOp{}, nil, false
}

// JSONScope offers dynamic member access on JSON-typed values.
type JSONScope struct{}

func (*JSONScope) Lookup(name string) (ApplyOp, Scope, bool) {
	return ApplyOp{Kind: ApplyJSONGet, Name: name}, &JSONScope{}, true
}

func (*UnivScope) scopeNode()   {}
func (*TableScope) scopeNode()  {}
func (*RecordScope) scopeNode() {}
func (*GroupScope) scopeNode()  {}
func (*EmptyScope) scopeNode()  {}
func (*DateScope) scopeNode()   {}
func (*JSONScope) scopeNode()   {}

// typeScope maps a column type to the scope of values of that type.
func typeScope(colType string) Scope {
	t := strings.ToLower(colType)
	switch {
	case strings.Contains(t, "json"):
		return &JSONScope{}
	case strings.HasPrefix(t, "date"), strings.HasPrefix(t, "timestamp"):
		return &DateScope{}
	}
	return &EmptyScope{}
}

// litScope maps a literal kind to the scope of its value.
func litScope(kind LitKind) Scope {
	switch kind {
	case LitJSON:
		return &JSONScope{}
	case LitDate:
		return &DateScope{}
	}
	return &EmptyScope{}
}
