// Package sdata holds the relational schema metadata the compiler binds
// names against: tables, columns, primary keys and single-column foreign
// keys. The schema is immutable once built; compilations may share it
// across goroutines.
package sdata

import (
	"strings"

	"github.com/gobuffalo/flect"
	"github.com/pkg/errors"
)

type DBColumn struct {
	Table      string
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	FKeyTable  string
	FKeyCol    string
}

type DBTable struct {
	Schema  string
	Name    string
	Columns []DBColumn
	colMap  map[string]int
}

// DBRelSide is one end of a foreign key relationship.
type DBRelSide struct {
	Ti  *DBTable
	Col DBColumn
}

// DBRel is a single-column foreign key. Left is the table holding the FK
// column, Right is the referenced table and its (primary key) column.
type DBRel struct {
	Left  DBRelSide
	Right DBRelSide
}

type DBSchema struct {
	Tables []*DBTable

	tmap map[string]*DBTable
	// fks is keyed by source table, then by the name of the referenced
	// table. Navigating `nation.region` follows nation's FK to region.
	fks map[string]map[string]*DBRel
	// rfks is the reverse index: `region.nation` follows every FK that
	// points back at region, keyed by the child table name.
	rfks map[string]map[string]*DBRel

	camel bool
}

// NewDBTable builds a table with its column index.
func NewDBTable(schema, name string, columns []DBColumn) *DBTable {
	t := &DBTable{Schema: schema, Name: name, Columns: columns}
	t.colMap = make(map[string]int, len(columns))
	for i, c := range columns {
		t.colMap[c.Name] = i
	}
	return t
}

func (t *DBTable) GetColumn(name string) (DBColumn, bool) {
	i, ok := t.colMap[name]
	if !ok {
		return DBColumn{}, false
	}
	return t.Columns[i], true
}

// PrimaryKeys returns the primary key columns in declaration order.
func (t *DBTable) PrimaryKeys() []DBColumn {
	var pk []DBColumn
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// NewDBSchema indexes tables and foreign keys. Every FK must reference a
// known table; FK columns must exist on both sides.
func NewDBSchema(tables []*DBTable, enableCamelcase bool) (*DBSchema, error) {
	s := &DBSchema{
		Tables: tables,
		tmap:   make(map[string]*DBTable, len(tables)),
		fks:    make(map[string]map[string]*DBRel),
		rfks:   make(map[string]map[string]*DBRel),
		camel:  enableCamelcase,
	}
	for _, t := range tables {
		s.tmap[t.Name] = t
	}

	for _, t := range tables {
		for _, c := range t.Columns {
			if c.FKeyTable == "" {
				continue
			}
			ft, ok := s.tmap[c.FKeyTable]
			if !ok {
				return nil, errors.Errorf("sdata: table %s column %s references unknown table %s",
					t.Name, c.Name, c.FKeyTable)
			}
			fcol, ok := ft.GetColumn(c.FKeyCol)
			if !ok {
				return nil, errors.Errorf("sdata: table %s column %s references unknown column %s.%s",
					t.Name, c.Name, c.FKeyTable, c.FKeyCol)
			}
			rel := &DBRel{
				Left:  DBRelSide{Ti: t, Col: c},
				Right: DBRelSide{Ti: ft, Col: fcol},
			}
			if s.fks[t.Name] == nil {
				s.fks[t.Name] = make(map[string]*DBRel)
			}
			s.fks[t.Name][ft.Name] = rel
			if s.rfks[ft.Name] == nil {
				s.rfks[ft.Name] = make(map[string]*DBRel)
			}
			s.rfks[ft.Name][t.Name] = rel
		}
	}
	return s, nil
}

// GetTable resolves a table by its exposed name.
func (s *DBSchema) GetTable(name string) (*DBTable, bool) {
	t, ok := s.tmap[s.dbName(name)]
	return t, ok
}

// GetColumn resolves a column of a table by its exposed name.
func (s *DBSchema) GetColumn(t *DBTable, name string) (DBColumn, bool) {
	return t.GetColumn(s.dbName(name))
}

// ForeignKey resolves an outgoing FK of table t by referenced table name.
func (s *DBSchema) ForeignKey(t *DBTable, name string) (*DBRel, bool) {
	rel, ok := s.fks[t.Name][s.dbName(name)]
	return rel, ok
}

// ReverseForeignKey resolves an incoming FK of table t by child table name.
func (s *DBSchema) ReverseForeignKey(t *DBTable, name string) (*DBRel, bool) {
	rel, ok := s.rfks[t.Name][s.dbName(name)]
	return rel, ok
}

// TableNames lists the exposed table names, used in lookup error messages.
func (s *DBSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// dbName maps an exposed name back to the database name. With camelcase
// enabled `regionId` resolves the column `region_id`.
func (s *DBSchema) dbName(name string) string {
	if !s.camel || name == strings.ToLower(name) {
		return name
	}
	return flect.Underscore(name)
}
