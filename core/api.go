// Package core compiles query-combinator pipelines into single SQL
// SELECT statements over a reflected relational schema, and optionally
// executes them. Pipelines are built with the hosted Query builder,
// planned against the schema and lowered to PostgreSQL; every compiled
// statement has a single JSON-friendly "value" column. It returns one
// row, except that a pipeline made singular by first() returns no row
// when its relation is empty.
package core

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/combiql/combiql/core/internal/psql"
	"github.com/combiql/combiql/core/internal/qcode"
	"github.com/combiql/combiql/core/internal/sdata"
)

// Config carries the engine options. The zero value is usable.
type Config struct {
	// DBSchema is the database schema reflected on startup.
	DBSchema string `mapstructure:"schema"`

	// EnableCamelcase exposes snake_case tables and columns under
	// camelCase names.
	EnableCamelcase bool `mapstructure:"enable_camelcase"`

	// CacheSize bounds the compiled statement cache. Zero picks a
	// default; negative disables caching.
	CacheSize int `mapstructure:"cache_size"`

	// Logger receives debug logging of compiled statements.
	Logger *zap.SugaredLogger
}

// Engine plans and compiles queries against one schema.
type Engine struct {
	conf   *Config
	schema *sdata.DBSchema
	db     *sql.DB
	log    *zap.SugaredLogger
	cache  *cache
}

// New reflects the database schema and returns an engine bound to it.
func New(ctx context.Context, conf *Config, db *sql.DB) (*Engine, error) {
	if conf == nil {
		conf = &Config{}
	}
	schema, err := sdata.Discover(ctx, db, conf.DBSchema, conf.EnableCamelcase)
	if err != nil {
		return nil, errors.Wrap(err, "core")
	}
	return newEngine(conf, schema, db)
}

// NewDemoEngine returns an engine over the built-in demo schema
// (region, nation, customer). The db may be nil when only compiling.
func NewDemoEngine(conf *Config, db *sql.DB) *Engine {
	if conf == nil {
		conf = &Config{}
	}
	e, err := newEngine(conf, sdata.DemoSchema(), db)
	if err != nil {
		panic(err)
	}
	return e
}

func newEngine(conf *Config, schema *sdata.DBSchema, db *sql.DB) (*Engine, error) {
	e := &Engine{conf: conf, schema: schema, db: db, log: conf.Logger}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	if conf.CacheSize >= 0 {
		c, err := newCache(conf.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "core: cache")
		}
		e.cache = c
	}
	return e, nil
}

// compiled is one cached compilation.
type compiled struct {
	SQL  string
	Card qcode.Cardinality
}

func (e *Engine) compile(q *Query) (compiled, error) {
	if q.err != nil {
		return compiled{}, q.err
	}
	if q.syn == nil {
		return compiled{}, errors.New("core: empty query")
	}

	key, keyed := uint64(0), false
	if e.cache != nil {
		if k, err := e.cache.key(q.syn); err == nil {
			key, keyed = k, true
			if st, ok := e.cache.get(k); ok {
				return st, nil
			}
		}
	}

	op, err := qcode.Plan(q.syn, e.schema)
	if err != nil {
		return compiled{}, err
	}
	stmt, err := psql.CompileString(op)
	if err != nil {
		return compiled{}, err
	}
	st := compiled{SQL: stmt, Card: op.Card}
	e.log.Debugw("compiled query", "sql", st.SQL, "card", st.Card.String())

	if keyed {
		e.cache.set(key, st)
	}
	return st, nil
}

// SQL plans and compiles the query, returning the SQL text.
func (e *Engine) SQL(q *Query) (string, error) {
	st, err := e.compile(q)
	if err != nil {
		return "", err
	}
	return st.SQL, nil
}

// ColumnInfo describes one column of a reflected table.
type ColumnInfo struct {
	Name       string
	Type       string
	PrimaryKey bool
	FKeyTable  string
	FKeyCol    string
}

// TableInfo describes one reflected table.
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
}

// Schema returns the reflected schema the engine binds names against.
func (e *Engine) Schema() []TableInfo {
	tables := make([]TableInfo, 0, len(e.schema.Tables))
	for _, t := range e.schema.Tables {
		ti := TableInfo{Name: t.Name, Columns: make([]ColumnInfo, 0, len(t.Columns))}
		for _, c := range t.Columns {
			ti.Columns = append(ti.Columns, ColumnInfo{
				Name:       c.Name,
				Type:       c.Type,
				PrimaryKey: c.PrimaryKey,
				FKeyTable:  c.FKeyTable,
				FKeyCol:    c.FKeyCol,
			})
		}
		tables = append(tables, ti)
	}
	return tables
}

// Result is the decoded answer of an executed query.
type Result struct {
	// One is true when the pipeline was planned singular.
	One bool

	// Data is the value column as JSON: an array for plural pipelines,
	// an object for records, a bare JSON scalar otherwise.
	Data json.RawMessage
}

// Decode unmarshals the result value.
func (r *Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// Execute compiles and runs the query, reading the single value column.
func (e *Engine) Execute(ctx context.Context, q *Query) (*Result, error) {
	if e.db == nil {
		return nil, errors.New("core: engine has no database")
	}
	st, err := e.compile(q)
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := e.db.QueryRowContext(ctx, st.SQL).Scan(&raw); err != nil {
		return nil, errors.Wrap(err, "core: execute")
	}

	data, err := valueJSON(raw)
	if err != nil {
		return nil, err
	}
	return &Result{One: st.Card == qcode.One, Data: data}, nil
}

// valueJSON normalizes the scanned value column to JSON. JSON columns
// arrive as []byte and pass through; native scalars are marshaled.
func valueJSON(raw interface{}) (json.RawMessage, error) {
	switch v := raw.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v), nil
		}
		return json.Marshal(string(v))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "core: decode value")
		}
		return b, nil
	}
}
