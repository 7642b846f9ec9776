package sdata

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

//go:embed sql/postgres_columns.sql
var postgresColumnsStmt string

//go:embed sql/postgres_primary_keys.sql
var postgresPrimaryKeysStmt string

//go:embed sql/postgres_foreign_keys.sql
var postgresForeignKeysStmt string

type colInfo struct {
	table   string
	name    string
	typ     string
	notNull bool
}

type keyInfo struct {
	table string
	col   string
	ftab  string
	fcol  string
}

// Discover reflects tables, columns, primary keys and foreign keys of a
// PostgreSQL schema. The three catalog queries run concurrently.
func Discover(ctx context.Context, db *sql.DB, schema string, enableCamelcase bool) (*DBSchema, error) {
	if schema == "" {
		schema = "public"
	}

	var cols []colInfo
	var pks, fks []keyInfo

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		cols, err = fetchColumns(gctx, db, schema)
		return
	})
	g.Go(func() (err error) {
		pks, err = fetchKeys(gctx, db, postgresPrimaryKeysStmt, schema, false)
		return
	})
	g.Go(func() (err error) {
		fks, err = fetchKeys(gctx, db, postgresForeignKeysStmt, schema, true)
		return
	})

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "schema discovery")
	}

	pkSet := make(map[[2]string]bool, len(pks))
	for _, k := range pks {
		pkSet[[2]string{k.table, k.col}] = true
	}
	fkMap := make(map[[2]string]keyInfo, len(fks))
	for _, k := range fks {
		fkMap[[2]string{k.table, k.col}] = k
	}

	var tables []*DBTable
	byTable := make(map[string][]DBColumn)
	var order []string

	for _, ci := range cols {
		col := DBColumn{
			Table:      ci.table,
			Name:       ci.name,
			Type:       ci.typ,
			NotNull:    ci.notNull,
			PrimaryKey: pkSet[[2]string{ci.table, ci.name}],
		}
		if fk, ok := fkMap[[2]string{ci.table, ci.name}]; ok {
			col.FKeyTable = fk.ftab
			col.FKeyCol = fk.fcol
		}
		if _, seen := byTable[ci.table]; !seen {
			order = append(order, ci.table)
		}
		byTable[ci.table] = append(byTable[ci.table], col)
	}
	for _, name := range order {
		tables = append(tables, NewDBTable(schema, name, byTable[name]))
	}

	return NewDBSchema(tables, enableCamelcase)
}

func fetchColumns(ctx context.Context, db *sql.DB, schema string) ([]colInfo, error) {
	rows, err := db.QueryContext(ctx, postgresColumnsStmt, schema)
	if err != nil {
		return nil, errors.Wrap(err, "columns")
	}
	defer rows.Close()

	var out []colInfo
	for rows.Next() {
		var ci colInfo
		if err := rows.Scan(&ci.table, &ci.name, &ci.typ, &ci.notNull); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func fetchKeys(ctx context.Context, db *sql.DB, stmt, schema string, foreign bool) ([]keyInfo, error) {
	rows, err := db.QueryContext(ctx, stmt, schema)
	if err != nil {
		return nil, errors.Wrap(err, "keys")
	}
	defer rows.Close()

	var out []keyInfo
	for rows.Next() {
		var ki keyInfo
		if foreign {
			err = rows.Scan(&ki.table, &ki.col, &ki.ftab, &ki.fcol)
		} else {
			err = rows.Scan(&ki.table, &ki.col)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ki)
	}
	return out, rows.Err()
}
