package psql

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/combiql/combiql/core/internal/qcode"
)

// reservedIdents need double quoting when used as identifiers.
var reservedIdents = map[string]bool{
	"order": true, "group": true, "user": true, "select": true,
	"table": true, "where": true, "from": true, "join": true,
	"limit": true, "offset": true, "desc": true, "asc": true,
	"check": true, "default": true, "primary": true, "references": true,
}

// Render serializes a select statement to SQL text with literal binds.
func Render(sel *SelectStmt) string {
	c := &sqlWriter{w: &bytes.Buffer{}}
	c.renderSelect(sel)
	return c.w.String()
}

type sqlWriter struct {
	w *bytes.Buffer
}

func (c *sqlWriter) quoted(ident string) {
	if reservedIdents[ident] || strings.ToLower(ident) != ident {
		c.w.WriteByte('"')
		c.w.WriteString(ident)
		c.w.WriteByte('"')
		return
	}
	c.w.WriteString(ident)
}

func (c *sqlWriter) squoted(s string) {
	c.w.WriteByte('\'')
	c.w.WriteString(strings.ReplaceAll(s, `'`, `''`))
	c.w.WriteByte('\'')
}

func (c *sqlWriter) renderSelect(sel *SelectStmt) {
	c.w.WriteString(`SELECT `)
	for i, col := range sel.Cols {
		if i != 0 {
			c.w.WriteString(`, `)
		}
		if col.Star != nil {
			c.quoted(col.Star.Name)
			c.w.WriteString(`.*`)
			continue
		}
		c.renderExpr(col.Expr)
		if col.Label != "" {
			c.w.WriteString(` AS `)
			c.quoted(col.Label)
		}
	}
	if sel.From != nil {
		c.w.WriteString(` FROM `)
		c.renderFrom(sel.From)
	}
	if sel.Where != nil {
		c.w.WriteString(` WHERE `)
		c.renderExpr(sel.Where)
	}
	if len(sel.GroupBy) != 0 {
		c.w.WriteString(` GROUP BY `)
		for i, e := range sel.GroupBy {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.renderExpr(e)
		}
	}
	if len(sel.OrderBy) != 0 {
		c.w.WriteString(` ORDER BY `)
		for i, o := range sel.OrderBy {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.renderExpr(o.Expr)
			if o.Desc {
				c.w.WriteString(` DESC`)
			}
		}
	}
	if sel.Limit != nil {
		c.w.WriteString(` LIMIT `)
		c.renderExpr(sel.Limit)
	}
}

func (c *sqlWriter) renderFrom(fi FromItem) {
	switch fi := fi.(type) {
	case *Alias:
		if fi.Table != nil {
			c.quoted(fi.Table.Name)
		} else {
			if fi.Lateral {
				c.w.WriteString(`LATERAL `)
			}
			c.w.WriteString(`(`)
			c.renderSelect(fi.Sel)
			c.w.WriteString(`)`)
		}
		c.w.WriteString(` AS `)
		c.quoted(fi.Name)

	case *Join:
		c.renderFrom(fi.Left)
		if fi.Outer {
			c.w.WriteString(` LEFT OUTER JOIN `)
		} else {
			c.w.WriteString(` JOIN `)
		}
		c.renderFrom(fi.Right)
		c.w.WriteString(` ON `)
		c.renderExpr(fi.On)
	}
}

func (c *sqlWriter) renderExpr(e Expr) {
	switch e := e.(type) {
	case *ColRef:
		c.quoted(e.Of.Name)
		c.w.WriteByte('.')
		c.quoted(e.Name)

	case *Lit:
		c.renderLit(e)

	case *FuncCall:
		c.w.WriteString(e.Name)
		c.w.WriteByte('(')
		if e.Star {
			c.w.WriteByte('*')
		}
		for i, a := range e.Args {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.renderExpr(a)
		}
		c.w.WriteByte(')')

	case *Binary:
		c.renderOperand(e.L, e.Op)
		c.w.WriteByte(' ')
		c.w.WriteString(e.Op)
		c.w.WriteByte(' ')
		c.renderOperand(e.R, e.Op)

	case *Unary:
		c.w.WriteString(e.Op)
		c.w.WriteString(` (`)
		c.renderExpr(e.X)
		c.w.WriteByte(')')

	case *Cast:
		c.w.WriteString(`CAST(`)
		c.renderExpr(e.X)
		c.w.WriteString(` AS `)
		c.w.WriteString(e.Type)
		c.w.WriteByte(')')

	case *Extract:
		c.w.WriteString(`EXTRACT(`)
		c.w.WriteString(e.Part)
		c.w.WriteString(` FROM `)
		c.renderExpr(e.X)
		c.w.WriteByte(')')

	case *JSONGet:
		if _, nested := e.X.(*JSONGet); nested {
			c.w.WriteByte('(')
			c.renderExpr(e.X)
			c.w.WriteByte(')')
		} else {
			c.renderExpr(e.X)
		}
		c.w.WriteString(` -> `)
		c.squoted(e.Key)
	}
}

// renderOperand parenthesizes a nested binary operand unless it chains
// the same operator.
func (c *sqlWriter) renderOperand(e Expr, op string) {
	if b, ok := e.(*Binary); ok && b.Op != op {
		c.w.WriteByte('(')
		c.renderExpr(e)
		c.w.WriteByte(')')
		return
	}
	c.renderExpr(e)
}

func (c *sqlWriter) renderLit(e *Lit) {
	switch e.Kind {
	case qcode.LitString:
		c.squoted(e.Value.(string))

	case qcode.LitInt:
		c.w.WriteString(strconv.FormatInt(e.Value.(int64), 10))

	case qcode.LitFloat:
		c.w.WriteString(strconv.FormatFloat(e.Value.(float64), 'g', -1, 64))

	case qcode.LitBool:
		if e.Value.(bool) {
			c.w.WriteString(`true`)
		} else {
			c.w.WriteString(`false`)
		}

	case qcode.LitDate:
		c.w.WriteString(`CAST(`)
		c.squoted(e.Value.(time.Time).Format("2006-01-02"))
		c.w.WriteString(` AS DATE)`)

	case qcode.LitJSON:
		b, _ := json.Marshal(e.Value)
		c.w.WriteString(`CAST(`)
		c.squoted(string(b))
		c.w.WriteString(` AS JSONB)`)
	}
}
