package psql

import (
	"fmt"
	"strings"

	"github.com/combiql/combiql/core/internal/qcode"
	"github.com/combiql/combiql/core/internal/sdata"
)

// aliasAlloc hands out deterministic relation aliases: tables get
// name_1, name_2, ..., subselects anon_1, anon_2, ...
type aliasAlloc struct {
	counts map[string]int
	anon   int
}

func newAliasAlloc() *aliasAlloc {
	return &aliasAlloc{counts: make(map[string]int)}
}

func (a *aliasAlloc) table(t *sdata.DBTable) *Alias {
	a.counts[t.Name]++
	return &Alias{Name: fmt.Sprintf("%s_%d", t.Name, a.counts[t.Name]), Table: t}
}

func (a *aliasAlloc) subselect(sel *SelectStmt) *Alias {
	a.anon++
	return &Alias{Name: fmt.Sprintf("anon_%d", a.anon), Sel: sel}
}

// joinKey dedups navigation joins: two navigations through the same FK
// from the same row source share one join.
type joinKey struct {
	at     *Alias
	target string
	by     string
}

// From is the frame the emitter threads through lowering. It records
// the FROM tree built so far, the alias of the current row, pending
// WHERE/ORDER/LIMIT clauses, the join dedup cache, pending group-by
// columns, the correlated outer alias and the namespace of hoisted
// compute columns visible at the current row.
type From struct {
	alloc     *aliasAlloc
	current   FromItem
	at        *Alias
	existing  map[joinKey]*Alias
	where     Expr
	limit     Expr
	order     []OrderItem
	groupBy   []SelectCol
	correlate *Alias
	ns        map[string]bool
}

func newFrom(alloc *aliasAlloc) *From {
	return &From{alloc: alloc}
}

// clone is a shallow copy; existing and ns are shared until extended.
func (f *From) clone() *From {
	c := *f
	return &c
}

func (f *From) withAt(at *Alias) *From {
	c := f.clone()
	c.at = at
	return c
}

// makeTable starts a fresh frame over a base table.
func (f *From) makeTable(t *sdata.DBTable) *From {
	at := f.alloc.table(t)
	return &From{alloc: f.alloc, current: at, at: at}
}

// makeSelect starts a fresh frame over an aliased subselect. The
// namespace carries over: the subselect's columns re-export any hoisted
// computes.
func (f *From) makeSelect(sel *SelectStmt, correlate *Alias, ns map[string]bool) *From {
	at := f.alloc.subselect(sel)
	at.Correlate = correlate
	return &From{alloc: f.alloc, current: at, at: at, correlate: correlate, ns: ns}
}

// seal collapses the frame with its pending clauses into an aliased
// subselect and starts over from it.
func (f *From) seal() *From {
	return f.makeSelect(f.toSelect(nil), f.correlate, f.ns)
}

// joinAt joins a table at the current row on the given column pairs,
// reusing an existing join for the same key. A navigation join over a
// pending LIMIT seals the frame first so the limit applies before the
// join multiplies rows.
func (f *From) joinAt(target *sdata.DBTable, by [][2]string, outer, navigation bool) (*From, *Alias) {
	self := f
	if self.limit != nil && navigation {
		self = self.seal()
	}

	key := joinKey{at: self.at, target: target.Name, by: byString(by)}
	if at, ok := self.existing[key]; ok {
		return self.withAt(at), at
	}

	at := self.alloc.table(target)
	cond := joinCond(self.at, at, by)

	c := self.clone()
	c.current = &Join{Left: self.current, Right: at, On: cond, Outer: outer}
	c.at = at
	c.existing = make(map[joinKey]*Alias, len(self.existing)+1)
	for k, v := range self.existing {
		c.existing[k] = v
	}
	c.existing[key] = at
	return c, at
}

// joinLateral attaches a subselect with a lateral left outer join on a
// true condition; the subselect correlates on the current row.
func (f *From) joinLateral(sel *SelectStmt) (*From, *Alias) {
	at := f.alloc.subselect(sel)
	at.Lateral = true
	at.Correlate = f.at

	c := f.clone()
	c.current = &Join{Left: f.current, Right: at, On: &Lit{Kind: qcode.LitBool, Value: true}, Outer: true}
	c.at = at
	return c, at
}

// joinSelect joins an uncorrelated subselect. With no current relation
// the subselect becomes the frame; otherwise it joins on true.
func (f *From) joinSelect(sel *SelectStmt) (*From, *Alias) {
	at := f.alloc.subselect(sel)
	if f.current == nil {
		c := f.clone()
		c.current = at
		c.at = at
		return c, at
	}
	c := f.clone()
	c.current = &Join{Left: f.current, Right: at, On: &Lit{Kind: qcode.LitBool, Value: true}}
	c.at = at
	return c, at
}

// joinSelectAt attaches a subselect with an outer join keyed on shared
// column names; used to hang group aggregates off the group kernel.
func (f *From) joinSelectAt(sel *SelectStmt, by [][2]string, outer bool) (*From, *Alias) {
	at := f.alloc.subselect(sel)
	var cond Expr
	if len(by) == 0 {
		cond = &Lit{Kind: qcode.LitBool, Value: true}
	} else {
		cond = joinCond(f.at, at, by)
	}
	c := f.clone()
	c.current = &Join{Left: f.current, Right: at, On: cond, Outer: outer}
	c.at = at
	return c, at
}

func (f *From) addWhere(e Expr) *From {
	c := f.clone()
	if c.where != nil {
		c.where = &Binary{Op: "AND", L: c.where, R: e}
	} else {
		c.where = e
	}
	return c
}

func (f *From) addLimit(e Expr) *From {
	c := f.clone()
	c.limit = e
	return c
}

func (f *From) addOrder(order []OrderItem) *From {
	c := f.clone()
	c.order = order
	return c
}

func (f *From) withGroupBy(cols []SelectCol) *From {
	c := f.clone()
	c.groupBy = cols
	return c
}

// withCompute registers hoisted compute names in the namespace.
func (f *From) withCompute(names []string) *From {
	c := f.clone()
	ns := make(map[string]bool, len(c.ns)+len(names))
	for k := range c.ns {
		ns[k] = true
	}
	for _, n := range names {
		ns[n] = true
	}
	c.ns = ns
	return c
}

func (f *From) hasCompute(name string) bool {
	return f.ns[name]
}

// toSelect materializes the frame into a SELECT. The value expression
// is projected last under the label "value"; with no value the current
// row expands as alias.* so navigation can continue on the subselect.
func (f *From) toSelect(value Expr, extra ...SelectCol) *SelectStmt {
	var cols []SelectCol
	cols = append(cols, f.groupBy...)
	cols = append(cols, extra...)
	if value != nil {
		cols = append(cols, SelectCol{Expr: value, Label: "value"})
	} else if f.at != nil {
		cols = append(cols, SelectCol{Star: f.at})
	}
	return &SelectStmt{
		Cols:    cols,
		From:    f.current,
		Where:   f.where,
		OrderBy: f.order,
		Limit:   f.limit,
	}
}

func joinCond(left, right *Alias, by [][2]string) Expr {
	var cond Expr
	for _, pair := range by {
		eq := &Binary{
			Op: "=",
			L:  &ColRef{Of: left, Name: pair[0]},
			R:  &ColRef{Of: right, Name: pair[1]},
		}
		if cond == nil {
			cond = eq
		} else {
			cond = &Binary{Op: "AND", L: cond, R: eq}
		}
	}
	if cond == nil {
		cond = &Lit{Kind: qcode.LitBool, Value: true}
	}
	return cond
}

func byString(by [][2]string) string {
	parts := make([]string, len(by))
	for i, p := range by {
		parts[i] = p[0] + "=" + p[1]
	}
	return strings.Join(parts, ",")
}
