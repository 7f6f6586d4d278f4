package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/norm/dialect"
)

// DialectBuilder is the entry point for building statements for a
// specific dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect returns a builder bound to the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select returns a Selector for the given columns.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return &Selector{dialect: d.dialect, columns: columns}
}

// Insert returns an Inserter for the given table.
func (d *DialectBuilder) Insert(table string) *Inserter {
	return &Inserter{dialect: d.dialect, table: table}
}

// Update returns an Updater for the given table.
func (d *DialectBuilder) Update(table string) *Updater {
	return &Updater{dialect: d.dialect, table: table}
}

// Delete returns a Deleter for the given table.
func (d *DialectBuilder) Delete(table string) *Deleter {
	return &Deleter{dialect: d.dialect, table: table}
}

func quote(d, ident string) string {
	if d == dialect.Postgres {
		return `"` + ident + `"`
	}
	return "`" + ident + "`"
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// quoteColumn quotes plain identifiers and leaves raw selections
// such as COUNT(*) untouched.
func quoteColumn(d, s string) string {
	if isIdent(s) {
		return quote(d, s)
	}
	return s
}

// Locking clause values. Setting one after the other replaces the
// previous one; the last call wins.
const (
	lockForUpdate = "FOR UPDATE"
	lockForShare  = "FOR SHARE"
)

type orderTerm struct {
	column string
	desc   bool
}

type indexHint struct {
	kind    string // USE, FORCE or IGNORE
	indexes []string
}

// Selector is the fluent where-chain builder for SELECT statements.
// Every call returns a new Selector reflecting the accumulated state;
// the receiver is never mutated, so intermediate builders can be
// shared and extended concurrently.
type Selector struct {
	dialect string
	table   string
	columns []string
	pred    *Expr
	orders  []orderTerm
	limit   *int
	offset  *int
	lock    string
	hints   []indexHint
}

func (s Selector) clone() *Selector {
	s.orders = append([]orderTerm(nil), s.orders...)
	s.hints = append([]indexHint(nil), s.hints...)
	return &s
}

// From sets the table to select from.
func (s *Selector) From(table string) *Selector {
	ns := s.clone()
	ns.table = table
	return ns
}

// Table returns the table the selector reads from.
func (s *Selector) Table() string { return s.table }

// Predicate returns the accumulated condition, or nil. Update and
// delete wrappers reuse it to target the same rows.
func (s *Selector) Predicate() *Expr { return s.pred }

// Where ANDs the predicate with any previously accumulated condition.
// Combination across calls is left-associative.
func (s *Selector) Where(p *Expr) *Selector {
	ns := s.clone()
	if ns.pred != nil {
		ns.pred = ns.pred.And(p)
	} else {
		ns.pred = p
	}
	return ns
}

// OrWhere ORs the predicate with any previously accumulated condition.
func (s *Selector) OrWhere(p *Expr) *Selector {
	ns := s.clone()
	if ns.pred != nil {
		ns.pred = ns.pred.Or(p)
	} else {
		ns.pred = p
	}
	return ns
}

// OrderBy appends an ascending order term.
func (s *Selector) OrderBy(column string) *Selector {
	ns := s.clone()
	ns.orders = append(ns.orders, orderTerm{column: column})
	return ns
}

// OrderByDesc appends a descending order term.
func (s *Selector) OrderByDesc(column string) *Selector {
	ns := s.clone()
	ns.orders = append(ns.orders, orderTerm{column: column, desc: true})
	return ns
}

// Limit limits the number of returned rows.
func (s *Selector) Limit(n int) *Selector {
	ns := s.clone()
	ns.limit = &n
	return ns
}

// Offset skips the first n rows.
func (s *Selector) Offset(n int) *Selector {
	ns := s.clone()
	ns.offset = &n
	return ns
}

// ForUpdate requests a FOR UPDATE locking clause. It replaces a
// previously requested FOR SHARE; the two are mutually exclusive
// per statement and the last call wins.
func (s *Selector) ForUpdate() *Selector {
	ns := s.clone()
	ns.lock = lockForUpdate
	return ns
}

// ForShare requests a FOR SHARE locking clause, replacing a previously
// requested FOR UPDATE.
func (s *Selector) ForShare() *Selector {
	ns := s.clone()
	ns.lock = lockForShare
	return ns
}

// UseIndex adds a USE INDEX hint. Hints render on MySQL only.
func (s *Selector) UseIndex(indexes ...string) *Selector {
	return s.hint("USE", indexes)
}

// ForceIndex adds a FORCE INDEX hint.
func (s *Selector) ForceIndex(indexes ...string) *Selector {
	return s.hint("FORCE", indexes)
}

// IgnoreIndex adds an IGNORE INDEX hint.
func (s *Selector) IgnoreIndex(indexes ...string) *Selector {
	return s.hint("IGNORE", indexes)
}

func (s *Selector) hint(kind string, indexes []string) *Selector {
	ns := s.clone()
	ns.hints = append(ns.hints, indexHint{kind: kind, indexes: indexes})
	return ns
}

// Render produces the statement text and its bound values.
// Clause order is fixed: hints, conditions, order, limit/offset, locking.
func (s *Selector) Render() (*Statement, error) {
	if s.table == "" {
		return nil, renderErrorf("select without a table")
	}
	m := NewMarker()
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(s.columns) == 0 {
		b.WriteString("*")
	}
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteColumn(s.dialect, c))
	}
	b.WriteString(" FROM " + quote(s.dialect, s.table))
	if s.dialect == dialect.MySQL {
		for _, h := range s.hints {
			b.WriteString(" " + h.kind + " INDEX (")
			for i, idx := range h.indexes {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(quote(s.dialect, idx))
			}
			b.WriteString(")")
		}
	}
	if s.pred != nil {
		cond, err := RenderExpr(s.pred, s.dialect, s.table, m)
		if err != nil {
			return nil, err
		}
		b.WriteString(" WHERE " + cond)
	}
	if len(s.orders) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.orders {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(s.dialect, o.column))
			if o.desc {
				b.WriteString(" DESC")
			}
		}
	}
	switch {
	case s.limit != nil:
		b.WriteString(" LIMIT " + strconv.Itoa(*s.limit))
	case s.offset != nil && s.dialect == dialect.MySQL:
		// MySQL has no bare OFFSET; the manual's idiom for "all
		// remaining rows" is the maximal row count.
		b.WriteString(" LIMIT 18446744073709551615")
	case s.offset != nil && s.dialect == dialect.SQLite:
		// SQLite requires a LIMIT before OFFSET; -1 means unlimited.
		b.WriteString(" LIMIT -1")
	}
	if s.offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.offset))
	}
	// SQLite locks the whole database per transaction; row-locking
	// clauses are not part of its grammar.
	if s.lock != "" && s.dialect != dialect.SQLite {
		b.WriteString(" " + s.lock)
	}
	return &Statement{Query: b.String(), Vars: m.Vars()}, nil
}

// Inserter builds single-row and multi-row INSERT statements,
// optionally with an upsert clause.
type Inserter struct {
	dialect        string
	table          string
	columns        []string
	rows           [][]any
	returning      []string
	conflictTarget []string
	conflictSet    []string
	upsert         bool
}

// Columns sets the inserted column list.
func (i *Inserter) Columns(columns ...string) *Inserter {
	ni := *i
	ni.columns = columns
	return &ni
}

// Values appends one row of values. Call repeatedly for a multi-row insert.
func (i *Inserter) Values(values ...any) *Inserter {
	ni := *i
	ni.rows = append(append([][]any(nil), i.rows...), values)
	return &ni
}

// Returning appends a RETURNING clause (Postgres and SQLite).
func (i *Inserter) Returning(columns ...string) *Inserter {
	ni := *i
	ni.returning = columns
	return &ni
}

// OnConflict turns the insert into an upsert updating the given columns
// with the incoming row values when an existing row conflicts.
func (i *Inserter) OnConflict(update ...string) *Inserter {
	ni := *i
	ni.upsert = true
	ni.conflictSet = update
	return &ni
}

// ConflictTarget sets the conflict target columns. Required for
// dialects without a native duplicate-key clause (Postgres, SQLite).
func (i *Inserter) ConflictTarget(columns ...string) *Inserter {
	ni := *i
	ni.conflictTarget = columns
	return &ni
}

// Render produces the statement text and its bound values.
func (i *Inserter) Render() (*Statement, error) {
	if i.table == "" {
		return nil, renderErrorf("insert without a table")
	}
	if len(i.columns) == 0 || len(i.rows) == 0 {
		return nil, renderErrorf("insert into %q without columns or rows", i.table)
	}
	m := NewMarker()
	var b strings.Builder
	b.WriteString("INSERT INTO " + quote(i.dialect, i.table) + " (")
	for n, c := range i.columns {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(i.dialect, c))
	}
	b.WriteString(") VALUES ")
	for n, row := range i.rows {
		if len(row) != len(i.columns) {
			return nil, renderErrorf("insert into %q: row %d has %d values for %d columns", i.table, n, len(row), len(i.columns))
		}
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(":" + m.Bind(v))
		}
		b.WriteString(")")
	}
	if i.upsert {
		if err := i.renderConflict(&b); err != nil {
			return nil, err
		}
	}
	if len(i.returning) > 0 {
		if i.dialect == dialect.MySQL {
			return nil, renderErrorf("RETURNING is not supported on mysql")
		}
		b.WriteString(" RETURNING ")
		for n, c := range i.returning {
			if n > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteColumn(i.dialect, c))
		}
	}
	return &Statement{Query: b.String(), Vars: m.Vars()}, nil
}

func (i *Inserter) renderConflict(b *strings.Builder) error {
	update := i.conflictSet
	if len(update) == 0 {
		return renderErrorf("upsert into %q without update columns", i.table)
	}
	switch i.dialect {
	case dialect.MySQL:
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		for n, c := range update {
			if n > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(i.dialect, c) + " = VALUES(" + quote(i.dialect, c) + ")")
		}
	default:
		// Postgres and SQLite require an explicit conflict target.
		if len(i.conflictTarget) == 0 {
			return renderErrorf("upsert into %q requires a conflict target on %s", i.table, i.dialect)
		}
		b.WriteString(" ON CONFLICT (")
		for n, c := range i.conflictTarget {
			if n > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(i.dialect, c))
		}
		b.WriteString(") DO UPDATE SET ")
		for n, c := range update {
			if n > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(i.dialect, c) + " = EXCLUDED." + quote(i.dialect, c))
		}
	}
	return nil
}

type assignment struct {
	column string
	value  any // literal, *Expr or *CaseExpr
}

// Updater builds UPDATE statements, including the grouped CASE form
// used for bulk updates.
type Updater struct {
	dialect string
	table   string
	sets    []assignment
	pred    *Expr
}

// Set assigns a literal value to the column.
func (u *Updater) Set(column string, v any) *Updater {
	nu := *u
	nu.sets = append(append([]assignment(nil), u.sets...), assignment{column: column, value: v})
	return &nu
}

// SetExpr assigns a rendered expression, such as a CASE tree, to the column.
func (u *Updater) SetExpr(column string, x any) *Updater {
	return u.Set(column, x)
}

// Where ANDs the predicate with any previously set condition.
func (u *Updater) Where(p *Expr) *Updater {
	nu := *u
	if nu.pred != nil {
		nu.pred = nu.pred.And(p)
	} else {
		nu.pred = p
	}
	return &nu
}

// Render produces the statement text and its bound values.
func (u *Updater) Render() (*Statement, error) {
	if u.table == "" {
		return nil, renderErrorf("update without a table")
	}
	if len(u.sets) == 0 {
		return nil, renderErrorf("update %q without assignments", u.table)
	}
	m := NewMarker()
	r := &exprRenderer{dialect: u.dialect, table: u.table, marker: m}
	var b strings.Builder
	b.WriteString("UPDATE " + quote(u.dialect, u.table) + " SET ")
	for n, a := range u.sets {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(u.dialect, a.column) + " = ")
		if err := r.render(a.value, &b); err != nil {
			return nil, err
		}
	}
	if u.pred != nil {
		cond, err := RenderExpr(u.pred, u.dialect, u.table, m)
		if err != nil {
			return nil, err
		}
		b.WriteString(" WHERE " + cond)
	}
	return &Statement{Query: b.String(), Vars: m.Vars()}, nil
}

// Deleter builds DELETE statements.
type Deleter struct {
	dialect string
	table   string
	pred    *Expr
}

// Where ANDs the predicate with any previously set condition.
func (d *Deleter) Where(p *Expr) *Deleter {
	nd := *d
	if nd.pred != nil {
		nd.pred = nd.pred.And(p)
	} else {
		nd.pred = p
	}
	return &nd
}

// Render produces the statement text and its bound values.
func (d *Deleter) Render() (*Statement, error) {
	if d.table == "" {
		return nil, renderErrorf("delete without a table")
	}
	m := NewMarker()
	var b strings.Builder
	b.WriteString("DELETE FROM " + quote(d.dialect, d.table))
	if d.pred != nil {
		cond, err := RenderExpr(d.pred, d.dialect, d.table, m)
		if err != nil {
			return nil, err
		}
		b.WriteString(" WHERE " + cond)
	}
	return &Statement{Query: b.String(), Vars: m.Vars()}, nil
}
