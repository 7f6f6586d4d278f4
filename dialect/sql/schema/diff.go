package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/norm/dialect"
)

// UnsupportedError reports a schema change the target dialect cannot
// express as plain DDL. It is returned instead of best-effort output.
type UnsupportedError struct {
	Dialect string
	Op      string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("schema: %s is not supported on %s", e.Op, e.Dialect)
}

// A Change is one reversible DDL operation bridging the declared and
// the live schema. Up renders the forward statements, Down the exact
// inverse, both from data captured at diff time.
type Change interface {
	Up(dialect string) ([]string, error)
	Down(dialect string) ([]string, error)
}

// CreateTable creates the declared table with all columns and indexes.
type CreateTable struct {
	T *Table
}

// Up renders the CREATE TABLE and CREATE INDEX statements.
func (c *CreateTable) Up(d string) ([]string, error) {
	return createTableDDL(d, c.T)
}

// Down drops the created table.
func (c *CreateTable) Down(d string) ([]string, error) {
	return []string{"DROP TABLE " + quote(d, c.T.Name)}, nil
}

// AddColumn adds a declared column missing from the live table.
type AddColumn struct {
	Table string
	C     *Column
}

func (c *AddColumn) Up(d string) ([]string, error) {
	return []string{"ALTER TABLE " + quote(d, c.Table) + " ADD COLUMN " + columnDDL(d, c.C, false)}, nil
}

func (c *AddColumn) Down(d string) ([]string, error) {
	return []string{"ALTER TABLE " + quote(d, c.Table) + " DROP COLUMN " + quote(d, c.C.Name)}, nil
}

// DropColumn drops a live column absent from the declared table.
// It carries the full live column so the down script can restore it.
type DropColumn struct {
	Table string
	C     *Column
}

func (c *DropColumn) Up(d string) ([]string, error) {
	return []string{"ALTER TABLE " + quote(d, c.Table) + " DROP COLUMN " + quote(d, c.C.Name)}, nil
}

func (c *DropColumn) Down(d string) ([]string, error) {
	return []string{"ALTER TABLE " + quote(d, c.Table) + " ADD COLUMN " + columnDDL(d, c.C, false)}, nil
}

// ModifyColumn changes a column type from the live FromType to the
// declared column type.
type ModifyColumn struct {
	Table    string
	C        *Column
	FromType string
}

func (c *ModifyColumn) Up(d string) ([]string, error) {
	return modifyDDL(d, c.Table, c.C.Name, c.C.Type)
}

func (c *ModifyColumn) Down(d string) ([]string, error) {
	return modifyDDL(d, c.Table, c.C.Name, c.FromType)
}

func modifyDDL(d, table, column, typ string) ([]string, error) {
	switch d {
	case dialect.MySQL:
		return []string{"ALTER TABLE " + quote(d, table) + " MODIFY " + quote(d, column) + " " + typ}, nil
	case dialect.Postgres:
		return []string{"ALTER TABLE " + quote(d, table) + " ALTER COLUMN " + quote(d, column) + " TYPE " + typ}, nil
	default:
		return nil, &UnsupportedError{Dialect: d, Op: "modifying a column type"}
	}
}

// AddIndex creates a declared index missing from the live table.
type AddIndex struct {
	Table string
	I     *Index
}

func (c *AddIndex) Up(d string) ([]string, error) {
	return []string{createIndexDDL(d, c.Table, c.I)}, nil
}

func (c *AddIndex) Down(d string) ([]string, error) {
	return []string{dropIndexDDL(d, c.Table, c.I)}, nil
}

// DropIndex drops a live index absent from the declared table.
type DropIndex struct {
	Table string
	I     *Index
}

func (c *DropIndex) Up(d string) ([]string, error) {
	return []string{dropIndexDDL(d, c.Table, c.I)}, nil
}

func (c *DropIndex) Down(d string) ([]string, error) {
	return []string{createIndexDDL(d, c.Table, c.I)}, nil
}

// Diff computes the ordered change sequence transforming the live
// table into the declared one. A nil live table yields a single
// CreateTable. Changes are emitted in a fixed order: column drops,
// column adds, column type modifications, index drops, index adds,
// so intermediate states never reference missing columns.
//
// Diffing a schema against itself yields an empty sequence.
func Diff(declared, live *Table) ([]Change, error) {
	if declared == nil {
		return nil, fmt.Errorf("schema: diff without a declared table")
	}
	if live == nil {
		return []Change{&CreateTable{T: declared}}, nil
	}
	if declared.Name != live.Name {
		return nil, fmt.Errorf("schema: diff of different tables %q and %q", declared.Name, live.Name)
	}
	var (
		drops, adds, mods []Change
	)
	for _, lc := range live.Columns {
		if declared.Column(lc.Name) == nil {
			drops = append(drops, &DropColumn{Table: live.Name, C: lc})
		}
	}
	for _, dc := range declared.Columns {
		lc := live.Column(dc.Name)
		switch {
		case lc == nil:
			adds = append(adds, &AddColumn{Table: declared.Name, C: dc})
		case !typeEqual(dc.Type, lc.Type):
			mods = append(mods, &ModifyColumn{Table: declared.Name, C: dc, FromType: lc.Type})
		}
	}
	changes := append(drops, adds...)
	changes = append(changes, mods...)

	liveIdx := make(map[string]*Index, len(live.Indexes))
	for _, i := range live.Indexes {
		liveIdx[i.normKey()] = i
	}
	declIdx := make(map[string]*Index, len(declared.Indexes))
	for _, i := range declared.Indexes {
		declIdx[i.normKey()] = i
	}
	for _, i := range live.Indexes {
		if _, ok := declIdx[i.normKey()]; !ok {
			changes = append(changes, &DropIndex{Table: live.Name, I: i})
		}
	}
	for _, i := range declared.Indexes {
		if _, ok := liveIdx[i.normKey()]; !ok {
			changes = append(changes, &AddIndex{Table: declared.Name, I: i})
		}
	}
	return changes, nil
}

func typeEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Plan is an ordered change sequence ready to render or apply.
type Plan struct {
	Changes []Change
}

// UpSQL renders the forward script statements in change order.
func (p *Plan) UpSQL(d string) ([]string, error) {
	var stmts []string
	for _, c := range p.Changes {
		s, err := c.Up(d)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s...)
	}
	return stmts, nil
}

// DownSQL renders the inverse script: each change inverted, applied in
// reverse change order.
func (p *Plan) DownSQL(d string) ([]string, error) {
	var stmts []string
	for i := len(p.Changes) - 1; i >= 0; i-- {
		s, err := p.Changes[i].Down(d)
		if err != nil {
			return nil, err
		}
		// Invert multi-statement changes back-to-front as well.
		for j := len(s) - 1; j >= 0; j-- {
			stmts = append(stmts, s[j])
		}
	}
	return stmts, nil
}
