package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syssam/norm/dialect"
)

// MigrateOption configures a Migrate.
type MigrateOption func(*Migrate)

// WithDropColumn allows the migration to drop columns that exist in
// the database but are absent from the declared schema. Disabled by
// default.
func WithDropColumn(b bool) MigrateOption {
	return func(m *Migrate) {
		m.dropColumn = b
	}
}

// WithDropIndex allows the migration to drop indexes that exist in
// the database but are absent from the declared schema. Disabled by
// default.
func WithDropIndex(b bool) MigrateOption {
	return func(m *Migrate) {
		m.dropIndex = b
	}
}

// Migrate reconciles declared tables with the connected database.
type Migrate struct {
	drv        dialect.Driver
	dropColumn bool
	dropIndex  bool
}

// NewMigrate creates a Migrate for the given driver.
func NewMigrate(drv dialect.Driver, opts ...MigrateOption) *Migrate {
	m := &Migrate{drv: drv}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Plan inspects the live definition of each declared table and diffs
// it against the declaration. Destructive changes are filtered out
// unless enabled through options. The resulting changes keep the
// per-table ordering produced by Diff; tables are planned in the
// order given.
func (m *Migrate) Plan(ctx context.Context, tables ...*Table) (*Plan, error) {
	p := &Plan{}
	for _, t := range tables {
		live, err := InspectTable(ctx, m.drv, m.drv.Dialect(), t.Name)
		if err != nil {
			return nil, fmt.Errorf("schema: inspecting %q: %w", t.Name, err)
		}
		changes, err := Diff(t, live)
		if err != nil {
			return nil, err
		}
		for _, c := range changes {
			switch c.(type) {
			case *DropColumn:
				if !m.dropColumn {
					continue
				}
			case *DropIndex:
				if !m.dropIndex {
					continue
				}
			}
			p.Changes = append(p.Changes, c)
		}
	}
	return p, nil
}

// Create plans the migration for the given tables and applies the
// forward statements inside a single transaction. SQLite applies
// statements on the bare connection since its DDL is not fully
// transactional across drivers.
func (m *Migrate) Create(ctx context.Context, tables ...*Table) error {
	plan, err := m.Plan(ctx, tables...)
	if err != nil {
		return err
	}
	stmts, err := plan.UpSQL(m.drv.Dialect())
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return nil
	}
	tx, err := m.drv.Tx(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				err = fmt.Errorf("%w: rolling back: %v", err, rerr)
			}
			return fmt.Errorf("schema: executing %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// WriteFiles writes the plan as a timestamped script pair in dir:
// <stamp>_up.sql with the forward statements and <stamp>_down.sql
// with the inverse. It returns the two file paths. An empty plan
// writes nothing and returns empty paths.
func (m *Migrate) WriteFiles(dir string, plan *Plan) (up, down string, err error) {
	d := m.drv.Dialect()
	upStmts, err := plan.UpSQL(d)
	if err != nil {
		return "", "", err
	}
	downStmts, err := plan.DownSQL(d)
	if err != nil {
		return "", "", err
	}
	if len(upStmts) == 0 {
		return "", "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	stamp := time.Now().Format("2006_01_02_15_04_05")
	up = filepath.Join(dir, stamp+"_up.sql")
	down = filepath.Join(dir, stamp+"_down.sql")
	if err := os.WriteFile(up, scriptBytes(upStmts), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(down, scriptBytes(downStmts), 0o644); err != nil {
		return "", "", err
	}
	return up, down, nil
}

func scriptBytes(stmts []string) []byte {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString(";\n")
	}
	return []byte(b.String())
}
