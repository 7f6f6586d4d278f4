package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

const ledgerTable = "norm_migrations"

// ensureLedger creates the applied-migrations ledger when missing.
// The DDL sticks to types all three dialects accept.
func ensureLedger(ctx context.Context, drv *sql.Driver) error {
	return drv.Exec(ctx, "CREATE TABLE IF NOT EXISTS "+ledgerTable+
		" (filename VARCHAR(255) NOT NULL PRIMARY KEY, applied_at TIMESTAMP NOT NULL)", []any{}, nil)
}

// appliedMigrations returns the recorded script names, oldest first.
func appliedMigrations(ctx context.Context, drv *sql.Driver) ([]string, error) {
	var rows sql.Rows
	if err := drv.Query(ctx, "SELECT filename FROM "+ledgerTable+" ORDER BY filename", []any{}, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// upScripts lists the *_up.sql files in the migration directory,
// oldest first.
func upScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "_up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// pendingScripts filters upScripts down to the ones not yet recorded.
func pendingScripts(dir string, applied []string) ([]string, error) {
	all, err := upScripts(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(applied))
	for _, name := range applied {
		seen[name] = true
	}
	var pending []string
	for _, name := range all {
		if !seen[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// applyScript runs every statement of the script and the ledger write
// in one transaction. record is the INSERT or DELETE keeping the
// ledger in sync with the script's effect.
func applyScript(ctx context.Context, drv *sql.Driver, path, record string, recordArgs []any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := drv.Tx(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(data)) {
		if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				return fmt.Errorf("%w: rolling back: %v", err, rerr)
			}
			return fmt.Errorf("applying %s: %w", filepath.Base(path), err)
		}
	}
	if err := tx.Exec(ctx, record, recordArgs, nil); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

func splitStatements(script string) []string {
	var stmts []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// downName maps an up script name to its down counterpart.
func downName(up string) string {
	return strings.TrimSuffix(up, "_up.sql") + "_down.sql"
}

// placeholder renders the single positional placeholder of the
// connected dialect for the ledger statements.
func placeholder(drv *sql.Driver) string {
	if drv.Dialect() == dialect.Postgres {
		return "$1"
	}
	return "?"
}

// ledgerValues renders the two-placeholder VALUES clause of the
// ledger insert for the connected dialect.
func ledgerValues(drv *sql.Driver) string {
	if drv.Dialect() == dialect.Postgres {
		return "($1, $2)"
	}
	return "(?, ?)"
}
