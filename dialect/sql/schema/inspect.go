package schema

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

var identRe = regexp.MustCompile("`([^`]+)`")

var validIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// InspectTable snapshots the live definition of the table from the
// database catalog. It returns (nil, nil) when the table does not exist.
func InspectTable(ctx context.Context, conn dialect.ExecQuerier, d, table string) (*Table, error) {
	if !validIdentRe.MatchString(table) {
		return nil, fmt.Errorf("schema: invalid table name %q", table)
	}
	switch d {
	case dialect.MySQL:
		return inspectMySQL(ctx, conn, table)
	case dialect.Postgres:
		return inspectPostgres(ctx, conn, table)
	case dialect.SQLite:
		return inspectSQLite(ctx, conn, table)
	default:
		return nil, fmt.Errorf("schema: unsupported dialect %q", d)
	}
}

// InspectTables snapshots multiple tables concurrently. Missing tables
// map to a nil entry.
func InspectTables(ctx context.Context, conn dialect.ExecQuerier, d string, tables []string) (map[string]*Table, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]*Table, len(tables))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range tables {
		name := name
		g.Go(func() error {
			t, err := InspectTable(ctx, conn, d, name)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// inspectMySQL parses the SHOW CREATE TABLE output line by line:
// column definitions, then PRIMARY KEY, then KEY / UNIQUE KEY entries.
func inspectMySQL(ctx context.Context, conn dialect.ExecQuerier, table string) (*Table, error) {
	var rows sql.Rows
	if err := conn.Query(ctx, "SHOW CREATE TABLE `"+table+"`", []any{}, &rows); err != nil {
		var merr *mysql.MySQLError
		if errors.As(err, &merr) && merr.Number == 1146 {
			return nil, nil
		}
		if strings.Contains(err.Error(), "doesn't exist") {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var name, create string
	if err := rows.Scan(&name, &create); err != nil {
		return nil, err
	}
	t := &Table{Name: table}
	lines := strings.Split(create, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("schema: unexpected SHOW CREATE TABLE output for %q", table)
	}
	for _, line := range lines[1 : len(lines)-1] {
		line = strings.TrimSuffix(strings.TrimSpace(line), ",")
		idents := identRe.FindAllStringSubmatch(line, -1)
		if len(idents) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(line, "PRIMARY KEY"):
			t.PrimaryKey = t.Column(idents[0][1])
		case strings.HasPrefix(line, "KEY"), strings.HasPrefix(line, "UNIQUE KEY"):
			idx := &Index{Name: idents[0][1], Unique: strings.HasPrefix(line, "UNIQUE")}
			for _, m := range idents[1:] {
				idx.Columns = append(idx.Columns, m[1])
			}
			t.Indexes = append(t.Indexes, idx)
		case strings.HasPrefix(line, "CONSTRAINT"):
			// Foreign keys are outside the managed surface.
		default:
			parts := strings.Fields(line)
			if len(parts) < 2 {
				continue
			}
			t.Columns = append(t.Columns, &Column{
				Name:      idents[0][1],
				Type:      parts[1],
				NotNull:   strings.Contains(line, "NOT NULL"),
				Increment: strings.Contains(line, "AUTO_INCREMENT"),
			})
		}
	}
	return t, rows.Err()
}

func inspectPostgres(ctx context.Context, conn dialect.ExecQuerier, table string) (*Table, error) {
	var rows sql.Rows
	err := conn.Query(ctx, `SELECT column_name, data_type, character_maximum_length, is_nullable = 'NO', is_identity = 'YES'
FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, []any{table}, &rows)
	if err != nil {
		return nil, err
	}
	t := &Table{Name: table}
	for rows.Next() {
		var (
			c      Column
			length sql.NullInt64
		)
		if err := rows.Scan(&c.Name, &c.Type, &length, &c.NotNull, &c.Increment); err != nil {
			rows.Close()
			return nil, err
		}
		c.Type = normalizePostgresType(c.Type, length)
		t.Columns = append(t.Columns, &c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(t.Columns) == 0 {
		return nil, nil
	}
	// Primary key column.
	err = conn.Query(ctx, `SELECT a.attname FROM pg_index ix
JOIN pg_class c ON c.oid = ix.indrelid
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(ix.indkey)
WHERE c.relname = $1 AND ix.indisprimary`, []any{table}, &rows)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		t.PrimaryKey = t.Column(name)
	}
	rows.Close()
	// Secondary indexes.
	err = conn.Query(ctx, `SELECT i.relname, ix.indisunique,
array_to_string(array_agg(a.attname ORDER BY array_position(ix.indkey, a.attnum)), ',')
FROM pg_class c
JOIN pg_index ix ON c.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(ix.indkey)
WHERE c.relname = $1 AND NOT ix.indisprimary
GROUP BY i.relname, ix.indisunique`, []any{table}, &rows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idx  Index
			cols string
		)
		if err := rows.Scan(&idx.Name, &idx.Unique, &cols); err != nil {
			return nil, err
		}
		idx.Columns = strings.Split(cols, ",")
		t.Indexes = append(t.Indexes, &idx)
	}
	return t, rows.Err()
}

// normalizePostgresType folds information_schema type names back to
// the short forms used in declarations.
func normalizePostgresType(typ string, length sql.NullInt64) string {
	switch typ {
	case "character varying":
		if length.Valid {
			return fmt.Sprintf("varchar(%d)", length.Int64)
		}
		return "varchar"
	case "character":
		if length.Valid {
			return fmt.Sprintf("char(%d)", length.Int64)
		}
		return "char"
	case "timestamp without time zone":
		return "timestamp"
	case "timestamp with time zone":
		return "timestamptz"
	default:
		return typ
	}
}

func inspectSQLite(ctx context.Context, conn dialect.ExecQuerier, table string) (*Table, error) {
	var rows sql.Rows
	err := conn.Query(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}, &rows)
	if err != nil {
		return nil, err
	}
	var create sql.NullString
	if rows.Next() {
		if err := rows.Scan(&create); err != nil {
			rows.Close()
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if !create.Valid {
		return nil, nil
	}
	t := &Table{Name: table}
	if err := conn.Query(ctx, "PRAGMA table_info("+table+")", []any{}, &rows); err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull bool
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		c.NotNull = notNull
		t.Columns = append(t.Columns, &c)
		if pk > 0 {
			t.PrimaryKey = t.Columns[len(t.Columns)-1]
			t.PrimaryKey.Increment = strings.Contains(create.String, "AUTOINCREMENT")
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if err := conn.Query(ctx, "PRAGMA index_list("+table+")", []any{}, &rows); err != nil {
		return nil, err
	}
	type indexInfo struct {
		name   string
		unique bool
	}
	var list []indexInfo
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  bool
			origin  string
			partial bool
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		// Skip the implicit primary-key index.
		if origin == "pk" {
			continue
		}
		list = append(list, indexInfo{name: name, unique: unique})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for _, info := range list {
		if !validIdentRe.MatchString(info.name) {
			continue
		}
		if err := conn.Query(ctx, "PRAGMA index_info("+info.name+")", []any{}, &rows); err != nil {
			return nil, err
		}
		idx := &Index{Name: info.name, Unique: info.unique}
		for rows.Next() {
			var (
				seqno, cid int
				col        string
			)
			if err := rows.Scan(&seqno, &cid, &col); err != nil {
				rows.Close()
				return nil, err
			}
			idx.Columns = append(idx.Columns, col)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		t.Indexes = append(t.Indexes, idx)
	}
	return t, nil
}
