package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/norm/dialect"
)

// Column is a database column snapshot. The Type string is the
// dialect-level type (e.g. "varchar(255)"); two columns with the same
// name but different type strings diff into a type modification.
type Column struct {
	Name      string
	Type      string
	NotNull   bool
	Increment bool
	Comment   string
}

// Index is a table index snapshot. Indexes are compared by their
// normalized definition (ordered column list plus uniqueness), never
// by name, since live names may be generated.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// normKey returns the normalized identity of the index definition.
func (i *Index) normKey() string {
	k := "key"
	if i.Unique {
		k = "uniq"
	}
	return k + ":" + strings.Join(i.Columns, ",")
}

// displayName returns the index name, deriving a deterministic one
// from the table and column list when none was declared.
func (i *Index) displayName(table string) string {
	if i.Name != "" {
		return i.Name
	}
	suffix := "_idx"
	if i.Unique {
		suffix = "_key"
	}
	return table + "_" + strings.Join(i.Columns, "_") + suffix
}

// Table is a schema snapshot, either declared (derived from field
// descriptors) or live (inspected from the database catalog).
type Table struct {
	Name       string
	Columns    []*Column
	PrimaryKey *Column
	Indexes    []*Index
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func quote(d, ident string) string {
	if d == dialect.Postgres {
		return `"` + ident + `"`
	}
	return "`" + ident + "`"
}

// columnDDL renders the column definition fragment for the dialect.
func columnDDL(d string, c *Column, pk bool) string {
	var b strings.Builder
	b.WriteString(quote(d, c.Name) + " " + c.Type)
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Increment {
		switch d {
		case dialect.MySQL:
			b.WriteString(" AUTO_INCREMENT")
		case dialect.Postgres:
			b.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
		case dialect.SQLite:
			// Implied by INTEGER PRIMARY KEY.
			if pk {
				b.WriteString(" PRIMARY KEY AUTOINCREMENT")
			}
		}
	}
	if c.Comment != "" && d == dialect.MySQL {
		b.WriteString(" COMMENT '" + strings.ReplaceAll(c.Comment, "'", "''") + "'")
	}
	return b.String()
}

// createTableDDL renders the CREATE TABLE statement followed by the
// CREATE INDEX statements for the declared indexes.
func createTableDDL(d string, t *Table) ([]string, error) {
	if t.PrimaryKey == nil {
		return nil, fmt.Errorf("schema: table %q has no primary key", t.Name)
	}
	var defs []string
	inlinePK := d == dialect.SQLite && t.PrimaryKey.Increment
	for _, c := range t.Columns {
		defs = append(defs, columnDDL(d, c, c == t.PrimaryKey))
	}
	if !inlinePK {
		defs = append(defs, "PRIMARY KEY ("+quote(d, t.PrimaryKey.Name)+")")
	}
	stmts := []string{
		"CREATE TABLE " + quote(d, t.Name) + " (" + strings.Join(defs, ", ") + ")",
	}
	for _, idx := range t.Indexes {
		stmts = append(stmts, createIndexDDL(d, t.Name, idx))
	}
	return stmts, nil
}

func createIndexDDL(d, table string, i *Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if i.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX " + quote(d, i.displayName(table)) + " ON " + quote(d, table) + " (")
	for n, c := range i.Columns {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(d, c))
	}
	b.WriteString(")")
	return b.String()
}

func dropIndexDDL(d, table string, i *Index) string {
	if d == dialect.MySQL {
		return "ALTER TABLE " + quote(d, table) + " DROP INDEX " + quote(d, i.displayName(table))
	}
	return "DROP INDEX " + quote(d, i.displayName(table))
}
