// Package dialect provides the database dialect abstraction for norm.
//
// It defines the interfaces and constants used for database-specific
// operations, allowing norm to target PostgreSQL, MySQL and SQLite
// through one driver surface.
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// The Driver interface is the execution boundary of the engine. Statement
// text always carries placeholders only; values travel in args:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
// The Tx interface wraps Exec and Query in a transaction scope:
//
//	type Tx interface {
//	    ExecQuerier
//	    Commit() error
//	    Rollback() error
//	}
//
// # Usage
//
// Opening a database connection:
//
//	import (
//	    "github.com/syssam/norm/dialect"
//	    "github.com/syssam/norm/dialect/sql"
//	)
//
//	db, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Sub-packages
//
//   - dialect/sql: SQL statement builders and the database/sql driver implementation
//   - dialect/sql/schema: schema inspection, diffing and migration
package dialect
