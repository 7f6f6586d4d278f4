package main

import (
	"strings"

	// Database drivers registered for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/norm/dialect"
)

// dialectFromURL derives the dialect from the DATABASE_URL scheme.
func dialectFromURL(url string) string {
	switch {
	case strings.HasPrefix(url, "mysql://"):
		return dialect.MySQL
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return dialect.Postgres
	case strings.HasPrefix(url, "sqlite://"), strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"):
		return dialect.SQLite
	}
	return ""
}

// sourceFromURL maps the URL to the form the registered driver expects:
// lib/pq takes the URL as-is, the mysql and sqlite drivers take a DSN
// without the scheme.
func sourceFromURL(d, url string) string {
	switch d {
	case dialect.MySQL:
		return strings.TrimPrefix(url, "mysql://")
	case dialect.SQLite:
		return strings.TrimPrefix(url, "sqlite://")
	}
	return url
}
