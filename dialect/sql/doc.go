// Package sql provides the SQL statement builders and the
// database/sql driver implementation used by norm.
//
// Statements are assembled from three pieces that stay strictly
// separated until execution:
//
//   - Expression trees (Expr, CaseExpr): immutable pure data built from
//     column references and literal values.
//   - The Marker: a per-statement registry assigning placeholder names
//     (var0, var1, ...) to literal values while a tree is rendered.
//   - Builders (Selector, Inserter, Updater, Deleter): fluent,
//     copy-on-write accumulators that render to a Statement.
//
// A rendered Statement carries placeholder text plus the bound values;
// the two are compiled together into the positional form of the target
// dialect and submitted atomically. No user-controlled value is ever
// interpolated into statement text.
package sql
