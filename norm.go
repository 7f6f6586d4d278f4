// Package norm is a query-construction and schema-synchronization
// engine. Models declare their fields once through schema/field
// descriptors; the declaration drives safe statement construction
// (dialect/sql), CRUD and bulk execution (Repo), and reversible
// schema migrations (dialect/sql/schema).
//
// Statement text and bound values always travel together: conditions
// are expression trees rendered with named placeholders and compiled
// to the positional form of the connected dialect right before
// execution. No user value is ever interpolated into SQL text.
package norm
