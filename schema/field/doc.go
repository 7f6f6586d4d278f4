// Package field provides the column descriptors used to declare model
// schemas.
//
// Descriptors are created through fluent constructors:
//
//	field.Int("id").Primary().AutoIncrement()
//	field.String("name").Column("user_name").NotNull().Default("")
//	field.Enum("state").Values("pending", "active", "done").Ordinal()
//
// A descriptor is immutable after construction. Comparison and
// arithmetic methods (EQ, GT, Add, ...) build dialect/sql expression
// trees without mutating the descriptor, so declared fields can be
// shared by concurrent queries.
package field
