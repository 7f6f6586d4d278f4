// Package index provides the index and unique-key declaration surface
// for model schemas.
package index

// Descriptor describes a table index. Entries reference either a
// declared field (anything with a ColumnName method) or a raw column
// name string; resolution to column names happens when the model spec
// is built.
type Descriptor struct {
	Entries []any
	Unique  bool
}

// Builder accumulates an index declaration.
type Builder struct {
	desc Descriptor
}

// Fields starts an index over the given fields or raw column names.
func Fields(entries ...any) *Builder {
	return &Builder{desc: Descriptor{Entries: entries}}
}

// Unique marks the index as a unique key.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Descriptor returns the built descriptor.
func (b *Builder) Descriptor() *Descriptor {
	d := b.desc
	return &d
}
