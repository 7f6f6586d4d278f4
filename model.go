package norm

import (
	"context"
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/norm/dialect/sql/schema"
	"github.com/syssam/norm/schema/field"
	"github.com/syssam/norm/schema/index"
)

// Model is the declaration and value surface a repository operates on.
// Values and SetValues use field names (not column names) as keys;
// column mapping and enum conversion are applied by the repository.
type Model interface {
	// Spec returns the model declaration. The returned spec must be
	// the same for every instance of the model.
	Spec() *Spec
	// Values returns the current field values by field name. Fields
	// without a value are simply absent from the map.
	Values() map[string]any
	// SetValues assigns fetched or generated values by field name.
	SetValues(values map[string]any) error
}

// Lifecycle hooks. A model implements the ones it needs; the
// repository detects them by type assertion and skips the rest.
type (
	// Validator validates a model before Create and Update.
	Validator interface {
		Validate() error
	}
	// BeforeCreator runs before the INSERT of a Create or Save.
	BeforeCreator interface {
		BeforeCreate(ctx context.Context) error
	}
	// AfterCreator runs after a successful Create, with generated
	// values already assigned.
	AfterCreator interface {
		AfterCreate(ctx context.Context) error
	}
	// BeforeUpdater runs before the UPDATE of an Update or Save.
	BeforeUpdater interface {
		BeforeUpdate(ctx context.Context) error
	}
	// AfterUpdater runs after a successful Update.
	AfterUpdater interface {
		AfterUpdate(ctx context.Context) error
	}
	// BeforeDeleter runs before a Delete.
	BeforeDeleter interface {
		BeforeDelete(ctx context.Context) error
	}
	// AfterDeleter runs after a successful Delete.
	AfterDeleter interface {
		AfterDelete(ctx context.Context) error
	}
)

// Spec is a resolved model declaration: the table name, the bound
// field descriptors and the declared indexes. Specs are immutable
// after NewSpec returns and safe to share between goroutines.
type Spec struct {
	name     string
	table    string
	abstract bool
	fields   []*field.Descriptor
	byName   map[string]*field.Descriptor
	pk       *field.Descriptor
	indexes  []specIndex
}

type specIndex struct {
	columns []string
	unique  bool
}

// SpecOption configures a Spec under construction.
type SpecOption func(*specConfig)

type specConfig struct {
	table    string
	abstract bool
	fields   []*field.Descriptor
	indexes  []*index.Descriptor
}

// Table overrides the derived table name.
func Table(name string) SpecOption {
	return func(c *specConfig) { c.table = name }
}

// Fields declares the model fields in column order.
func Fields(ds ...*field.Descriptor) SpecOption {
	return func(c *specConfig) { c.fields = append(c.fields, ds...) }
}

// Indexes declares secondary indexes and unique keys.
func Indexes(ds ...*index.Descriptor) SpecOption {
	return func(c *specConfig) { c.indexes = append(c.indexes, ds...) }
}

// Abstract marks the spec as a base declaration. Abstract specs only
// exist to be extended; repositories reject them.
func Abstract() SpecOption {
	return func(c *specConfig) { c.abstract = true }
}

// NewSpec resolves a model declaration. The table name defaults to the
// underscored plural of the model name. A declaration without a
// primary field gets a surrogate `id` bigint auto-increment key
// prepended.
func NewSpec(name string, opts ...SpecOption) (*Spec, error) {
	var c specConfig
	for _, opt := range opts {
		opt(&c)
	}
	table := c.table
	if table == "" {
		table = inflect.Underscore(inflect.Pluralize(name))
	}
	s := &Spec{
		name:     name,
		table:    table,
		abstract: c.abstract,
		byName:   make(map[string]*field.Descriptor, len(c.fields)+1),
	}
	fields := c.fields
	if !hasPrimary(fields) {
		surrogate := field.Int64("id").Primary().AutoIncrement().NotNull().Descriptor()
		fields = append([]*field.Descriptor{surrogate}, fields...)
	}
	for _, d := range fields {
		if _, ok := s.byName[d.Name()]; ok {
			return nil, NewValidationError(name, fmt.Errorf("duplicate field %q", d.Name()))
		}
		bound := d.Bind(table)
		s.fields = append(s.fields, bound)
		s.byName[bound.Name()] = bound
		if bound.Primary() {
			if s.pk != nil {
				return nil, NewValidationError(name, fmt.Errorf("multiple primary fields %q and %q", s.pk.Name(), bound.Name()))
			}
			s.pk = bound
		}
	}
	for _, d := range c.indexes {
		idx, err := s.resolveIndex(d)
		if err != nil {
			return nil, err
		}
		s.indexes = append(s.indexes, idx)
	}
	return s, nil
}

// MustSpec is like NewSpec but panics on error. It is intended for
// package-level model declarations.
func MustSpec(name string, opts ...SpecOption) *Spec {
	s, err := NewSpec(name, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func hasPrimary(fields []*field.Descriptor) bool {
	for _, d := range fields {
		if d.Primary() {
			return true
		}
	}
	return false
}

// resolveIndex maps index entries (descriptors or raw column names) to
// column names, validating membership.
func (s *Spec) resolveIndex(d *index.Descriptor) (specIndex, error) {
	idx := specIndex{unique: d.Unique}
	for _, e := range d.Entries {
		switch e := e.(type) {
		case string:
			// Field names resolve to their column; anything else is
			// taken as a raw column name.
			if f, ok := s.byName[e]; ok {
				idx.columns = append(idx.columns, f.ColumnName())
				continue
			}
			idx.columns = append(idx.columns, e)
		case interface{ ColumnName() string }:
			idx.columns = append(idx.columns, e.ColumnName())
		default:
			return specIndex{}, NewValidationError(s.name, fmt.Errorf("index entry %T is neither a field nor a name", e))
		}
	}
	if len(idx.columns) == 0 {
		return specIndex{}, NewValidationError(s.name, fmt.Errorf("index without columns"))
	}
	return idx, nil
}

// Extend derives a new spec from a base declaration, model inheritance
// expressed as composition: the derived spec keeps the base fields in
// order and fields given here override base fields with the same name
// or append after them.
func Extend(base *Spec, name string, opts ...SpecOption) (*Spec, error) {
	var c specConfig
	for _, opt := range opts {
		opt(&c)
	}
	merged := make([]*field.Descriptor, 0, len(base.fields)+len(c.fields))
	override := make(map[string]*field.Descriptor, len(c.fields))
	for _, d := range c.fields {
		override[d.Name()] = d
	}
	for _, d := range base.fields {
		if o, ok := override[d.Name()]; ok {
			merged = append(merged, o)
			delete(override, d.Name())
			continue
		}
		merged = append(merged, d)
	}
	for _, d := range c.fields {
		if _, ok := override[d.Name()]; ok {
			merged = append(merged, d)
		}
	}
	derived := []SpecOption{Fields(merged...)}
	if c.table != "" {
		derived = append(derived, Table(c.table))
	}
	if c.abstract {
		derived = append(derived, Abstract())
	}
	baseIndexes := make([]*index.Descriptor, 0, len(base.indexes))
	for _, ix := range base.indexes {
		cols := make([]any, len(ix.columns))
		for i, col := range ix.columns {
			cols[i] = col
		}
		b := index.Fields(cols...)
		if ix.unique {
			b = b.Unique()
		}
		baseIndexes = append(baseIndexes, b.Descriptor())
	}
	c.indexes = append(baseIndexes, c.indexes...)
	derived = append(derived, rawIndexes(c.indexes))
	return NewSpec(name, derived...)
}

// rawIndexes installs already-collected index descriptors. Base index
// columns are raw column names at this point, which resolveIndex only
// accepts for declared fields, so they are passed as column entries.
func rawIndexes(ds []*index.Descriptor) SpecOption {
	return func(c *specConfig) { c.indexes = ds }
}

// Name returns the model name.
func (s *Spec) Name() string { return s.name }

// TableName returns the database table name.
func (s *Spec) TableName() string { return s.table }

// IsAbstract reports whether the spec is a base declaration.
func (s *Spec) IsAbstract() bool { return s.abstract }

// Fields returns the bound field descriptors in column order.
func (s *Spec) Fields() []*field.Descriptor { return s.fields }

// Field returns the field with the given name, or nil.
func (s *Spec) Field(name string) *field.Descriptor { return s.byName[name] }

// PK returns the primary field.
func (s *Spec) PK() *field.Descriptor { return s.pk }

// Columns returns the database column names in declaration order.
func (s *Spec) Columns() []string {
	cols := make([]string, len(s.fields))
	for i, d := range s.fields {
		cols[i] = d.ColumnName()
	}
	return cols
}

// Table renders the declared schema snapshot for the dialect, ready
// for diffing against the live table.
func (s *Spec) Table(dialect string) *schema.Table {
	t := &schema.Table{Name: s.table}
	for _, d := range s.fields {
		c := &schema.Column{
			Name:      d.ColumnName(),
			Type:      d.DBType(dialect),
			NotNull:   d.NotNull(),
			Increment: d.Increment(),
			Comment:   d.Comment(),
		}
		t.Columns = append(t.Columns, c)
		if d.Primary() {
			t.PrimaryKey = c
		}
	}
	for _, ix := range s.indexes {
		t.Indexes = append(t.Indexes, &schema.Index{
			Unique:  ix.unique,
			Columns: ix.columns,
		})
	}
	return t
}
