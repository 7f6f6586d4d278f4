package field

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

// A Type represents a field type.
type Type uint8

// List of field types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeTime
	TypeUUID
	TypeEnum
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeString:  "string",
	TypeTime:    "time.Time",
	TypeUUID:    "uuid",
	TypeEnum:    "enum",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Descriptor is an immutable column descriptor. It is built once
// through the fluent constructors (Int, String, Enum, ...) and never
// mutated after it is resolved into a model spec, which makes shared
// descriptors safe for concurrent callers.
type Descriptor struct {
	name       string
	column     string
	table      string
	typ        Type
	dbType     string
	schemaType map[string]string
	primary    bool
	increment  bool
	notNull    bool
	defValue   any
	defFunc    func() any
	hasDefault bool
	comment    string
	enumValues []string
	ordinal    bool
}

// Name returns the model attribute name.
func (d *Descriptor) Name() string { return d.name }

// ColumnName returns the database column name. It defaults to the
// field name. Implements sql.Column.
func (d *Descriptor) ColumnName() string {
	if d.column != "" {
		return d.column
	}
	return d.name
}

// TableName returns the table this descriptor was resolved into, or an
// empty string for an unbound descriptor. Implements sql.Column.
func (d *Descriptor) TableName() string { return d.table }

// Type returns the field type.
func (d *Descriptor) Type() Type { return d.typ }

// Primary reports whether the field is part of the primary key.
func (d *Descriptor) Primary() bool { return d.primary }

// Increment reports whether the column is auto-incremented.
func (d *Descriptor) Increment() bool { return d.increment }

// NotNull reports whether the column rejects NULL.
func (d *Descriptor) NotNull() bool { return d.notNull }

// Comment returns the column comment.
func (d *Descriptor) Comment() string { return d.comment }

// HasDefault reports whether a model-layer default was declared.
// It distinguishes "no default" from an explicit nil default.
func (d *Descriptor) HasDefault() bool { return d.hasDefault }

// Default returns the model-layer default value, invoking the default
// function if one was declared.
func (d *Descriptor) Default() any {
	if d.defFunc != nil {
		return d.defFunc()
	}
	return d.defValue
}

// Bind returns a copy of the descriptor resolved into the given table.
// The receiver is unchanged; spec building uses this to keep declared
// descriptors shareable between base and derived specs.
func (d *Descriptor) Bind(table string) *Descriptor {
	nd := *d
	nd.table = table
	return &nd
}

// DBType returns the database type string for the dialect: the
// per-dialect override if declared, then the explicit type string,
// then a derived default.
func (d *Descriptor) DBType(dia string) string {
	if t, ok := d.schemaType[dia]; ok {
		return t
	}
	if d.dbType != "" {
		return d.dbType
	}
	switch d.typ {
	case TypeBool:
		if dia == dialect.MySQL {
			return "tinyint(1)"
		}
		return "boolean"
	case TypeInt:
		if dia == dialect.Postgres {
			return "integer"
		}
		return "int"
	case TypeInt64:
		return "bigint"
	case TypeFloat64:
		if dia == dialect.Postgres {
			return "double precision"
		}
		return "double"
	case TypeString:
		return "varchar(255)"
	case TypeTime:
		if dia == dialect.Postgres {
			return "timestamp"
		}
		return "datetime"
	case TypeUUID:
		if dia == dialect.Postgres {
			return "uuid"
		}
		return "char(36)"
	case TypeEnum:
		if d.ordinal {
			if dia == dialect.Postgres {
				return "integer"
			}
			return "int"
		}
		return "varchar(64)"
	}
	return ""
}

// conversionError defers an enum lookup miss to render time, where the
// renderer reports it as a typed render failure.
type conversionError struct {
	field string
	value any
}

func (e conversionError) Error() string {
	return fmt.Sprintf("field %q: value %v is not a declared enum value", e.field, e.value)
}

// ToDB maps a model value to its database representation. For enum
// fields with ordinal mapping this is a lookup-table conversion; all
// other values pass through untouched.
func (d *Descriptor) ToDB(v any) any {
	if d.typ != TypeEnum || !d.ordinal {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return conversionError{field: d.name, value: v}
	}
	for i, ev := range d.enumValues {
		if ev == s {
			return i
		}
	}
	return conversionError{field: d.name, value: v}
}

// FromDB maps a database value back to its model representation:
// ordinal enums back to their declared value, driver byte slices to
// strings for textual fields.
func (d *Descriptor) FromDB(v any) (any, error) {
	switch {
	case d.typ == TypeEnum && d.ordinal:
		var i int64
		switch n := v.(type) {
		case int64:
			i = n
		case int:
			i = int64(n)
		default:
			return nil, conversionError{field: d.name, value: v}
		}
		if i < 0 || int(i) >= len(d.enumValues) {
			return nil, conversionError{field: d.name, value: v}
		}
		return d.enumValues[i], nil
	case d.typ == TypeString || d.typ == TypeEnum || d.typ == TypeUUID:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	}
	return v, nil
}

// EQ returns a `field = v` expression.
func (d *Descriptor) EQ(v any) *sql.Expr { return sql.EQ(d, d.ToDB(v)) }

// NEQ returns a `field <> v` expression.
func (d *Descriptor) NEQ(v any) *sql.Expr { return sql.NEQ(d, d.ToDB(v)) }

// GT returns a `field > v` expression.
func (d *Descriptor) GT(v any) *sql.Expr { return sql.GT(d, d.ToDB(v)) }

// GTE returns a `field >= v` expression.
func (d *Descriptor) GTE(v any) *sql.Expr { return sql.GTE(d, d.ToDB(v)) }

// LT returns a `field < v` expression.
func (d *Descriptor) LT(v any) *sql.Expr { return sql.LT(d, d.ToDB(v)) }

// LTE returns a `field <= v` expression.
func (d *Descriptor) LTE(v any) *sql.Expr { return sql.LTE(d, d.ToDB(v)) }

// In returns a `field IN (vs...)` expression.
func (d *Descriptor) In(vs ...any) *sql.Expr {
	dvs := make([]any, len(vs))
	for i := range vs {
		dvs[i] = d.ToDB(vs[i])
	}
	return sql.In(d, dvs...)
}

// Like returns a `field LIKE pattern` expression.
func (d *Descriptor) Like(pattern string) *sql.Expr { return sql.Like(d, pattern) }

// Add returns a `field + v` expression.
func (d *Descriptor) Add(v any) *sql.Expr { return sql.Add(d, v) }

// Sub returns a `field - v` expression.
func (d *Descriptor) Sub(v any) *sql.Expr { return sql.Sub(d, v) }

// Mul returns a `field * v` expression.
func (d *Descriptor) Mul(v any) *sql.Expr { return sql.Mul(d, v) }

// Div returns a `field / v` expression.
func (d *Descriptor) Div(v any) *sql.Expr { return sql.Div(d, v) }

// Case starts a CASE expression assigning value when cond holds,
// for use in grouped bulk updates.
func (d *Descriptor) Case(cond *sql.Expr, value any) *sql.CaseExpr {
	return sql.Case(cond, d.ToDB(value))
}

// Builder is the shared fluent constructor for descriptors.
type Builder struct {
	d Descriptor
}

// Int returns a new int field.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Int64 returns a new int64 field.
func Int64(name string) *Builder { return newBuilder(name, TypeInt64) }

// Bool returns a new bool field.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Float returns a new float64 field.
func Float(name string) *Builder { return newBuilder(name, TypeFloat64) }

// String returns a new string field.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Time returns a new time field.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// UUID returns a new uuid field.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// Enum returns a new enum field. Declare its values with Values.
func Enum(name string) *Builder { return newBuilder(name, TypeEnum) }

func newBuilder(name string, t Type) *Builder {
	return &Builder{d: Descriptor{name: name, typ: t}}
}

// Column overrides the database column name.
func (b *Builder) Column(name string) *Builder {
	b.d.column = name
	return b
}

// Primary marks the field as the primary key.
func (b *Builder) Primary() *Builder {
	b.d.primary = true
	return b
}

// AutoIncrement marks the column as auto-incremented.
func (b *Builder) AutoIncrement() *Builder {
	b.d.increment = true
	return b
}

// NotNull marks the column as NOT NULL.
func (b *Builder) NotNull() *Builder {
	b.d.notNull = true
	return b
}

// Default sets the model-layer default value. An explicit nil default
// is distinct from not declaring one.
func (b *Builder) Default(v any) *Builder {
	b.d.defValue = v
	b.d.hasDefault = true
	return b
}

// DefaultFunc sets a function producing the default value.
func (b *Builder) DefaultFunc(fn func() any) *Builder {
	b.d.defFunc = fn
	b.d.hasDefault = true
	return b
}

// DefaultUUID sets a generated UUID string as the default value.
func (b *Builder) DefaultUUID() *Builder {
	return b.DefaultFunc(func() any { return uuid.NewString() })
}

// DefaultNow sets the current time as the default value.
func (b *Builder) DefaultNow() *Builder {
	return b.DefaultFunc(func() any { return time.Now() })
}

// Comment sets the column comment.
func (b *Builder) Comment(c string) *Builder {
	b.d.comment = c
	return b
}

// DBType sets the database type string, e.g. "varchar(32)".
func (b *Builder) DBType(t string) *Builder {
	b.d.dbType = t
	return b
}

// SchemaType sets per-dialect database type overrides.
func (b *Builder) SchemaType(types map[string]string) *Builder {
	b.d.schemaType = types
	return b
}

// Values declares the enum values in order.
func (b *Builder) Values(vs ...string) *Builder {
	b.d.enumValues = vs
	return b
}

// Ordinal stores enum values by their declaration index instead of
// their string form.
func (b *Builder) Ordinal() *Builder {
	b.d.ordinal = true
	return b
}

// Descriptor returns the built descriptor.
func (b *Builder) Descriptor() *Descriptor {
	d := b.d
	return &d
}
