package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

func TestDescriptor(t *testing.T) {
	d := String("name").Column("user_name").NotNull().Comment("display name").Descriptor()
	require.Equal(t, "name", d.Name())
	require.Equal(t, "user_name", d.ColumnName())
	require.Empty(t, d.TableName())
	require.True(t, d.NotNull())
	require.Equal(t, "display name", d.Comment())

	bound := d.Bind("users")
	require.Equal(t, "users", bound.TableName())
	require.Empty(t, d.TableName(), "binding must not mutate the original")
}

func TestDBType(t *testing.T) {
	require.Equal(t, "varchar(255)", String("name").Descriptor().DBType(dialect.MySQL))
	require.Equal(t, "bigint", Int64("id").Descriptor().DBType(dialect.Postgres))
	require.Equal(t, "tinyint(1)", Bool("ok").Descriptor().DBType(dialect.MySQL))
	require.Equal(t, "boolean", Bool("ok").Descriptor().DBType(dialect.Postgres))
	require.Equal(t, "datetime", Time("created_at").Descriptor().DBType(dialect.MySQL))
	require.Equal(t, "timestamp", Time("created_at").Descriptor().DBType(dialect.Postgres))
	require.Equal(t, "char(36)", UUID("token").Descriptor().DBType(dialect.SQLite))
	require.Equal(t, "uuid", UUID("token").Descriptor().DBType(dialect.Postgres))

	// Explicit type wins over the derived default.
	d := String("bio").DBType("text").Descriptor()
	require.Equal(t, "text", d.DBType(dialect.MySQL))

	// Per-dialect override wins over both.
	d = String("bio").DBType("text").SchemaType(map[string]string{dialect.Postgres: "jsonb"}).Descriptor()
	require.Equal(t, "jsonb", d.DBType(dialect.Postgres))
	require.Equal(t, "text", d.DBType(dialect.MySQL))
}

func TestDefault(t *testing.T) {
	d := Int("age").Descriptor()
	require.False(t, d.HasDefault())

	d = Int("age").Default(0).Descriptor()
	require.True(t, d.HasDefault(), "an explicit zero default is still a default")
	require.Equal(t, 0, d.Default())

	d = String("token").DefaultUUID().Descriptor()
	require.True(t, d.HasDefault())
	first, ok := d.Default().(string)
	require.True(t, ok)
	second := d.Default().(string)
	assert.NotEqual(t, first, second)
}

func TestEnumOrdinal(t *testing.T) {
	d := Enum("state").Values("pending", "active", "done").Ordinal().Descriptor()
	require.Equal(t, 0, d.ToDB("pending"))
	require.Equal(t, 2, d.ToDB("done"))

	v, err := d.FromDB(int64(1))
	require.NoError(t, err)
	require.Equal(t, "active", v)

	_, err = d.FromDB(int64(7))
	require.Error(t, err)

	// Values outside the declared set defer their failure to render time.
	_, err = sql.RenderExpr(d.EQ("bogus"), dialect.MySQL, "", sql.NewMarker())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestEnumPlain(t *testing.T) {
	d := Enum("state").Values("pending", "active").Descriptor()
	require.Equal(t, "active", d.ToDB("active"), "non-ordinal enums store the string form")
	v, err := d.FromDB([]byte("pending"))
	require.NoError(t, err)
	require.Equal(t, "pending", v)
}

func TestExpressions(t *testing.T) {
	age := Int("age").Descriptor().Bind("users")
	m := sql.NewMarker()
	s, err := sql.RenderExpr(age.GTE(21), dialect.MySQL, "users", m)
	require.NoError(t, err)
	require.Equal(t, "`age` >= :var0", s)

	m = sql.NewMarker()
	s, err = sql.RenderExpr(age.In(1, 2, 3), dialect.MySQL, "users", m)
	require.NoError(t, err)
	require.Equal(t, "`age` IN (:var0, :var1, :var2)", s)

	// A field bound to another table is rejected at render time.
	_, err = sql.RenderExpr(age.EQ(1), dialect.MySQL, "pets", sql.NewMarker())
	require.Error(t, err)
}
