package schema

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

func escape(query string) string {
	return regexp.QuoteMeta(query)
}

const showCreateUsers = "CREATE TABLE `users` (\n" +
	"  `id` bigint NOT NULL AUTO_INCREMENT,\n" +
	"  `name` varchar(255) NOT NULL,\n" +
	"  `age` int DEFAULT NULL,\n" +
	"  PRIMARY KEY (`id`),\n" +
	"  UNIQUE KEY `users_name_key` (`name`),\n" +
	"  KEY `users_age_name_idx` (`age`,`name`)\n" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"

func TestInspectMySQL(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	drv := sql.OpenDB(dialect.MySQL, db)
	mk.ExpectQuery(escape("SHOW CREATE TABLE `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("users", showCreateUsers))

	table, err := InspectTable(context.Background(), drv, dialect.MySQL, "users")
	require.NoError(t, err)
	require.NotNil(t, table)
	require.Equal(t, "users", table.Name)
	require.Len(t, table.Columns, 3)

	id := table.Column("id")
	require.NotNil(t, id)
	require.Equal(t, "bigint", id.Type)
	require.True(t, id.NotNull)
	require.True(t, id.Increment)
	require.Same(t, id, table.PrimaryKey)

	age := table.Column("age")
	require.Equal(t, "int", age.Type)
	require.False(t, age.NotNull)

	require.Len(t, table.Indexes, 2)
	require.Equal(t, "users_name_key", table.Indexes[0].Name)
	require.True(t, table.Indexes[0].Unique)
	require.Equal(t, []string{"name"}, table.Indexes[0].Columns)
	require.Equal(t, []string{"age", "name"}, table.Indexes[1].Columns)
	require.False(t, table.Indexes[1].Unique)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestInspectMySQLMissingTable(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	drv := sql.OpenDB(dialect.MySQL, db)
	mk.ExpectQuery(escape("SHOW CREATE TABLE `ghosts`")).
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'db.ghosts' doesn't exist"})

	table, err := InspectTable(context.Background(), drv, dialect.MySQL, "ghosts")
	require.NoError(t, err)
	require.Nil(t, table)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestInspectPostgres(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	drv := sql.OpenDB(dialect.Postgres, db)
	mk.ExpectQuery("SELECT column_name, data_type,.+").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "character_maximum_length", "not_null", "is_identity"}).
			AddRow("id", "bigint", nil, true, true).
			AddRow("name", "character varying", 255, true, false).
			AddRow("created_at", "timestamp without time zone", nil, false, false))
	mk.ExpectQuery("SELECT a.attname FROM pg_index ix.+").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"attname"}).AddRow("id"))
	mk.ExpectQuery("SELECT i.relname, ix.indisunique,.+").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "indisunique", "columns"}).
			AddRow("users_name_key", true, "name"))

	table, err := InspectTable(context.Background(), drv, dialect.Postgres, "users")
	require.NoError(t, err)
	require.NotNil(t, table)
	require.Equal(t, "varchar(255)", table.Column("name").Type)
	require.Equal(t, "timestamp", table.Column("created_at").Type)
	require.Same(t, table.Column("id"), table.PrimaryKey)
	require.Len(t, table.Indexes, 1)
	require.True(t, table.Indexes[0].Unique)
	require.Equal(t, []string{"name"}, table.Indexes[0].Columns)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestInspectPostgresMissingTable(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	drv := sql.OpenDB(dialect.Postgres, db)
	mk.ExpectQuery("SELECT column_name, data_type,.+").
		WithArgs("ghosts").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "character_maximum_length", "not_null", "is_identity"}))

	table, err := InspectTable(context.Background(), drv, dialect.Postgres, "ghosts")
	require.NoError(t, err)
	require.Nil(t, table)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestInspectInvalidName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	drv := sql.OpenDB(dialect.MySQL, db)
	_, err = InspectTable(context.Background(), drv, dialect.MySQL, "users; DROP TABLE users")
	require.Error(t, err)
}
