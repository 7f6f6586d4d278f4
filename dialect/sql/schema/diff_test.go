package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/norm/dialect"
)

func usersTable() *Table {
	id := &Column{Name: "id", Type: "bigint", NotNull: true, Increment: true}
	return &Table{
		Name: "users",
		Columns: []*Column{
			id,
			{Name: "name", Type: "varchar(255)", NotNull: true},
			{Name: "age", Type: "int"},
		},
		PrimaryKey: id,
		Indexes: []*Index{
			{Unique: true, Columns: []string{"name"}},
		},
	}
}

func TestDiffCreateTable(t *testing.T) {
	changes, err := Diff(usersTable(), nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	ct, ok := changes[0].(*CreateTable)
	require.True(t, ok)

	up, err := ct.Up(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{
		"CREATE TABLE `users` (`id` bigint NOT NULL AUTO_INCREMENT, `name` varchar(255) NOT NULL, `age` int, PRIMARY KEY (`id`))",
		"CREATE UNIQUE INDEX `users_name_key` ON `users` (`name`)",
	}, up)

	down, err := ct.Down(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{"DROP TABLE `users`"}, down)
}

func TestDiffIdempotent(t *testing.T) {
	declared := usersTable()
	live := usersTable()
	changes, err := Diff(declared, live)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestDiffOrdering(t *testing.T) {
	declared := usersTable()
	// Live drifts in every direction: a missing column (name), an extra
	// column (legacy), a changed type (age), a missing index and an
	// extra index.
	live := usersTable()
	live.Columns = []*Column{
		live.Columns[0],
		{Name: "age", Type: "bigint"},
		{Name: "legacy", Type: "text"},
	}
	live.Indexes = []*Index{{Columns: []string{"legacy"}}}

	changes, err := Diff(declared, live)
	require.NoError(t, err)
	require.Len(t, changes, 5)
	_, ok := changes[0].(*DropColumn)
	require.True(t, ok, "column drops come first")
	add, ok := changes[1].(*AddColumn)
	require.True(t, ok, "column adds follow drops")
	require.Equal(t, "name", add.C.Name)
	mod, ok := changes[2].(*ModifyColumn)
	require.True(t, ok, "type modifications follow adds")
	require.Equal(t, "age", mod.C.Name)
	require.Equal(t, "bigint", mod.FromType)
	_, ok = changes[3].(*DropIndex)
	require.True(t, ok, "index drops precede index adds")
	_, ok = changes[4].(*AddIndex)
	require.True(t, ok)
}

func TestDiffIndexIdentity(t *testing.T) {
	declared := usersTable()
	live := usersTable()
	// Same definition under a generated name is the same index.
	live.Indexes = []*Index{{Name: "sqlite_autoindex_users_1", Unique: true, Columns: []string{"name"}}}
	changes, err := Diff(declared, live)
	require.NoError(t, err)
	require.Empty(t, changes)

	// Same columns with different uniqueness is a different index.
	live.Indexes = []*Index{{Name: "users_name_idx", Columns: []string{"name"}}}
	changes, err = Diff(declared, live)
	require.NoError(t, err)
	require.Len(t, changes, 2)
}

func TestModifyColumn(t *testing.T) {
	mc := &ModifyColumn{Table: "users", C: &Column{Name: "data", Type: "varchar(255)"}, FromType: "text"}
	up, err := mc.Up(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE `users` MODIFY `data` varchar(255)"}, up)
	down, err := mc.Down(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE `users` MODIFY `data` text"}, down)

	up, err = mc.Up(dialect.Postgres)
	require.NoError(t, err)
	require.Equal(t, []string{`ALTER TABLE "users" ALTER COLUMN "data" TYPE varchar(255)`}, up)

	_, err = mc.Up(dialect.SQLite)
	require.Error(t, err)
	var uerr *UnsupportedError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, dialect.SQLite, uerr.Dialect)
}

func TestPlanDownReversesUp(t *testing.T) {
	plan := &Plan{Changes: []Change{
		&AddColumn{Table: "users", C: &Column{Name: "nickname", Type: "varchar(255)"}},
		&AddIndex{Table: "users", I: &Index{Columns: []string{"nickname"}}},
	}}
	up, err := plan.UpSQL(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{
		"ALTER TABLE `users` ADD COLUMN `nickname` varchar(255)",
		"CREATE INDEX `users_nickname_idx` ON `users` (`nickname`)",
	}, up)
	down, err := plan.DownSQL(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{
		"ALTER TABLE `users` DROP INDEX `users_nickname_idx`",
		"ALTER TABLE `users` DROP COLUMN `nickname`",
	}, down)
}

func TestDropColumnReversible(t *testing.T) {
	dc := &DropColumn{Table: "users", C: &Column{Name: "legacy", Type: "text", NotNull: true}}
	up, err := dc.Up(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE `users` DROP COLUMN `legacy`"}, up)
	down, err := dc.Down(dialect.MySQL)
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE `users` ADD COLUMN `legacy` text NOT NULL"}, down)
}

func TestCreateTableDialects(t *testing.T) {
	table := usersTable()
	stmts, err := createTableDDL(dialect.Postgres, table)
	require.NoError(t, err)
	require.Equal(t, `CREATE TABLE "users" ("id" bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY, "name" varchar(255) NOT NULL, "age" int, PRIMARY KEY ("id"))`, stmts[0])

	stmts, err = createTableDDL(dialect.SQLite, table)
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE `users` (`id` bigint NOT NULL PRIMARY KEY AUTOINCREMENT, `name` varchar(255) NOT NULL, `age` int)", stmts[0])
}
