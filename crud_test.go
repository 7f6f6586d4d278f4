package norm

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

func escape(query string) string {
	return regexp.QuoteMeta(query)
}

func mockRepo(t *testing.T, d string) (*Repo[*user], sqlmock.Sqlmock) {
	t.Helper()
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := NewRepo(sql.OpenDB(d, db), newUser)
	require.NoError(t, err)
	return repo, mk
}

func TestRepoCreate(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?)")).
		WithArgs("a8m", 1, 30).
		WillReturnResult(sqlmock.NewResult(8, 1))

	u := &user{name: "a8m", state: "active", age: 30}
	require.NoError(t, repo.Create(context.Background(), u))
	require.Equal(t, int64(8), u.id, "the generated key is assigned back")
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoCreateDefaults(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?)")).
		WithArgs("a8m", 0, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u := &user{name: "a8m"}
	require.NoError(t, repo.Create(context.Background(), u))
	require.Equal(t, "pending", u.state, "the declared default is applied to the model")
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoCreatePostgres(t *testing.T) {
	repo, mk := mockRepo(t, dialect.Postgres)
	mk.ExpectQuery(escape(`INSERT INTO "users" ("name", "state", "age") VALUES ($1, $2, $3) RETURNING "id"`)).
		WithArgs("a8m", 1, 30).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

	u := &user{name: "a8m", state: "active", age: 30}
	require.NoError(t, repo.Create(context.Background(), u))
	require.Equal(t, int64(8), u.id)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoUpdate(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("UPDATE `users` SET `name` = ?, `state` = ?, `age` = ? WHERE `id` = ?")).
		WithArgs("nati", 0, 28, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &user{id: 8, name: "nati", state: "pending", age: 28}
	changed, err := repo.Update(context.Background(), u)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, mk.ExpectationsWereMet())

	// Updating without a key is rejected before touching the database.
	_, err = repo.Update(context.Background(), &user{name: "nobody"})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestRepoDelete(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("DELETE FROM `users` WHERE `id` = ?")).
		WithArgs(8).
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := repo.Delete(context.Background(), &user{id: 8, name: "nati"})
	require.NoError(t, err)
	require.True(t, removed)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoSave(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)

	// A keyless model is inserted.
	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?)")).
		WithArgs("a8m", 1, 30).
		WillReturnResult(sqlmock.NewResult(8, 1))
	u := &user{name: "a8m", state: "active", age: 30}
	require.NoError(t, repo.Save(context.Background(), u))
	require.Equal(t, int64(8), u.id)

	// A keyed model is updated in place.
	mk.ExpectExec(escape("UPDATE `users` SET `name` = ?, `state` = ?, `age` = ? WHERE `id` = ?")).
		WithArgs("a8m", 1, 31, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	u.age = 31
	require.NoError(t, repo.Save(context.Background(), u))
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoSaveForceInsert(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)

	// ForceInsert inserts the explicit key instead of updating.
	mk.ExpectExec(escape("INSERT INTO `users` (`id`, `name`, `state`, `age`) VALUES (?, ?, ?, ?)")).
		WithArgs(7, "a8m", 1, 30).
		WillReturnResult(sqlmock.NewResult(7, 1))
	u := &user{id: 7, name: "a8m", state: "active", age: 30}
	require.NoError(t, repo.Save(context.Background(), u, ForceInsert()))
	require.Equal(t, int64(7), u.id, "the explicit key is kept")

	// Forcing an insert without a key is rejected before touching
	// the database.
	err := repo.Save(context.Background(), &user{name: "nobody"}, ForceInsert())
	require.Error(t, err)
	require.True(t, IsValidationError(err))
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoRefetch(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectQuery(escape("SELECT `id`, `name`, `state`, `age` FROM `users` WHERE `id` = ? LIMIT 1")).
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "age"}).
			AddRow(8, "a8m", 1, 31))

	u := &user{id: 8}
	require.NoError(t, repo.Refetch(context.Background(), u))
	require.Equal(t, "a8m", u.name)
	require.Equal(t, "active", u.state, "ordinal enums map back to their value")
	require.Equal(t, 31, u.age)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoBulkCreate(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?), (?, ?, ?)")).
		WithArgs("a8m", 1, 30, "nati", 0, 28).
		WillReturnResult(sqlmock.NewResult(5, 2))

	users := []*user{
		{name: "a8m", state: "active", age: 30},
		{name: "nati", state: "pending", age: 28},
	}
	require.NoError(t, repo.BulkCreate(context.Background(), users))
	require.Equal(t, int64(5), users[0].id, "keys are assigned from the first generated key")
	require.Equal(t, int64(6), users[1].id)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoBulkUpdate(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("UPDATE `users` SET `age` = CASE WHEN `id` = ? THEN ? WHEN `id` = ? THEN ? END WHERE `id` IN (?, ?)")).
		WithArgs(1, 31, 2, 29, 1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))

	users := []*user{
		{id: 1, name: "a8m", age: 31},
		{id: 2, name: "nati", age: 29},
	}
	affected, err := repo.BulkUpdate(context.Background(), users, "age")
	require.NoError(t, err)
	require.Equal(t, int64(2), affected)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoBulkDelete(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	mk.ExpectExec(escape("DELETE FROM `users` WHERE `id` IN (?, ?, ?)")).
		WithArgs(1, 2, 3).
		WillReturnResult(sqlmock.NewResult(0, 3))

	users := []*user{{id: 1}, {id: 2}, {id: 3}}
	for _, u := range users {
		u.name = "x"
	}
	affected, err := repo.BulkDelete(context.Background(), users)
	require.NoError(t, err)
	require.Equal(t, int64(3), affected)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoUpsert(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	const query = "INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE `name` = VALUES(`name`), `state` = VALUES(`state`), `age` = VALUES(`age`)"

	// One affected row means the insert went through.
	mk.ExpectExec(escape(query)).
		WithArgs("a8m", 1, 30).
		WillReturnResult(sqlmock.NewResult(8, 1))
	u := &user{name: "a8m", state: "active", age: 30}
	created, updated, err := repo.Upsert(context.Background(), u, []string{"name"})
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, updated)
	require.Equal(t, int64(8), u.id)

	// Two affected rows means an existing row was rewritten.
	mk.ExpectExec(escape(query)).
		WithArgs("a8m", 1, 31).
		WillReturnResult(sqlmock.NewResult(0, 2))
	created, updated, err = repo.Upsert(context.Background(), &user{name: "a8m", state: "active", age: 31}, []string{"name"})
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, updated)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoUpsertPostgres(t *testing.T) {
	repo, mk := mockRepo(t, dialect.Postgres)
	mk.ExpectQuery(escape(`INSERT INTO "users" ("name", "state", "age") VALUES ($1, $2, $3) `+
		`ON CONFLICT ("name") DO UPDATE SET "state" = EXCLUDED."state", "age" = EXCLUDED."age" `+
		`RETURNING "id", (xmax = 0)`)).
		WithArgs("a8m", 1, 30).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(8, false))

	u := &user{name: "a8m", state: "active", age: 30}
	created, updated, err := repo.Upsert(context.Background(), u, []string{"name"}, "state", "age")
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, updated)
	require.Equal(t, int64(8), u.id)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoUpsertHooks(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := NewRepo(sql.OpenDB(dialect.MySQL, db), func() *hookUser { return &hookUser{} })
	require.NoError(t, err)

	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?) "+
		"ON DUPLICATE KEY UPDATE `name` = VALUES(`name`), `state` = VALUES(`state`), `age` = VALUES(`age`)")).
		WithArgs("a8m", 1, 30).
		WillReturnResult(sqlmock.NewResult(8, 1))

	u := &hookUser{user: user{name: "a8m", state: "active", age: 30}}
	created, _, err := repo.Upsert(context.Background(), u, []string{"name"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 1, u.beforeCreate, "the create-side hooks run around the statement")
	require.Equal(t, 1, u.afterCreate)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoBulkUpdateValidates(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := NewRepo(sql.OpenDB(dialect.MySQL, db), func() *checkedUser { return &checkedUser{} })
	require.NoError(t, err)

	users := []*checkedUser{
		{user: user{id: 1, name: "a8m", age: 31}},
		{user: user{id: 2, age: 29}},
	}
	_, err = repo.BulkUpdate(context.Background(), users, "age")
	require.Error(t, err)
	require.True(t, IsValidationError(err), "an invalid model stops the bulk before rendering")
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestGetOrCreate(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	name := userSpec.Field("name")

	// Existing row short-circuits the create.
	mk.ExpectQuery(escape("SELECT `id`, `name`, `state`, `age` FROM `users` WHERE `name` = ? LIMIT 1")).
		WithArgs("a8m").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "age"}).
			AddRow(8, "a8m", 1, 30))
	u := &user{name: "a8m"}
	created, err := repo.GetOrCreate(context.Background(), u, name.EQ("a8m"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, int64(8), u.id)

	// No row: the model is inserted.
	mk.ExpectQuery(escape("SELECT `id`, `name`, `state`, `age` FROM `users` WHERE `name` = ? LIMIT 1")).
		WithArgs("nati").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "age"}))
	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?)")).
		WithArgs("nati", 0, 0).
		WillReturnResult(sqlmock.NewResult(9, 1))
	u = &user{name: "nati"}
	created, err = repo.GetOrCreate(context.Background(), u, name.EQ("nati"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(9), u.id)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestCreateOrUpdate(t *testing.T) {
	repo, mk := mockRepo(t, dialect.MySQL)
	name := userSpec.Field("name")

	// Existing row is locked and rewritten in one transaction.
	mk.ExpectBegin()
	mk.ExpectQuery(escape("SELECT `id`, `name`, `state`, `age` FROM `users` WHERE `name` = ? LIMIT 1 FOR UPDATE")).
		WithArgs("a8m").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "age"}).
			AddRow(8, "a8m", 1, 30))
	mk.ExpectExec(escape("UPDATE `users` SET `name` = ?, `state` = ?, `age` = ? WHERE `id` = ?")).
		WithArgs("a8m", 1, 31, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mk.ExpectCommit()

	u := &user{name: "a8m", state: "active", age: 31}
	created, updated, err := repo.CreateOrUpdate(context.Background(), u, name.EQ("a8m"))
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, updated)

	// Absent row is inserted inside the same transaction shape.
	mk.ExpectBegin()
	mk.ExpectQuery(escape("SELECT `id`, `name`, `state`, `age` FROM `users` WHERE `name` = ? LIMIT 1 FOR UPDATE")).
		WithArgs("nati").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "age"}))
	mk.ExpectExec(escape("INSERT INTO `users` (`name`, `state`, `age`) VALUES (?, ?, ?)")).
		WithArgs("nati", 0, 28).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mk.ExpectCommit()

	u = &user{name: "nati", age: 28}
	created, updated, err = repo.CreateOrUpdate(context.Background(), u, name.EQ("nati"))
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, updated)
	require.Equal(t, int64(9), u.id)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestRepoRejectsAbstract(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	_, err = NewRepo(sql.OpenDB(dialect.MySQL, db), func() *abstractModel { return &abstractModel{} })
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

// hookUser counts lifecycle hook invocations.
type hookUser struct {
	user
	beforeCreate, afterCreate int
}

func (u *hookUser) BeforeCreate(context.Context) error { u.beforeCreate++; return nil }
func (u *hookUser) AfterCreate(context.Context) error  { u.afterCreate++; return nil }

// checkedUser fails validation when its name is empty.
type checkedUser struct {
	user
}

func (u *checkedUser) Validate() error {
	if u.name == "" {
		return errors.New("name is required")
	}
	return nil
}

var abstractSpec = MustSpec("Ghost", Abstract())

type abstractModel struct{}

func (m *abstractModel) Spec() *Spec                { return abstractSpec }
func (m *abstractModel) Values() map[string]any     { return nil }
func (m *abstractModel) SetValues(map[string]any) error { return nil }
