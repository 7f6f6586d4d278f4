package norm

import (
	"context"
	"fmt"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql"
)

// querier is the execution surface shared by drivers and transactions.
type querier = dialect.ExecQuerier

// Repo executes CRUD, bulk and upsert operations for one model.
type Repo[M Model] struct {
	drv     dialect.Driver
	dialect string
	spec    *Spec
	fn      func() M
}

// NewRepo returns a repository for the model produced by fn. The
// model's spec must not be abstract.
func NewRepo[M Model](drv dialect.Driver, fn func() M) (*Repo[M], error) {
	spec := fn().Spec()
	if spec == nil {
		return nil, NewValidationError("model", fmt.Errorf("nil spec"))
	}
	if spec.IsAbstract() {
		return nil, NewValidationError(spec.Name(), fmt.Errorf("abstract spec cannot back a repository"))
	}
	return &Repo[M]{drv: drv, dialect: drv.Dialect(), spec: spec, fn: fn}, nil
}

// Spec returns the model declaration the repository operates on.
func (r *Repo[M]) Spec() *Spec { return r.spec }

// Query starts a read query over all model columns.
func (r *Repo[M]) Query() *Query[M] {
	sel := sql.Dialect(r.dialect).Select(r.spec.Columns()...).From(r.spec.TableName())
	return &Query[M]{repo: r, sel: sel}
}

// dbValue unwraps deferred conversion failures from field.ToDB.
func dbValue(v any) (any, error) {
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

// fromColumns converts a fetched column-keyed row into field-keyed
// model values.
func (r *Repo[M]) fromColumns(row map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(row))
	for _, f := range r.spec.Fields() {
		raw, ok := row[f.ColumnName()]
		if !ok {
			continue
		}
		v, err := f.FromDB(raw)
		if err != nil {
			return nil, err
		}
		values[f.Name()] = v
	}
	return values, nil
}

// applyDefaults assigns declared defaults for fields the model has no
// value for, so generated defaults are visible on the model after a
// create, not only in the database.
func (r *Repo[M]) applyDefaults(m M) error {
	values := m.Values()
	defaults := make(map[string]any)
	for _, f := range r.spec.Fields() {
		if _, ok := values[f.Name()]; ok {
			continue
		}
		if f.HasDefault() {
			defaults[f.Name()] = f.Default()
		}
	}
	if len(defaults) == 0 {
		return nil
	}
	return m.SetValues(defaults)
}

// insertColumns resolves the column list and converted row values for
// an insert. An auto-increment primary key without a value is omitted
// so the database assigns it.
func (r *Repo[M]) insertColumns(m M) (cols []string, vals []any, err error) {
	values := m.Values()
	for _, f := range r.spec.Fields() {
		v, ok := values[f.Name()]
		if !ok {
			continue
		}
		dv, err := dbValue(f.ToDB(v))
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, f.ColumnName())
		vals = append(vals, dv)
	}
	return cols, vals, nil
}

func (r *Repo[M]) pkValue(m M) (any, bool) {
	pk := r.spec.PK()
	v, ok := m.Values()[pk.Name()]
	if !ok || v == nil {
		return nil, false
	}
	switch n := v.(type) {
	case int:
		return v, n != 0
	case int64:
		return v, n != 0
	}
	return v, true
}

// exec renders the statement positionally and returns affected rows.
func (r *Repo[M]) exec(ctx context.Context, conn querier, stmt *sql.Statement) (int64, error) {
	query, args, err := stmt.Positional(r.dialect)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	if err := conn.Exec(ctx, query, args, &res); err != nil {
		return 0, translateError(err)
	}
	return res.RowsAffected()
}

// Create inserts the model and assigns its generated primary key.
func (r *Repo[M]) Create(ctx context.Context, m M) error {
	return r.create(ctx, r.drv, m)
}

func (r *Repo[M]) create(ctx context.Context, conn querier, m M) error {
	if v, ok := Model(m).(Validator); ok {
		if err := v.Validate(); err != nil {
			return NewValidationError(r.spec.Name(), err)
		}
	}
	if h, ok := Model(m).(BeforeCreator); ok {
		if err := h.BeforeCreate(ctx); err != nil {
			return err
		}
	}
	if err := r.applyDefaults(m); err != nil {
		return err
	}
	cols, vals, err := r.insertColumns(m)
	if err != nil {
		return err
	}
	ins := sql.Dialect(r.dialect).Insert(r.spec.TableName()).Columns(cols...).Values(vals...)
	pk := r.spec.PK()
	_, hasPK := r.pkValue(m)
	returning := pk.Increment() && !hasPK
	if returning && r.dialect == dialect.Postgres {
		ins = ins.Returning(pk.ColumnName())
		id, err := r.queryID(ctx, conn, ins)
		if err != nil {
			return err
		}
		if err := m.SetValues(map[string]any{pk.Name(): id}); err != nil {
			return err
		}
	} else {
		stmt, err := ins.Render()
		if err != nil {
			return err
		}
		query, args, err := stmt.Positional(r.dialect)
		if err != nil {
			return err
		}
		var res sql.Result
		if err := conn.Exec(ctx, query, args, &res); err != nil {
			return translateError(err)
		}
		if returning {
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if err := m.SetValues(map[string]any{pk.Name(): id}); err != nil {
				return err
			}
		}
	}
	if h, ok := Model(m).(AfterCreator); ok {
		return h.AfterCreate(ctx)
	}
	return nil
}

// queryID executes an insert with a RETURNING clause and scans the
// generated key.
func (r *Repo[M]) queryID(ctx context.Context, conn querier, ins *sql.Inserter) (int64, error) {
	stmt, err := ins.Render()
	if err != nil {
		return 0, err
	}
	query, args, err := stmt.Positional(r.dialect)
	if err != nil {
		return 0, err
	}
	var rows sql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		return 0, translateError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("norm: insert returned no generated key")
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Err()
}

// Update writes all non-key values of the model to its row. It reports
// whether a row was changed; false means the key matched nothing or
// the values were already current.
func (r *Repo[M]) Update(ctx context.Context, m M) (bool, error) {
	return r.update(ctx, r.drv, m)
}

func (r *Repo[M]) update(ctx context.Context, conn querier, m M) (bool, error) {
	if v, ok := Model(m).(Validator); ok {
		if err := v.Validate(); err != nil {
			return false, NewValidationError(r.spec.Name(), err)
		}
	}
	if h, ok := Model(m).(BeforeUpdater); ok {
		if err := h.BeforeUpdate(ctx); err != nil {
			return false, err
		}
	}
	pk := r.spec.PK()
	id, ok := r.pkValue(m)
	if !ok {
		return false, NewValidationError(r.spec.Name(), fmt.Errorf("update without a primary key value"))
	}
	values := m.Values()
	upd := sql.Dialect(r.dialect).Update(r.spec.TableName())
	for _, f := range r.spec.Fields() {
		if f.Primary() {
			continue
		}
		v, ok := values[f.Name()]
		if !ok {
			continue
		}
		dv, err := dbValue(f.ToDB(v))
		if err != nil {
			return false, err
		}
		upd = upd.Set(f.ColumnName(), dv)
	}
	stmt, err := upd.Where(pk.EQ(id)).Render()
	if err != nil {
		return false, err
	}
	affected, err := r.exec(ctx, conn, stmt)
	if err != nil {
		return false, err
	}
	if h, ok := Model(m).(AfterUpdater); ok {
		if err := h.AfterUpdate(ctx); err != nil {
			return false, err
		}
	}
	return affected > 0, nil
}

// SaveOption configures a Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	forceInsert bool
}

// ForceInsert makes Save insert the model with its explicit primary
// key even when the key is set. A force insert without a key value is
// rejected.
func ForceInsert() SaveOption {
	return func(o *saveOptions) { o.forceInsert = true }
}

// Save creates the model when it has no primary key value and updates
// it otherwise, unless ForceInsert is given.
func (r *Repo[M]) Save(ctx context.Context, m M, opts ...SaveOption) error {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	_, hasPK := r.pkValue(m)
	if o.forceInsert {
		if !hasPK {
			return NewValidationError(r.spec.Name(), fmt.Errorf("force insert without a primary key value"))
		}
		return r.Create(ctx, m)
	}
	if !hasPK {
		return r.Create(ctx, m)
	}
	_, err := r.Update(ctx, m)
	return err
}

// Refetch reloads the model's row from the database into the model.
func (r *Repo[M]) Refetch(ctx context.Context, m M) error {
	pk := r.spec.PK()
	id, ok := r.pkValue(m)
	if !ok {
		return NewValidationError(r.spec.Name(), fmt.Errorf("refetch without a primary key value"))
	}
	fetched, err := r.Query().Where(pk.EQ(id)).First(ctx)
	if err != nil {
		return err
	}
	return m.SetValues(fetched.Values())
}

// Delete removes the model's row. It reports whether a row was removed.
func (r *Repo[M]) Delete(ctx context.Context, m M) (bool, error) {
	if h, ok := Model(m).(BeforeDeleter); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			return false, err
		}
	}
	pk := r.spec.PK()
	id, ok := r.pkValue(m)
	if !ok {
		return false, NewValidationError(r.spec.Name(), fmt.Errorf("delete without a primary key value"))
	}
	stmt, err := sql.Dialect(r.dialect).Delete(r.spec.TableName()).Where(pk.EQ(id)).Render()
	if err != nil {
		return false, err
	}
	affected, err := r.exec(ctx, r.drv, stmt)
	if err != nil {
		return false, err
	}
	if h, ok := Model(m).(AfterDeleter); ok {
		if err := h.AfterDelete(ctx); err != nil {
			return false, err
		}
	}
	return affected > 0, nil
}

// BulkCreate inserts all models in a single multi-row statement and
// assigns generated keys. The contiguous-key contract holds when the
// table's auto-increment step is 1 and no concurrent insert interleaves;
// on MySQL the driver reports the first generated key, on SQLite the
// last, and on Postgres every key is read back through RETURNING.
func (r *Repo[M]) BulkCreate(ctx context.Context, ms []M) error {
	if len(ms) == 0 {
		return nil
	}
	pk := r.spec.PK()
	ins := sql.Dialect(r.dialect).Insert(r.spec.TableName())
	var cols []string
	for i, m := range ms {
		if v, ok := Model(m).(Validator); ok {
			if err := v.Validate(); err != nil {
				return NewValidationError(r.spec.Name(), err)
			}
		}
		if h, ok := Model(m).(BeforeCreator); ok {
			if err := h.BeforeCreate(ctx); err != nil {
				return err
			}
		}
		if err := r.applyDefaults(m); err != nil {
			return err
		}
		rowCols, vals, err := r.insertColumns(m)
		if err != nil {
			return err
		}
		if i == 0 {
			cols = rowCols
			ins = ins.Columns(cols...)
		} else if len(rowCols) != len(cols) {
			return NewValidationError(r.spec.Name(), fmt.Errorf("bulk create with non-uniform rows"))
		}
		ins = ins.Values(vals...)
	}
	generated := pk.Increment() && !columnsContain(cols, pk.ColumnName())
	switch {
	case generated && r.dialect == dialect.Postgres:
		ins = ins.Returning(pk.ColumnName())
		ids, err := r.queryIDs(ctx, r.drv, ins)
		if err != nil {
			return err
		}
		if len(ids) != len(ms) {
			return fmt.Errorf("norm: bulk create returned %d keys for %d rows", len(ids), len(ms))
		}
		for i, m := range ms {
			if err := m.SetValues(map[string]any{pk.Name(): ids[i]}); err != nil {
				return err
			}
		}
	default:
		stmt, err := ins.Render()
		if err != nil {
			return err
		}
		query, args, err := stmt.Positional(r.dialect)
		if err != nil {
			return err
		}
		var res sql.Result
		if err := r.drv.Exec(ctx, query, args, &res); err != nil {
			return translateError(err)
		}
		if generated {
			last, err := res.LastInsertId()
			if err != nil {
				return err
			}
			first := last
			if r.dialect == dialect.SQLite {
				first = last - int64(len(ms)) + 1
			}
			for i, m := range ms {
				if err := m.SetValues(map[string]any{pk.Name(): first + int64(i)}); err != nil {
					return err
				}
			}
		}
	}
	for _, m := range ms {
		if h, ok := Model(m).(AfterCreator); ok {
			if err := h.AfterCreate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func columnsContain(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func (r *Repo[M]) queryIDs(ctx context.Context, conn querier, ins *sql.Inserter) ([]int64, error) {
	stmt, err := ins.Render()
	if err != nil {
		return nil, err
	}
	query, args, err := stmt.Positional(r.dialect)
	if err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BulkUpdate writes the named fields of all models in one statement:
// one CASE expression per field keyed by primary key, guarded by a
// single IN over the keys. The statement size grows with the field
// count, not the model count. With no field names given, all non-key
// fields are written.
func (r *Repo[M]) BulkUpdate(ctx context.Context, ms []M, fields ...string) (int64, error) {
	if len(ms) == 0 {
		return 0, nil
	}
	pk := r.spec.PK()
	if len(fields) == 0 {
		for _, f := range r.spec.Fields() {
			if !f.Primary() {
				fields = append(fields, f.Name())
			}
		}
	}
	ids := make([]any, len(ms))
	for i, m := range ms {
		if v, ok := Model(m).(Validator); ok {
			if err := v.Validate(); err != nil {
				return 0, NewValidationError(r.spec.Name(), err)
			}
		}
		if h, ok := Model(m).(BeforeUpdater); ok {
			if err := h.BeforeUpdate(ctx); err != nil {
				return 0, err
			}
		}
		id, ok := r.pkValue(m)
		if !ok {
			return 0, NewValidationError(r.spec.Name(), fmt.Errorf("bulk update with a model missing its primary key"))
		}
		ids[i] = id
	}
	upd := sql.Dialect(r.dialect).Update(r.spec.TableName())
	for _, name := range fields {
		f := r.spec.Field(name)
		if f == nil {
			return 0, NewValidationError(r.spec.Name(), fmt.Errorf("bulk update of unknown field %q", name))
		}
		if f.Primary() {
			return 0, NewValidationError(r.spec.Name(), fmt.Errorf("bulk update cannot write the primary key"))
		}
		var ce *sql.CaseExpr
		for i, m := range ms {
			v, ok := m.Values()[name]
			if !ok {
				return 0, NewValidationError(r.spec.Name(), fmt.Errorf("bulk update: model %d has no value for %q", i, name))
			}
			dv, err := dbValue(f.ToDB(v))
			if err != nil {
				return 0, err
			}
			if ce == nil {
				ce = sql.Case(pk.EQ(ids[i]), dv)
			} else {
				ce = ce.When(pk.EQ(ids[i]), dv)
			}
		}
		upd = upd.SetExpr(f.ColumnName(), ce)
	}
	stmt, err := upd.Where(pk.In(ids...)).Render()
	if err != nil {
		return 0, err
	}
	affected, err := r.exec(ctx, r.drv, stmt)
	if err != nil {
		return 0, err
	}
	for _, m := range ms {
		if h, ok := Model(m).(AfterUpdater); ok {
			if err := h.AfterUpdate(ctx); err != nil {
				return affected, err
			}
		}
	}
	return affected, nil
}

// BulkDelete removes all models in one statement through an IN over
// their primary keys. It returns the number of removed rows.
func (r *Repo[M]) BulkDelete(ctx context.Context, ms []M) (int64, error) {
	if len(ms) == 0 {
		return 0, nil
	}
	pk := r.spec.PK()
	ids := make([]any, len(ms))
	for i, m := range ms {
		if h, ok := Model(m).(BeforeDeleter); ok {
			if err := h.BeforeDelete(ctx); err != nil {
				return 0, err
			}
		}
		id, ok := r.pkValue(m)
		if !ok {
			return 0, NewValidationError(r.spec.Name(), fmt.Errorf("bulk delete with a model missing its primary key"))
		}
		ids[i] = id
	}
	stmt, err := sql.Dialect(r.dialect).Delete(r.spec.TableName()).Where(pk.In(ids...)).Render()
	if err != nil {
		return 0, err
	}
	affected, err := r.exec(ctx, r.drv, stmt)
	if err != nil {
		return 0, err
	}
	for _, m := range ms {
		if h, ok := Model(m).(AfterDeleter); ok {
			if err := h.AfterDelete(ctx); err != nil {
				return affected, err
			}
		}
	}
	return affected, nil
}

// Upsert inserts the model or updates the named fields of the
// conflicting row. The conflict fields name the unique key the insert
// may collide on; with no update fields given, all inserted non-key
// fields are written on conflict.
//
// The created/updated flags come from what the driver reports: MySQL
// counts 1 affected row for an insert and 2 for an update of an
// existing row; Postgres reads the row's xmax through RETURNING; SQLite
// reports 1 either way, so an upsert there surfaces as created.
//
// The model is submitted as a row to insert, so the create-side hooks
// run around the statement regardless of which outcome the database
// reports.
func (r *Repo[M]) Upsert(ctx context.Context, m M, conflictFields []string, updateFields ...string) (created, updated bool, err error) {
	if v, ok := Model(m).(Validator); ok {
		if err := v.Validate(); err != nil {
			return false, false, NewValidationError(r.spec.Name(), err)
		}
	}
	if h, ok := Model(m).(BeforeCreator); ok {
		if err := h.BeforeCreate(ctx); err != nil {
			return false, false, err
		}
	}
	if err := r.applyDefaults(m); err != nil {
		return false, false, err
	}
	cols, vals, err := r.insertColumns(m)
	if err != nil {
		return false, false, err
	}
	pk := r.spec.PK()
	updateCols := make([]string, 0, len(cols))
	if len(updateFields) > 0 {
		for _, name := range updateFields {
			f := r.spec.Field(name)
			if f == nil {
				return false, false, NewValidationError(r.spec.Name(), fmt.Errorf("upsert of unknown field %q", name))
			}
			updateCols = append(updateCols, f.ColumnName())
		}
	} else {
		for _, c := range cols {
			if c != pk.ColumnName() {
				updateCols = append(updateCols, c)
			}
		}
	}
	ins := sql.Dialect(r.dialect).Insert(r.spec.TableName()).Columns(cols...).Values(vals...).OnConflict(updateCols...)
	if r.dialect != dialect.MySQL {
		targets := make([]string, 0, len(conflictFields))
		for _, name := range conflictFields {
			f := r.spec.Field(name)
			if f == nil {
				return false, false, NewValidationError(r.spec.Name(), fmt.Errorf("upsert conflict on unknown field %q", name))
			}
			targets = append(targets, f.ColumnName())
		}
		ins = ins.ConflictTarget(targets...)
	}
	if r.dialect == dialect.Postgres {
		ins = ins.Returning(pk.ColumnName(), "(xmax = 0)")
		stmt, err := ins.Render()
		if err != nil {
			return false, false, err
		}
		query, args, err := stmt.Positional(r.dialect)
		if err != nil {
			return false, false, err
		}
		var rows sql.Rows
		if err := r.drv.Query(ctx, query, args, &rows); err != nil {
			return false, false, translateError(err)
		}
		defer rows.Close()
		if !rows.Next() {
			return false, false, rows.Err()
		}
		var (
			id       int64
			inserted bool
		)
		if err := rows.Scan(&id, &inserted); err != nil {
			return false, false, err
		}
		if err := m.SetValues(map[string]any{pk.Name(): id}); err != nil {
			return false, false, err
		}
		if err := rows.Err(); err != nil {
			return inserted, !inserted, err
		}
		if h, ok := Model(m).(AfterCreator); ok {
			if err := h.AfterCreate(ctx); err != nil {
				return inserted, !inserted, err
			}
		}
		return inserted, !inserted, nil
	}
	stmt, err := ins.Render()
	if err != nil {
		return false, false, err
	}
	query, args, err := stmt.Positional(r.dialect)
	if err != nil {
		return false, false, err
	}
	var res sql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		return false, false, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, false, err
	}
	created = affected == 1
	updated = affected == 2
	if created && pk.Increment() {
		if _, ok := r.pkValue(m); !ok {
			id, err := res.LastInsertId()
			if err != nil {
				return created, updated, err
			}
			if err := m.SetValues(map[string]any{pk.Name(): id}); err != nil {
				return created, updated, err
			}
		}
	}
	if h, ok := Model(m).(AfterCreator); ok {
		if err := h.AfterCreate(ctx); err != nil {
			return created, updated, err
		}
	}
	return created, updated, nil
}

// GetOrCreate fetches the row matching cond into m, creating it from
// m's values when absent. A create losing a race to a concurrent
// insert falls back to fetching the winner's row.
func (r *Repo[M]) GetOrCreate(ctx context.Context, m M, cond *sql.Expr) (created bool, err error) {
	fetched, err := r.Query().Where(cond).First(ctx)
	switch {
	case err == nil:
		return false, m.SetValues(fetched.Values())
	case !IsNotFound(err):
		return false, err
	}
	if err := r.Create(ctx, m); err != nil {
		if !IsConstraintError(err) {
			return false, err
		}
		fetched, ferr := r.Query().Where(cond).First(ctx)
		if ferr != nil {
			return false, ferr
		}
		return false, m.SetValues(fetched.Values())
	}
	return true, nil
}

// CreateOrUpdate writes m as the row matching cond inside one
// transaction: the matching row is locked and updated in place, or m
// is inserted when none exists. A create losing a race retries the
// locked read once.
func (r *Repo[M]) CreateOrUpdate(ctx context.Context, m M, cond *sql.Expr) (created, updated bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		created, updated, err = r.createOrUpdate(ctx, m, cond)
		if err != nil && IsConstraintError(err) && attempt == 0 {
			continue
		}
		return created, updated, err
	}
	return created, updated, err
}

func (r *Repo[M]) createOrUpdate(ctx context.Context, m M, cond *sql.Expr) (created, updated bool, err error) {
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return false, false, err
	}
	pk := r.spec.PK()
	fetched, err := r.Query().Where(cond).ForUpdate().first(ctx, tx)
	switch {
	case err == nil:
		id, ok := r.pkValue(fetched)
		if !ok {
			return false, false, rollback(tx, fmt.Errorf("norm: fetched row has no primary key"))
		}
		if err := m.SetValues(map[string]any{pk.Name(): id}); err != nil {
			return false, false, rollback(tx, err)
		}
		if _, err := r.update(ctx, tx, m); err != nil {
			return false, false, rollback(tx, err)
		}
		updated = true
	case IsNotFound(err):
		if err := r.create(ctx, tx, m); err != nil {
			return false, false, rollback(tx, err)
		}
		created = true
	default:
		return false, false, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	return created, updated, nil
}
