package norm

import (
	"context"
	"fmt"

	"github.com/syssam/norm/dialect/sql"
)

// Query reads models through the where-chain builder. Every chaining
// call returns a new Query; intermediate queries can be kept and
// extended independently.
type Query[M Model] struct {
	repo *Repo[M]
	sel  *sql.Selector
}

// Where ANDs the condition with any previously accumulated one.
func (q *Query[M]) Where(p *sql.Expr) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.Where(p)}
}

// OrWhere ORs the condition with any previously accumulated one.
func (q *Query[M]) OrWhere(p *sql.Expr) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.OrWhere(p)}
}

// OrderBy appends an ascending order on the field.
func (q *Query[M]) OrderBy(f sql.Column) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.OrderBy(f.ColumnName())}
}

// OrderByDesc appends a descending order on the field.
func (q *Query[M]) OrderByDesc(f sql.Column) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.OrderByDesc(f.ColumnName())}
}

// Limit limits the number of returned models.
func (q *Query[M]) Limit(n int) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.Limit(n)}
}

// Offset skips the first n models.
func (q *Query[M]) Offset(n int) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.Offset(n)}
}

// ForUpdate locks matched rows for update. Replaces a previous
// ForShare; the last locking call wins.
func (q *Query[M]) ForUpdate() *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.ForUpdate()}
}

// ForShare locks matched rows in share mode, replacing a previous
// ForUpdate.
func (q *Query[M]) ForShare() *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.ForShare()}
}

// UseIndex adds a USE INDEX hint. Hints render on MySQL only.
func (q *Query[M]) UseIndex(indexes ...string) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.UseIndex(indexes...)}
}

// ForceIndex adds a FORCE INDEX hint.
func (q *Query[M]) ForceIndex(indexes ...string) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.ForceIndex(indexes...)}
}

// IgnoreIndex adds an IGNORE INDEX hint.
func (q *Query[M]) IgnoreIndex(indexes ...string) *Query[M] {
	return &Query[M]{repo: q.repo, sel: q.sel.IgnoreIndex(indexes...)}
}

// All executes the query and returns all matched models.
func (q *Query[M]) All(ctx context.Context) ([]M, error) {
	return q.all(ctx, q.repo.drv)
}

func (q *Query[M]) all(ctx context.Context, conn querier) ([]M, error) {
	stmt, err := q.sel.Render()
	if err != nil {
		return nil, err
	}
	query, args, err := stmt.Positional(q.repo.dialect)
	if err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()
	maps, err := sql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	ms := make([]M, 0, len(maps))
	for _, row := range maps {
		m := q.repo.fn()
		values, err := q.repo.fromColumns(row)
		if err != nil {
			return nil, err
		}
		if err := m.SetValues(values); err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// Rows executes the query and returns the raw column-keyed rows
// without model deserialization or field conversion.
func (q *Query[M]) Rows(ctx context.Context) ([]map[string]any, error) {
	stmt, err := q.sel.Render()
	if err != nil {
		return nil, err
	}
	query, args, err := stmt.Positional(q.repo.dialect)
	if err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := q.repo.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()
	return sql.ScanMaps(&rows)
}

// First executes the query limited to one row and returns the first
// matched model, or a NotFoundError.
func (q *Query[M]) First(ctx context.Context) (M, error) {
	return q.first(ctx, q.repo.drv)
}

func (q *Query[M]) first(ctx context.Context, conn querier) (M, error) {
	ms, err := q.Limit(1).all(ctx, conn)
	if err != nil {
		var zero M
		return zero, err
	}
	if len(ms) == 0 {
		var zero M
		return zero, NewNotFoundError(q.repo.spec.Name())
	}
	return ms[0], nil
}

// Count returns the number of matched rows.
func (q *Query[M]) Count(ctx context.Context) (int, error) {
	sel := sql.Dialect(q.repo.dialect).Select("COUNT(*)").From(q.repo.spec.TableName())
	if p := q.sel.Predicate(); p != nil {
		sel = sel.Where(p)
	}
	stmt, err := sel.Render()
	if err != nil {
		return 0, err
	}
	query, args, err := stmt.Positional(q.repo.dialect)
	if err != nil {
		return 0, err
	}
	var rows sql.Rows
	if err := q.repo.drv.Query(ctx, query, args, &rows); err != nil {
		return 0, translateError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("norm: count returned no rows")
	}
	var n int
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// Exist reports whether any row matches the query.
func (q *Query[M]) Exist(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

// Update applies the given field values to every matched row and
// returns the number of affected rows. Values go through the same
// per-field conversion as Create.
func (q *Query[M]) Update(ctx context.Context, values map[string]any) (int64, error) {
	upd := sql.Dialect(q.repo.dialect).Update(q.repo.spec.TableName())
	for _, f := range q.repo.spec.Fields() {
		v, ok := values[f.Name()]
		if !ok {
			continue
		}
		dv, err := dbValue(f.ToDB(v))
		if err != nil {
			return 0, err
		}
		upd = upd.Set(f.ColumnName(), dv)
	}
	if p := q.sel.Predicate(); p != nil {
		upd = upd.Where(p)
	}
	stmt, err := upd.Render()
	if err != nil {
		return 0, err
	}
	return q.repo.exec(ctx, q.repo.drv, stmt)
}

// Delete removes every matched row and returns the number of removed rows.
func (q *Query[M]) Delete(ctx context.Context) (int64, error) {
	del := sql.Dialect(q.repo.dialect).Delete(q.repo.spec.TableName())
	if p := q.sel.Predicate(); p != nil {
		del = del.Where(p)
	}
	stmt, err := del.Render()
	if err != nil {
		return 0, err
	}
	return q.repo.exec(ctx, q.repo.drv, stmt)
}
