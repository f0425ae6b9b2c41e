package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Mapping describes how an entity type maps onto a table.
//
// Columns lists the data columns, excluding the id column. Values must return
// the entity values in the same order, and Scan must read a row selected as
// "id, columns..." back into an entity.
type Mapping[ID comparable, E any] struct {
	Table    string
	IDColumn string
	Columns  []string

	ID     func(e E) ID
	Values func(e E) []any
	Scan   func(row pgx.Row) (E, error)
}

func (m Mapping[ID, E]) validate() error {
	switch {
	case m.Table == "":
		return errors.New("mapping requires a table name")
	case m.IDColumn == "":
		return errors.New("mapping requires an id column")
	case len(m.Columns) == 0:
		return errors.New("mapping requires at least one data column")
	case m.ID == nil || m.Values == nil || m.Scan == nil:
		return errors.New("mapping requires ID, Values and Scan functions")
	}
	return nil
}

// Repository provides keyed CRUD operations over a single table.
type Repository[ID comparable, E any] struct {
	q Querier
	m Mapping[ID, E]

	table    string
	idCol    string
	dataCols []string
	selCols  string
}

// NewRepository creates a repository running its queries through q.
//
// The querier may be an engine session, a transaction or a bare pool,
// so repositories can take part in caller managed transactions.
func NewRepository[ID comparable, E any](q Querier, m Mapping[ID, E]) (*Repository[ID, E], error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid repository mapping: %w", err)
	}

	dataCols := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		dataCols[i] = pgx.Identifier{c}.Sanitize()
	}
	selCols := append([]string{pgx.Identifier{m.IDColumn}.Sanitize()}, dataCols...)

	return &Repository[ID, E]{
		q:        q,
		m:        m,
		table:    pgx.Identifier{m.Table}.Sanitize(),
		idCol:    pgx.Identifier{m.IDColumn}.Sanitize(),
		dataCols: dataCols,
		selCols:  strings.Join(selCols, ", "),
	}, nil
}

// Get returns the entity stored under id. The boolean reports whether a row
// was found.
func (r *Repository[ID, E]) Get(ctx context.Context, id ID) (E, bool, error) {
	var zero E

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, r.selCols, r.table, r.idCol)
	e, err := r.m.Scan(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to get row: %w", err)
	}
	return e, true, nil
}

// Exists reports whether a row exists under id.
func (r *Repository[ID, E]) Exists(ctx context.Context, id ID) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, r.table, r.idCol)

	var exists bool
	if err := r.q.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check row existence: %w", err)
	}
	return exists, nil
}

// List returns entities ordered by id, applying the offset and, when limit is
// positive, the limit.
func (r *Repository[ID, E]) List(ctx context.Context, offset, limit int) ([]E, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s OFFSET $1`, r.selCols, r.table, r.idCol)
	args := []any{max(offset, 0)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	var entities []E
	for rows.Next() {
		e, err := r.m.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return entities, nil
}

// Count returns the number of rows in the table.
func (r *Repository[ID, E]) Count(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, r.table)

	var n int64
	if err := r.q.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// Insert stores a new entity.
func (r *Repository[ID, E]) Insert(ctx context.Context, e E) error {
	cols := append([]string{r.idCol}, r.dataCols...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		r.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	args := append([]any{r.m.ID(e)}, r.m.Values(e)...)
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return nil
}

// Update rewrites the data columns of the entity's row. The boolean reports
// whether a row was updated.
func (r *Repository[ID, E]) Update(ctx context.Context, e E) (bool, error) {
	assignments := make([]string, len(r.dataCols))
	for i, c := range r.dataCols {
		assignments[i] = fmt.Sprintf("%s = $%d", c, i+2)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1`,
		r.table, strings.Join(assignments, ", "), r.idCol)

	args := append([]any{r.m.ID(e)}, r.m.Values(e)...)
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update row: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the row stored under id. The boolean reports whether a row
// was removed.
func (r *Repository[ID, E]) Delete(ctx context.Context, id ID) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, r.table, r.idCol)

	tag, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete row: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
