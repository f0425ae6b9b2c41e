package postgres_test

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockPool implements the engine's pool contract and records executed SQL.
type mockPool struct {
	pingErr  error
	execTag  pgconn.CommandTag
	execErr  error
	queryErr error
	beginErr error

	rows *mockRows
	row  *mockRow

	closed   bool
	gotSQL   []string
	gotArgs  [][]any
	lastTx   *mockTx
}

func (m *mockPool) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockPool) Close()                         { m.closed = true }

func (m *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.gotSQL = append(m.gotSQL, sql)
	m.gotArgs = append(m.gotArgs, args)
	return m.execTag, m.execErr
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.gotSQL = append(m.gotSQL, sql)
	m.gotArgs = append(m.gotArgs, args)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.rows == nil {
		m.rows = &mockRows{}
	}
	return m.rows, nil
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.gotSQL = append(m.gotSQL, sql)
	m.gotArgs = append(m.gotArgs, args)
	if m.row == nil {
		return &mockRow{err: pgx.ErrNoRows}
	}
	return m.row
}

func (m *mockPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.lastTx = &mockTx{pool: m}
	return m.lastTx, nil
}

// mockRow copies canned values into scan destinations.
type mockRow struct {
	values []any
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return copyValues(r.values, dest)
}

// mockRows yields one canned row set.
type mockRows struct {
	values [][]any
	err    error

	idx    int
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return copyValues(r.values[r.idx-1], dest)
}

// mockTx implements pgx.Tx over the mock pool, tracking completion.
type mockTx struct {
	pool *mockPool

	committed  bool
	rolledBack bool
}

func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *mockTx) Commit(ctx context.Context) error          { t.committed = true; return nil }
func (t *mockTx) Rollback(ctx context.Context) error        { t.rolledBack = true; return nil }

func (t *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pool.Exec(ctx, sql, args...)
}
func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.pool.Query(ctx, sql, args...)
}
func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pool.QueryRow(ctx, sql, args...)
}
func (t *mockTx) Conn() *pgx.Conn { return nil }

func copyValues(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan expected %d destinations, got %d", len(values), len(dest))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		default:
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
	}
	return nil
}
