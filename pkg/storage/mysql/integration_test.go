package mysql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/greyhorse-org/greyhorse/internal/testutils"
	"github.com/greyhorse-org/greyhorse/pkg/storage/mysql"
)

func TestIntegrationSessionAndTx(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	cfg := testutils.StartMariaDB(t)
	e := mysql.New("it", cfg)
	require.NoError(t, e.Start(t.Context()), "Start should not have failed")
	defer func() { require.NoError(t, e.Stop(context.Background())) }()

	require.NoError(t, e.Ping(t.Context()))

	err := e.Session(t.Context(), func(ctx context.Context, q mysql.Querier) error {
		_, err := q.ExecContext(ctx, `CREATE TABLE kv (k VARCHAR(64) PRIMARY KEY, v TEXT)`)
		return err
	})
	require.NoError(t, err, "Session should not have failed")

	// A successful transaction commits.
	err = e.Tx(t.Context(), func(ctx context.Context, q mysql.Querier) error {
		_, err := q.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('greeting', 'hello')`)
		return err
	})
	require.NoError(t, err, "Tx should not have failed")

	// A failing transaction rolls back.
	err = e.Tx(t.Context(), func(ctx context.Context, q mysql.Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('doomed', 'bye')`); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err, "a failing Tx should surface the error")

	err = e.Session(t.Context(), func(ctx context.Context, q mysql.Querier) error {
		var count int
		if err := q.QueryRowContext(ctx, `SELECT count(*) FROM kv`).Scan(&count); err != nil {
			return err
		}
		require.Equal(t, 1, count, "only the committed row should remain")

		var v string
		if err := q.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = 'greeting'`).Scan(&v); err != nil {
			return err
		}
		require.Equal(t, "hello", v, "the committed value should round trip")
		return nil
	})
	require.NoError(t, err, "Session should not have failed")
}
