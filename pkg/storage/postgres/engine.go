package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

// Querier is the subset of pgx operations shared by pools, connections and
// transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type dbPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Engine manages a PostgreSQL connection pool.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	pool    dbPool
	newPool func(ctx context.Context, cfg Config) (dbPool, error)
}

type options struct {
	newPool func(ctx context.Context, cfg Config) (dbPool, error)
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a named PostgreSQL engine from the provided configuration.
// No connection is made until Start is called.
func New(name string, cfg Config, args ...Options) *Engine {
	opts := options{newPool: openPool}
	for _, opt := range args {
		opt(&opts)
	}

	return &Engine{
		name:    name,
		cfg:     cfg.WithDefaults(),
		newPool: opts.newPool,
	}
}

func openPool(ctx context.Context, cfg Config) (dbPool, error) {
	dsn, err := cfg.URI()
	if err != nil {
		return nil, err
	}

	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PostgreSQL DSN: %w", err)
	}
	pc.MinConns = cfg.PoolMinSize
	pc.MaxConns = cfg.PoolMaxSize
	pc.MaxConnLifetime = cfg.PoolExpiry
	pc.ConnConfig.ConnectTimeout = cfg.PoolTimeout

	return pgxpool.NewWithConfig(ctx, pc)
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, opening and ping-checking the connection pool on
// first use.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		pool, err := e.newPool(ctx, e.cfg)
		if err != nil {
			return fmt.Errorf("unable to create database connection pool: %w", err)
		}

		slog.Debug("Testing database connection", "engine", e.name, "host", e.cfg.Host, "port", e.cfg.Port)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return fmt.Errorf("unable to ping database: %v", err)
		}

		e.pool = pool
		slog.Info("PostgreSQL engine started", "engine", e.name, "host", e.cfg.Host, "port", e.cfg.Port)
		return nil
	})
}

// Stop releases the engine, closing the connection pool on last use.
//
// If the pool does not close within 10 seconds, an error is returned and the
// pool is left to be garbage collected.
func (e *Engine) Stop(ctx context.Context) error {
	return e.lc.Release(func() error {
		pool := e.pool
		e.pool = nil
		if pool == nil {
			return nil
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			pool.Close()
		}()

		select {
		case <-done:
			slog.Info("PostgreSQL engine stopped", "engine", e.name)
			return nil
		case <-time.After(10 * time.Second):
			return fmt.Errorf("timeout while closing database, connections may still be open")
		}
	})
}

// activePool reads the pool under the lifecycle lock so concurrent Start and
// Stop calls cannot race the read.
func (e *Engine) activePool() dbPool {
	var pool dbPool
	e.lc.Guard(func() { pool = e.pool })
	return pool
}

// Ping checks the database connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	pool := e.activePool()
	if pool == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

// Session runs fn with a querier backed by the connection pool.
func (e *Engine) Session(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	pool := e.activePool()
	if pool == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	return fn(ctx, pool)
}

// Tx runs fn inside a transaction. The transaction is committed when fn
// returns nil, and rolled back when fn fails or ForceRollback is configured.
func (e *Engine) Tx(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	pool := e.activePool()
	if pool == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || e.cfg.ForceRollback {
			if rbErr := tx.Rollback(ctx); rbErr != nil && err == nil {
				err = fmt.Errorf("failed to roll back transaction: %w", rbErr)
			}
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(ctx, tx)
}
