package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MySQL driver registration.
	_ "github.com/go-sql-driver/mysql"

	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

// Querier is the subset of database/sql operations shared by databases and
// transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlDB interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Engine manages a MySQL/MariaDB connection pool.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	db    sqlDB
	newDB func(cfg Config) (sqlDB, error)
}

type options struct {
	newDB func(cfg Config) (sqlDB, error)
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a named MySQL engine from the provided configuration.
// No connection is made until Start is called.
func New(name string, cfg Config, args ...Options) *Engine {
	opts := options{newDB: openDB}
	for _, opt := range args {
		opt(&opts)
	}

	return &Engine{
		name:  name,
		cfg:   cfg.WithDefaults(),
		newDB: opts.newDB,
	}
}

func openDB(cfg Config) (sqlDB, error) {
	dsn, err := cfg.URI()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PoolMaxSize)
	db.SetMaxIdleConns(cfg.PoolMinSize)
	db.SetConnMaxLifetime(cfg.PoolExpiry)
	return db, nil
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, opening and ping-checking the connection pool on
// first use.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		db, err := e.newDB(e.cfg)
		if err != nil {
			return fmt.Errorf("unable to open database: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return fmt.Errorf("unable to ping database: %v", err)
		}

		e.db = db
		slog.Info("MySQL engine started", "engine", e.name, "host", e.cfg.Host, "port", e.cfg.Port)
		return nil
	})
}

// Stop releases the engine, closing the connection pool on last use.
func (e *Engine) Stop(ctx context.Context) error {
	return e.lc.Release(func() error {
		db := e.db
		e.db = nil
		if db == nil {
			return nil
		}
		if err := db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		slog.Info("MySQL engine stopped", "engine", e.name)
		return nil
	})
}

// activeDB reads the database handle under the lifecycle lock so concurrent
// Start and Stop calls cannot race the read.
func (e *Engine) activeDB() sqlDB {
	var db sqlDB
	e.lc.Guard(func() { db = e.db })
	return db
}

// Ping checks the database connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	db := e.activeDB()
	if db == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Session runs fn with a querier backed by the connection pool.
func (e *Engine) Session(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	db := e.activeDB()
	if db == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	return fn(ctx, db)
}

// Tx runs fn inside a transaction, committing when fn returns nil and rolling
// back otherwise.
func (e *Engine) Tx(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	db := e.activeDB()
	if db == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				slog.Warn("Failed to roll back transaction", "engine", e.name, "error", rbErr)
			}
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
