// Package sqlite provides the SQLite storage engine on top of database/sql,
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// SQLite driver registration.
	_ "modernc.org/sqlite"

	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

// Config holds the configuration for opening a SQLite database.
type Config struct {
	// Path is the database file path. ":memory:" opens an in-memory database.
	Path string

	// MaxOpenConns bounds the connection pool. SQLite allows a single writer,
	// so this defaults to 1 to avoid SQLITE_BUSY errors under load.
	MaxOpenConns int

	BusyTimeout time.Duration
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Path == "" {
		c.Path = ":memory:"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	return c
}

// URI assembles the driver DSN for the configured database file.
func (c Config) URI() string {
	c = c.WithDefaults()
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", c.Path, c.BusyTimeout.Milliseconds())
}

// Querier is the subset of database/sql operations shared by databases and
// transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Engine manages a SQLite database handle.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	db *sql.DB
}

// New creates a named SQLite engine from the provided configuration.
// The database is not opened until Start is called.
func New(name string, cfg Config) *Engine {
	return &Engine{name: name, cfg: cfg.WithDefaults()}
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, opening and ping-checking the database on first use.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		db, err := sql.Open("sqlite", e.cfg.URI())
		if err != nil {
			return fmt.Errorf("unable to open database: %w", err)
		}
		db.SetMaxOpenConns(e.cfg.MaxOpenConns)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return fmt.Errorf("unable to ping database: %v", err)
		}

		e.db = db
		slog.Info("SQLite engine started", "engine", e.name, "path", e.cfg.Path)
		return nil
	})
}

// Stop releases the engine, closing the database on last use.
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
		slog.Info("SQLite engine stopped", "engine", e.name)
		return nil
	})
}

// activeDB reads the database handle under the lifecycle lock so concurrent
// Start and Stop calls cannot race the read.
func (e *Engine) activeDB() *sql.DB {
	var db *sql.DB
	e.lc.Guard(func() { db = e.db })
	return db
}

// Ping checks that the database is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	db := e.activeDB()
	if db == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	return db.PingContext(ctx)
}

// Session runs fn with a querier backed by the database handle.
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
