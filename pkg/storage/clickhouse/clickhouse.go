// Package clickhouse provides the ClickHouse storage engine using the native
// protocol client.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/greyhorse-org/greyhorse/internal/secrets"
	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

// Config holds the configuration for connecting to a ClickHouse server.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	PasswordFile string
	Database     string

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	DialTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
	Compression  bool
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.User == "" {
		c.User = "default"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 8
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 1
	}
	return c
}

// URI assembles a clickhouse:// connection URI. An explicit DSN wins over the
// individual fields, and a password file, when present, overrides the inline
// password.
//
// Security warning: the returned string may include credentials.
func (c Config) URI() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}

	c = c.WithDefaults()

	password, err := secrets.Resolve(c.Password, c.PasswordFile)
	if err != nil {
		return "", err
	}

	user := url.User(c.User)
	if password != "" {
		user = url.UserPassword(c.User, password)
	}

	u := &url.URL{
		Scheme: "clickhouse",
		User:   user,
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	return u.String(), nil
}

// Engine manages a ClickHouse connection pool.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	conn    driver.Conn
	newConn func(ctx context.Context, cfg Config) (driver.Conn, error)
}

type options struct {
	newConn func(ctx context.Context, cfg Config) (driver.Conn, error)
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a named ClickHouse engine from the provided configuration.
// No connection is made until Start is called.
func New(name string, cfg Config, args ...Options) *Engine {
	opts := options{newConn: openConn}
	for _, opt := range args {
		opt(&opts)
	}

	return &Engine{
		name:    name,
		cfg:     cfg.WithDefaults(),
		newConn: opts.newConn,
	}
}

func openConn(ctx context.Context, cfg Config) (driver.Conn, error) {
	dsn, err := cfg.URI()
	if err != nil {
		return nil, err
	}

	chOpts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse ClickHouse DSN: %w", err)
	}
	chOpts.DialTimeout = cfg.DialTimeout
	chOpts.MaxOpenConns = cfg.MaxOpenConns
	chOpts.MaxIdleConns = cfg.MaxIdleConns
	if cfg.Compression {
		chOpts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}

	return clickhouse.Open(chOpts)
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, opening and ping-checking the connection pool on
// first use.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		conn, err := e.newConn(ctx, e.cfg)
		if err != nil {
			return fmt.Errorf("unable to open ClickHouse connection: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
		defer cancel()
		if err := conn.Ping(pingCtx); err != nil {
			conn.Close()
			return fmt.Errorf("unable to ping ClickHouse: %v", err)
		}

		e.conn = conn
		slog.Info("ClickHouse engine started", "engine", e.name, "host", e.cfg.Host, "port", e.cfg.Port)
		return nil
	})
}

// Stop releases the engine, closing the connection pool on last use.
func (e *Engine) Stop(ctx context.Context) error {
	return e.lc.Release(func() error {
		conn := e.conn
		e.conn = nil
		if conn == nil {
			return nil
		}
		if err := conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		slog.Info("ClickHouse engine stopped", "engine", e.name)
		return nil
	})
}

// activeConn reads the connection under the lifecycle lock so concurrent
// Start and Stop calls cannot race the read.
func (e *Engine) activeConn() driver.Conn {
	var conn driver.Conn
	e.lc.Guard(func() { conn = e.conn })
	return conn
}

// Ping checks the server connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	conn := e.activeConn()
	if conn == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()
	return conn.Ping(ctx)
}

// Session runs fn with the pooled ClickHouse connection.
func (e *Engine) Session(ctx context.Context, fn func(ctx context.Context, conn driver.Conn) error) error {
	conn := e.activeConn()
	if conn == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	return fn(ctx, conn)
}
