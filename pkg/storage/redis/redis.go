// Package redis provides the Redis storage engine.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/greyhorse-org/greyhorse/internal/secrets"
	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

// Config holds the configuration for connecting to a Redis server.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	PasswordFile string
	DB           int

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	ClientName   string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.ClientName == "" {
		c.ClientName = "greyhorse-redis"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// URI assembles a redis:// connection URI. An explicit DSN wins over the
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

	u := &url.URL{
		Scheme: "redis",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   strconv.Itoa(c.DB),
	}
	if password != "" {
		u.User = url.UserPassword(c.User, password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	return u.String(), nil
}

// Client is the subset of go-redis operations the engine hands out.
type Client interface {
	redis.Cmdable
	Close() error
}

// Engine manages a Redis client and its connection pool.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	client    Client
	newClient func(cfg Config) (Client, error)
}

type options struct {
	newClient func(cfg Config) (Client, error)
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a named Redis engine from the provided configuration.
// No connection is made until Start is called.
func New(name string, cfg Config, args ...Options) *Engine {
	opts := options{newClient: openClient}
	for _, opt := range args {
		opt(&opts)
	}

	return &Engine{
		name:      name,
		cfg:       cfg.WithDefaults(),
		newClient: opts.newClient,
	}
}

func openClient(cfg Config) (Client, error) {
	uri, err := cfg.URI()
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse Redis URL: %w", err)
	}
	redisOpts.ClientName = cfg.ClientName
	redisOpts.PoolSize = cfg.PoolSize
	redisOpts.DialTimeout = cfg.DialTimeout
	redisOpts.ReadTimeout = cfg.ReadTimeout
	redisOpts.WriteTimeout = cfg.WriteTimeout

	return redis.NewClient(redisOpts), nil
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, opening and ping-checking the client on first use.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		client, err := e.newClient(e.cfg)
		if err != nil {
			return fmt.Errorf("unable to open Redis client: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("unable to ping Redis: %v", err)
		}

		e.client = client
		slog.Info("Redis engine started", "engine", e.name, "host", e.cfg.Host, "port", e.cfg.Port, "db", e.cfg.DB)
		return nil
	})
}

// Stop releases the engine, closing the client on last use.
func (e *Engine) Stop(ctx context.Context) error {
	return e.lc.Release(func() error {
		client := e.client
		e.client = nil
		if client == nil {
			return nil
		}
		if err := client.Close(); err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
		slog.Info("Redis engine stopped", "engine", e.name)
		return nil
	})
}

// activeClient reads the client under the lifecycle lock so concurrent Start
// and Stop calls cannot race the read.
func (e *Engine) activeClient() Client {
	var client Client
	e.lc.Guard(func() { client = e.client })
	return client
}

// Ping checks the server connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	client := e.activeClient()
	if client == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	return client.Ping(ctx).Err()
}

// Session runs fn with the pooled Redis client.
func (e *Engine) Session(ctx context.Context, fn func(ctx context.Context, rdb Client) error) error {
	client := e.activeClient()
	if client == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	return fn(ctx, client)
}
