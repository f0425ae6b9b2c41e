// Package rmq provides the RabbitMQ broker engine and an RPC layer on top of
// reply queues.
package rmq

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/greyhorse-org/greyhorse/internal/secrets"
	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

// Config holds the configuration for connecting to a RabbitMQ broker.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	PasswordFile string
	VHost        string

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	DialTimeout time.Duration
	ChannelMax  uint16
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.User == "" {
		c.User = "guest"
	}
	if c.Password == "" && c.PasswordFile == "" {
		c.Password = "guest"
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ChannelMax == 0 {
		c.ChannelMax = 100
	}
	return c
}

// URI assembles an amqp:// connection URI. An explicit DSN wins over the
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

	path := "/"
	if c.VHost != "/" {
		path += c.VHost
	}
	u := &url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   path,
	}
	return u.String(), nil
}

// Channel is the subset of AMQP channel operations the engine hands out.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// connection abstracts the broker connection so tests can inject fakes.
type connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// Engine manages a RabbitMQ connection.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	conn    connection
	newConn func(cfg Config) (connection, error)
}

type options struct {
	newConn func(cfg Config) (connection, error)
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a named RabbitMQ engine from the provided configuration.
// No connection is made until Start is called.
func New(name string, cfg Config, args ...Options) *Engine {
	opts := options{newConn: dial}
	for _, opt := range args {
		opt(&opts)
	}

	return &Engine{
		name:    name,
		cfg:     cfg.WithDefaults(),
		newConn: opts.newConn,
	}
}

// dialSetup resolves the connection URI and the AMQP client configuration.
// The vhost travels in the URI, so an explicit DSN keeps its own vhost.
func dialSetup(cfg Config) (string, amqp.Config, error) {
	uri, err := cfg.URI()
	if err != nil {
		return "", amqp.Config{}, err
	}

	return uri, amqp.Config{
		ChannelMax: cfg.ChannelMax,
		Dial:       amqp.DefaultDial(cfg.DialTimeout),
	}, nil
}

func dial(cfg Config) (connection, error) {
	uri, acfg, err := dialSetup(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(uri, acfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, dialing the broker on first use.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		conn, err := e.newConn(e.cfg)
		if err != nil {
			return fmt.Errorf("unable to connect to RabbitMQ: %w", err)
		}

		e.conn = conn
		slog.Info("RabbitMQ engine started", "engine", e.name, "host", e.cfg.Host, "port", e.cfg.Port, "vhost", e.cfg.VHost)
		return nil
	})
}

// Stop releases the engine, closing the connection on last use.
func (e *Engine) Stop(ctx context.Context) error {
	return e.lc.Release(func() error {
		conn := e.conn
		e.conn = nil
		if conn == nil {
			return nil
		}
		if err := conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
		slog.Info("RabbitMQ engine stopped", "engine", e.name)
		return nil
	})
}

// activeConn reads the connection under the lifecycle lock so concurrent
// Start and Stop calls cannot race the read.
func (e *Engine) activeConn() connection {
	var conn connection
	e.lc.Guard(func() { conn = e.conn })
	return conn
}

// Ping checks that the connection to the broker is still open.
func (e *Engine) Ping(ctx context.Context) error {
	conn := e.activeConn()
	if conn == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}
	if conn.IsClosed() {
		return fmt.Errorf("connection to broker %q is closed", e.name)
	}
	return nil
}

// Channel opens a channel, runs fn with it and closes it afterwards.
func (e *Engine) Channel(ctx context.Context, fn func(ctx context.Context, ch Channel) error) error {
	ch, err := e.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return fn(ctx, ch)
}

func (e *Engine) openChannel() (Channel, error) {
	conn := e.activeConn()
	if conn == nil {
		return nil, fmt.Errorf("engine %q is not started", e.name)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}
