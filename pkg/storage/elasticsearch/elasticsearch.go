// Package elasticsearch provides the Elasticsearch storage engine and cluster
// health helpers.
package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/elastic/go-elasticsearch/v7"

	"github.com/greyhorse-org/greyhorse/internal/secrets"
	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

const (
	defaultHealthInterval = 30 * time.Second
	defaultHealthRetries  = 10
)

// Config holds the configuration for connecting to an Elasticsearch cluster.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	PasswordFile string

	// Scheme selects http or https, defaulting to http.
	Scheme string

	Timeout time.Duration
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9200
	}
	if c.User == "" {
		c.User = "elastic"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// URI assembles the cluster address without credentials.
func (c Config) URI() string {
	c = c.WithDefaults()
	u := &url.URL{
		Scheme: c.Scheme,
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	return u.String()
}

// Engine manages an Elasticsearch client.
type Engine struct {
	name string
	cfg  Config
	lc   engine.Lifecycle

	client    *elasticsearch.Client
	transport http.RoundTripper
}

type options struct {
	transport http.RoundTripper
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a named Elasticsearch engine from the provided configuration.
// No connection is made until Start is called.
func New(name string, cfg Config, args ...Options) *Engine {
	var opts options
	for _, opt := range args {
		opt(&opts)
	}

	return &Engine{
		name:      name,
		cfg:       cfg.WithDefaults(),
		transport: opts.transport,
	}
}

// Name returns the configured name of the engine.
func (e *Engine) Name() string { return e.name }

// Active reports whether the engine is currently started.
func (e *Engine) Active() bool { return e.lc.Active() }

// Start acquires the engine, building the client on first use. Elasticsearch
// clients are stateless over HTTP, so no connection check happens here; use
// Ping or WaitHealthy to verify the cluster is reachable.
func (e *Engine) Start(ctx context.Context) error {
	return e.lc.Acquire(func() error {
		password, err := secrets.Resolve(e.cfg.Password, e.cfg.PasswordFile)
		if err != nil {
			return err
		}

		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: []string{e.cfg.URI()},
			Username:  e.cfg.User,
			Password:  password,
			Transport: e.transport,
		})
		if err != nil {
			return fmt.Errorf("unable to build Elasticsearch client: %w", err)
		}

		e.client = client
		slog.Info("Elasticsearch engine started", "engine", e.name, "address", e.cfg.URI())
		return nil
	})
}

// Stop releases the engine, dropping the client on last use.
func (e *Engine) Stop(ctx context.Context) error {
	return e.lc.Release(func() error {
		e.client = nil
		slog.Info("Elasticsearch engine stopped", "engine", e.name)
		return nil
	})
}

// activeClient reads the client under the lifecycle lock so concurrent Start
// and Stop calls cannot race the read.
func (e *Engine) activeClient() *elasticsearch.Client {
	var client *elasticsearch.Client
	e.lc.Guard(func() { client = e.client })
	return client
}

// Ping checks that the cluster answers requests.
func (e *Engine) Ping(ctx context.Context) error {
	client := e.activeClient()
	if client == nil {
		return fmt.Errorf("engine %q is not started", e.name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("unable to ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("unexpected ping response: %s", res.Status())
	}
	return nil
}

// Health returns the cluster health status, one of green, yellow or red.
func (e *Engine) Health(ctx context.Context) (string, error) {
	client := e.activeClient()
	if client == nil {
		return "", fmt.Errorf("engine %q is not started", e.name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	res, err := client.Cluster.Health(client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("cluster health request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", fmt.Errorf("unexpected cluster health response: %s", res.Status())
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("failed to decode cluster health response: %w", err)
	}
	return health.Status, nil
}

// WaitHealthy polls the cluster health until it reports a non-red status,
// retrying up to retries times spaced by interval. Zero values select the
// defaults of 30 seconds and 10 retries. It returns early when the context
// is cancelled.
func (e *Engine) WaitHealthy(ctx context.Context, interval time.Duration, retries int) error {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if retries <= 0 {
		retries = defaultHealthRetries
	}

	var lastErr error
	for attempt := range retries {
		status, err := e.Health(ctx)
		if err == nil && status != "red" {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("cluster status is %s", status)
		}
		slog.Debug("Cluster not healthy yet", "engine", e.name, "attempt", attempt+1, "error", lastErr)

		if attempt == retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("cluster did not become healthy after %d attempts: %w", retries, lastErr)
}

// Client returns the underlying Elasticsearch client, or an error when the
// engine is not started.
func (e *Engine) Client() (*elasticsearch.Client, error) {
	client := e.activeClient()
	if client == nil {
		return nil, fmt.Errorf("engine %q is not started", e.name)
	}
	return client, nil
}
