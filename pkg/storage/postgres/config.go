// Package postgres provides the PostgreSQL storage engine.
// It manages a pgx connection pool with a reference counted lifecycle and
// exposes session and transaction helpers on top of it.
package postgres

import (
	"fmt"
	"net/url"
	"time"

	"github.com/greyhorse-org/greyhorse/internal/secrets"
)

// Config holds the configuration for connecting to a PostgreSQL database.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	PasswordFile string
	Database     string
	SSLMode      string

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	PoolMinSize int32
	PoolMaxSize int32
	PoolExpiry  time.Duration
	PoolTimeout time.Duration

	// ForceRollback makes every transaction roll back on completion.
	// Useful for tests that must not leave data behind.
	ForceRollback bool
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		c.Database = "postgres"
	}
	if c.PoolMinSize == 0 {
		c.PoolMinSize = 1
	}
	if c.PoolMaxSize == 0 {
		c.PoolMaxSize = 4
	}
	if c.PoolExpiry == 0 {
		c.PoolExpiry = 60 * time.Second
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 15 * time.Second
	}
	return c
}

// URI assembles a connection URI for PostgreSQL.
// An explicit DSN wins over the individual fields, and a password file, when
// present, overrides the inline password.
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
		Scheme: "postgres",
		User:   user,
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
