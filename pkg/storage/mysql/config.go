// Package mysql provides the MySQL/MariaDB storage engine on top of database/sql.
package mysql

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/greyhorse-org/greyhorse/internal/secrets"
)

// Config holds the configuration for connecting to a MySQL or MariaDB database.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	PasswordFile string
	Database     string

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	PoolMinSize int
	PoolMaxSize int
	PoolExpiry  time.Duration
	PoolTimeout time.Duration
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 3306
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

// URI assembles a go-sql-driver DSN. An explicit DSN wins over the individual
// fields, and a password file, when present, overrides the inline password.
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

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.User = c.User
	mc.Passwd = password
	mc.DBName = c.Database
	mc.Timeout = c.PoolTimeout
	mc.ParseTime = true

	return mc.FormatDSN(), nil
}
