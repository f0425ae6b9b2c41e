package clickhouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// WithNewConn is an option to override the default connection opener.
func WithNewConn(newConn func(ctx context.Context, cfg Config) (driver.Conn, error)) Options {
	return func(opts *options) {
		opts.newConn = newConn
	}
}
