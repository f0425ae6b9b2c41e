package postgres

import "context"

type DBPool = dbPool

// WithNewPool is an option to override the default newPool function.
func WithNewPool(newPool func(ctx context.Context, cfg Config) (DBPool, error)) Options {
	return func(opts *options) {
		opts.newPool = newPool
	}
}
