package mysql

type SQLDB = sqlDB

// WithNewDB is an option to override the default database opener.
func WithNewDB(newDB func(cfg Config) (SQLDB, error)) Options {
	return func(opts *options) {
		opts.newDB = newDB
	}
}
