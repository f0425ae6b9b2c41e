package redis

// WithNewClient is an option to override the default client opener.
func WithNewClient(newClient func(cfg Config) (Client, error)) Options {
	return func(opts *options) {
		opts.newClient = newClient
	}
}
