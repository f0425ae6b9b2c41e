package rmq

// Connection is exported for tests to inject fake broker connections.
type Connection = connection

// WithNewConn is an option to override the default broker dialer.
func WithNewConn(newConn func(cfg Config) (Connection, error)) Options {
	return func(opts *options) {
		opts.newConn = newConn
	}
}

// DialSetup is exported for tests to inspect the dialing parameters.
var DialSetup = dialSetup
