package elasticsearch

import "net/http"

// WithTransport is an option to override the HTTP transport of the client.
func WithTransport(rt http.RoundTripper) Options {
	return func(opts *options) {
		opts.transport = rt
	}
}
