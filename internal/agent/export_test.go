package agent

import "time"

// WithMaxDegradedDuration overrides how long Run waits for a second
// sub-service to finish before giving up.
func WithMaxDegradedDuration(d time.Duration) Option {
	return func(o *options) {
		o.maxDegradedDuration = d
	}
}
