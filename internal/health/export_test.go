package health

import "github.com/prometheus/client_golang/prometheus"

// ActiveMonitors exposes the active monitors gauge for tests.
func (m *Pool) ActiveMonitors() prometheus.Gauge {
	return m.activeMonitors
}
