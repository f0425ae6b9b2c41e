package metrics_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/greyhorse-org/greyhorse/internal/metrics"
)

func TestServesRegisteredMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "greyhorse_test_gauge", Help: "test gauge"})
	require.NoError(t, reg.Register(gauge))
	gauge.Set(42)

	s := metrics.New(metrics.Config{Host: "localhost"}, reg)
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()
	t.Cleanup(func() { _ = s.Close() })

	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, 5*time.Second, 10*time.Millisecond, "the server should report its address once listening")

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err, "the metrics endpoint should answer")
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "greyhorse_test_gauge 42", "the registered gauge should be exposed")

	require.NoError(t, s.Shutdown(context.Background()), "Shutdown should not have failed")
	require.ErrorIs(t, <-done, http.ErrServerClosed)
}

func TestAddrBeforeListen(t *testing.T) {
	t.Parallel()

	s := metrics.New(metrics.Config{}, prometheus.NewRegistry())
	require.Empty(t, s.Addr(), "Addr should be empty before the server listens")
}
