package agent_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greyhorse-org/greyhorse/internal/agent"
)

// blockingPool runs until its context is canceled, optionally failing first.
type blockingPool struct {
	runErr error

	started chan struct{}
}

func newBlockingPool(runErr error) *blockingPool {
	return &blockingPool{runErr: runErr, started: make(chan struct{})}
}

func (p *blockingPool) Run(ctx context.Context) error {
	close(p.started)
	if p.runErr != nil {
		return p.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

// fakeMetricsServer mimics the blocking behavior of an HTTP server.
type fakeMetricsServer struct {
	serveErr error

	quit chan struct{}
}

func newFakeMetricsServer(serveErr error) *fakeMetricsServer {
	return &fakeMetricsServer{serveErr: serveErr, quit: make(chan struct{})}
}

func (s *fakeMetricsServer) ListenAndServe() error {
	if s.serveErr != nil {
		return s.serveErr
	}
	<-s.quit
	return http.ErrServerClosed
}

func (s *fakeMetricsServer) stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *fakeMetricsServer) Shutdown(ctx context.Context) error { s.stop(); return nil }
func (s *fakeMetricsServer) Close() error                       { s.stop(); return nil }

func TestRunAndGracefulQuit(t *testing.T) {
	t.Parallel()

	pool := newBlockingPool(nil)
	ms := newFakeMetricsServer(nil)
	s := agent.New(t.Context(), pool, ms)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	select {
	case <-pool.started:
	case <-time.After(5 * time.Second):
		t.Fatal("the monitor pool was not started")
	}

	s.Quit(false)
	select {
	case err := <-done:
		require.NoError(t, err, "a graceful quit should not produce an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
}

func TestRunAndForceQuit(t *testing.T) {
	t.Parallel()

	pool := newBlockingPool(nil)
	ms := newFakeMetricsServer(nil)
	s := agent.New(t.Context(), pool, ms)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	<-pool.started

	s.Quit(true)
	select {
	case err := <-done:
		require.NoError(t, err, "a forced quit should not produce an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a forced Quit")
	}
}

func TestMonitorPoolFailureStopsService(t *testing.T) {
	t.Parallel()

	pool := newBlockingPool(errors.New("watcher exploded"))
	ms := newFakeMetricsServer(nil)
	s := agent.New(t.Context(), pool, ms)

	err := s.Run()
	require.Error(t, err, "a failing monitor pool should surface an error")
	require.ErrorContains(t, err, "watcher exploded")
}

func TestMetricsFailureStopsService(t *testing.T) {
	t.Parallel()

	pool := newBlockingPool(nil)
	ms := newFakeMetricsServer(errors.New("port already in use"))
	s := agent.New(t.Context(), pool, ms)

	err := s.Run()
	require.Error(t, err, "a failing metrics server should surface an error")
	require.ErrorContains(t, err, "port already in use")
}

func TestRunAfterQuitFails(t *testing.T) {
	t.Parallel()

	pool := newBlockingPool(nil)
	ms := newFakeMetricsServer(nil)
	s := agent.New(t.Context(), pool, ms)

	s.Quit(false)
	require.Error(t, s.Run(), "Run on a closed service should fail")
}

func TestTeardownTimeout(t *testing.T) {
	t.Parallel()

	// A pool that ignores cancellation keeps the service degraded.
	pool := stubbornPool{}
	ms := newFakeMetricsServer(errors.New("boom"))
	s := agent.New(t.Context(), pool, ms, agent.WithMaxDegradedDuration(50*time.Millisecond))

	err := s.Run()
	require.ErrorIs(t, err, agent.ErrTeardownTimeout)
}

type stubbornPool struct{}

func (stubbornPool) Run(ctx context.Context) error {
	select {} // Never returns.
}
