// Package health provides the monitor pool that probes configured engines
// and exposes their state as Prometheus metrics.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/greyhorse-org/greyhorse/internal/agentconfig"
	"github.com/greyhorse-org/greyhorse/pkg/engine"
)

const (
	defaultProbeInterval = 30 * time.Second
	baseBackoff          = 5 * time.Second
	maxBackoff           = 30 * time.Second
	debounceDuration     = 5 * time.Second
)

// Builder constructs an engine from its configuration entry.
type Builder func(conf agentconfig.EngineConf) (engine.Engine, error)

// Pool is a struct that holds the monitor management logic.
type Pool struct {
	cm    dConfigManager
	build Builder

	mu        sync.Mutex
	monitors  map[string]monitorHandle
	monitorWG sync.WaitGroup

	engineUp       *prometheus.GaugeVec
	probeDuration  *prometheus.HistogramVec
	activeMonitors prometheus.Gauge
}

type monitorHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	conf   agentconfig.EngineConf
}

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	Engines() []agentconfig.EngineConf
	IsConfigured(string) bool
}

// New creates a new monitor pool with the provided config manager, engine
// builder, and Prometheus registerer.
func New(cm dConfigManager, build Builder, reg prometheus.Registerer) (*Pool, error) {
	engineUp := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "greyhorse_engine_up",
		Help: "Whether the last probe of the engine succeeded.",
	}, []string{"engine", "kind"})
	probeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greyhorse_engine_probe_duration_seconds",
		Help:    "Duration of engine health probes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})
	activeMonitors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greyhorse_active_monitors",
		Help: "Number of active engine monitors.",
	})

	for _, c := range []prometheus.Collector{engineUp, probeDuration, activeMonitors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %v", err)
		}
	}

	return &Pool{
		cm:             cm,
		build:          build,
		monitors:       make(map[string]monitorHandle),
		engineUp:       engineUp,
		probeDuration:  probeDuration,
		activeMonitors: activeMonitors,
	}, nil
}

// Run orchestrates and manages the pool of monitors.
//
// It watches the configuration for engine changes and keeps one probing
// goroutine per configured engine.
//
// This is blocking until an error occurs or the context is canceled and all
// monitors are done.
//
// Always returns a non-nil error, which is either a context error or a
// configuration watch error.
func (m *Pool) Run(ctx context.Context) error {
	slog.Info("Health monitor pool started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := m.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	// Initial sync
	m.syncMonitors(ctx)

	// Debounce timer for handling bursts of events
	debounceTimer := time.NewTimer(debounceDuration)
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping monitor pool")
			m.monitorWG.Wait()
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				return fmt.Errorf("reloadEventCh closed unexpectedly")
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounceDuration)

		case <-debounceTimer.C:
			// Timer expired, perform the resync
			slog.Info("Resyncing monitors after configuration change")
			m.syncMonitors(ctx)
			slog.Debug("Completed resyncing monitors")

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				return fmt.Errorf("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				slog.Error("Configuration watcher error", "err", err)
			}
		}
	}
}

// syncMonitors diffs the configured engines and starts/stops goroutines.
// Monitors whose configuration changed are restarted.
func (m *Pool) syncMonitors(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// stop removed
	for name, handle := range m.monitors {
		if !m.cm.IsConfigured(name) {
			handle.cancel()
			<-handle.done
			delete(m.monitors, name)
		}
	}
	// start added or changed
	for _, conf := range m.cm.Engines() {
		if handle, ok := m.monitors[conf.Name]; ok {
			if reflect.DeepEqual(handle.conf, conf) {
				continue
			}
			slog.Info("Engine configuration changed, restarting monitor", "engine", conf.Name)
			// Wait for the old monitor, so its metric cleanup cannot erase
			// the gauges of its replacement.
			handle.cancel()
			<-handle.done
			delete(m.monitors, conf.Name)
		}

		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping monitor sync")
			return // normal shutdown
		default:
		}
		monitorCtx, cancel := context.WithCancel(ctx)
		handle := monitorHandle{cancel: cancel, done: make(chan struct{}), conf: conf}
		m.monitors[conf.Name] = handle
		slog.Info("Starting engine monitor", "engine", conf.Name, "type", conf.Type)
		m.monitorWG.Add(1)
		go func() {
			defer close(handle.done)
			m.monitor(monitorCtx, conf)
		}()
	}
}

// monitor probes a single engine until ctx is canceled.
func (m *Pool) monitor(ctx context.Context, conf agentconfig.EngineConf) {
	defer m.monitorWG.Done()

	m.activeMonitors.Inc()
	defer m.activeMonitors.Dec()
	defer m.engineUp.DeleteLabelValues(conf.Name, conf.Type)

	interval := conf.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	backoff := baseBackoff

	var eng engine.Engine
	defer func() {
		if eng != nil && eng.Active() {
			if err := eng.Stop(context.Background()); err != nil {
				slog.Warn("Failed to stop engine", "engine", conf.Name, "err", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if eng == nil {
			built, err := m.build(conf)
			if err != nil {
				slog.Error("Failed to build engine", "engine", conf.Name, "err", err)
				m.engineUp.WithLabelValues(conf.Name, conf.Type).Set(0)
				if !m.sleep(ctx, jitter(backoff)) {
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			eng = built
		}

		if !eng.Active() {
			if err := eng.Start(ctx); err != nil {
				slog.Warn("Failed to start engine", "engine", conf.Name, "err", err)
				m.engineUp.WithLabelValues(conf.Name, conf.Type).Set(0)
				if !m.sleep(ctx, jitter(backoff)) {
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
		}

		start := time.Now()
		err := eng.Ping(ctx)
		m.probeDuration.WithLabelValues(conf.Name).Observe(time.Since(start).Seconds())

		if err == nil {
			m.engineUp.WithLabelValues(conf.Name, conf.Type).Set(1)
			backoff = baseBackoff
			if !m.sleep(ctx, interval) {
				return
			}
			continue
		}

		slog.Warn("Engine probe failed", "engine", conf.Name, "err", err)
		m.engineUp.WithLabelValues(conf.Name, conf.Type).Set(0)
		if !m.sleep(ctx, jitter(backoff)) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// sleep waits for d or until ctx is canceled, reporting whether the monitor
// should keep running.
func (m *Pool) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func jitter(backoff time.Duration) time.Duration {
	// #nosec:G404 We don't need cryptographic randomness.
	return time.Duration(rand.Int63n(int64(backoff)) + 1)
}
