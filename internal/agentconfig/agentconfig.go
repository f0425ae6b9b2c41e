// Package agentconfig provides a configuration manager that loads and watches
// the YAML configuration of the health agent.
package agentconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EngineConf describes a single engine to monitor. Settings holds the
// backend specific connection options and is decoded by the engine builder.
type EngineConf struct {
	Name     string
	Type     string
	Interval time.Duration
	Settings map[string]any
}

// UnmarshalYAML decodes an engine entry, accepting human readable intervals
// like "30s" or "1m".
func (e *EngineConf) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name     string         `yaml:"name"`
		Type     string         `yaml:"type"`
		Interval string         `yaml:"interval"`
		Settings map[string]any `yaml:"settings"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	e.Name = raw.Name
	e.Type = raw.Type
	e.Settings = raw.Settings
	if raw.Interval != "" {
		interval, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", raw.Interval, err)
		}
		e.Interval = interval
	}
	return nil
}

// Conf represents the configuration structure.
type Conf struct {
	Engines []EngineConf `yaml:"engines"`
}

// Manager is a struct that manages the configuration.
type Manager struct {
	config     Conf
	lock       sync.RWMutex
	configPath string

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Options {
	return func(o *options) {
		o.Logger = log
	}
}

// New creates a new configuration manager with the specified path.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		configPath: path,
		log:        opts.Logger,
	}
}

// Load reads the configuration from the specified file and updates the internal state.
func (cm *Manager) Load() error {
	raw, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}

	var newConfig Conf
	if err := yaml.Unmarshal(raw, &newConfig); err != nil {
		return fmt.Errorf("decoding config YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(newConfig.Engines))
	for _, e := range newConfig.Engines {
		if e.Name == "" {
			return fmt.Errorf("engine with type %q has no name", e.Type)
		}
		if _, ok := seen[e.Name]; ok {
			return fmt.Errorf("duplicate engine name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}

	cm.lock.Lock()
	cm.config = newConfig
	cm.lock.Unlock()

	cm.log.Info("Configuration loaded", "engines", len(newConfig.Engines))
	return nil
}

// Watch starts watching the configuration file for changes.
//
// It returns two channels: one for configuration changes which result in a successful load and another for unrecoverable watcher errors.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir, _ := filepath.Split(cm.configPath)
	if configDir == "" {
		configDir = "."
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	cm.log.Info("Watching configuration directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	// Initial load of the configuration
	if err := cm.Load(); err != nil {
		cm.log.Warn("Error loading initial config", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Configuration watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if event.Name != cm.configPath {
					continue
				}

				cm.log.Debug("Configuration file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading config", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// Engines returns the configured engines.
func (cm *Manager) Engines() []EngineConf {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.config.Engines
}

// IsConfigured reports whether an engine with the given name is configured.
func (cm *Manager) IsConfigured(name string) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	for _, e := range cm.config.Engines {
		if e.Name == name {
			return true
		}
	}
	return false
}
