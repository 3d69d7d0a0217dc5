package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager holds the current config, reloads it on demand and broadcasts
// changes to subscribers.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	filePath string

	subMu sync.Mutex
	subs  []chan struct{}
}

// NewManager creates a Manager and loads config from the given file path.
// If the file does not exist, defaults plus environment overrides are used.
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{
		filePath: filePath,
	}

	cfg, err := Load(filePath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	m.cfg = cfg
	return m, nil
}

// Get returns a copy of the current config (safe for concurrent reads).
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Path returns the file the config is loaded from.
func (m *Manager) Path() string {
	return m.filePath
}

// Reload re-reads the config file and broadcasts a change event. On error
// the current config is kept.
func (m *Manager) Reload() error {
	cfg, err := Load(m.filePath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.broadcast()
	return nil
}

// Subscribe returns a new channel that receives a signal whenever config is
// reloaded. Each subscriber gets its own channel so multiple goroutines can
// independently listen for changes.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) broadcast() {
	m.subMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.subMu.Unlock()
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("config file not found, using defaults", "path", path)
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides config values from the environment.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("TELEGRAM_TOKEN"); ok {
		cfg.Telegram.BotToken = v
	}
	if v, ok := os.LookupEnv("DATABASE_DRIVER"); ok {
		cfg.Storage.Driver = v
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.Storage.DSN = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.System.LogLevel = v
	}
	if v, ok := os.LookupEnv("BIND_ADDRESS"); ok {
		cfg.System.BindAddress = v
	}
	for _, e := range []struct {
		key string
		dst *int
	}{
		{"POLL_INTERVAL", &cfg.Monitor.PollInterval},
		{"PROBE_TIMEOUT", &cfg.Monitor.ProbeTimeout},
	} {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = n
	}
	return nil
}
