package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure read from config.yaml.
type Config struct {
	System        SystemConfig   `yaml:"system"`
	Monitor       MonitorConfig  `yaml:"monitor"`
	BaselineSites []string       `yaml:"baseline_sites"`
	Telegram      TelegramConfig `yaml:"telegram"`
	Storage       StorageConfig  `yaml:"storage"`
	Admin         AdminConfig    `yaml:"admin"`
}

type SystemConfig struct {
	BindAddress string `yaml:"bind_address"`
	LogLevel    string `yaml:"log_level"`
}

// MonitorConfig controls the poll loop. Durations are in seconds unless
// the field name says otherwise.
type MonitorConfig struct {
	PollInterval int `yaml:"poll_interval"`
	ProbeTimeout int `yaml:"probe_timeout"`
	RetryDelayMs int `yaml:"retry_delay_ms"`
	PageSize     int `yaml:"page_size"`
	CycleTimeout int `yaml:"cycle_timeout"`
}

type TelegramConfig struct {
	BotToken      string  `yaml:"bot_token"`
	APIURL        string  `yaml:"api_url"`
	WebhookURL    string  `yaml:"webhook_url"`
	WebhookSecret string  `yaml:"webhook_secret"`
	SendRate      float64 `yaml:"send_rate"`
	SendBurst     int     `yaml:"send_burst"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AdminConfig protects the admin API. The API is disabled while
// PasswordHash is empty.
type AdminConfig struct {
	Username         string `yaml:"username"`
	PasswordHash     string `yaml:"password_hash"`
	MaxLoginAttempts int    `yaml:"max_login_attempts"`
	LockoutDuration  int    `yaml:"lockout_duration"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		System: SystemConfig{
			BindAddress: ":8080",
			LogLevel:    "info",
		},
		Monitor: MonitorConfig{
			PollInterval: 600,
			ProbeTimeout: 30,
			RetryDelayMs: 500,
			PageSize:     100,
			CycleTimeout: 1800,
		},
		BaselineSites: []string{
			"https://www.google.com",
			"https://www.cloudflare.com",
			"https://www.wikipedia.org",
		},
		Telegram: TelegramConfig{
			APIURL:    "https://api.telegram.org",
			SendRate:  25,
			SendBurst: 5,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			DSN:    "mandown.db",
		},
		Admin: AdminConfig{
			Username:         "admin",
			MaxLoginAttempts: 5,
			LockoutDuration:  900,
		},
	}
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.System.BindAddress == "" {
		c.System.BindAddress = d.System.BindAddress
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = d.System.LogLevel
	}
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = d.Monitor.PollInterval
	}
	if c.Monitor.ProbeTimeout <= 0 {
		c.Monitor.ProbeTimeout = d.Monitor.ProbeTimeout
	}
	if c.Monitor.RetryDelayMs < 0 {
		c.Monitor.RetryDelayMs = d.Monitor.RetryDelayMs
	}
	if c.Monitor.PageSize <= 0 {
		c.Monitor.PageSize = d.Monitor.PageSize
	}
	if c.Monitor.CycleTimeout <= 0 {
		c.Monitor.CycleTimeout = d.Monitor.CycleTimeout
	}
	if c.BaselineSites == nil {
		c.BaselineSites = d.BaselineSites
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = d.Telegram.APIURL
	}
	if c.Telegram.SendRate <= 0 {
		c.Telegram.SendRate = d.Telegram.SendRate
	}
	if c.Telegram.SendBurst <= 0 {
		c.Telegram.SendBurst = d.Telegram.SendBurst
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.DSN == "" && c.Storage.Driver == d.Storage.Driver {
		c.Storage.DSN = d.Storage.DSN
	}
	if c.Admin.Username == "" {
		c.Admin.Username = d.Admin.Username
	}
	if c.Admin.MaxLoginAttempts <= 0 {
		c.Admin.MaxLoginAttempts = d.Admin.MaxLoginAttempts
	}
	if c.Admin.LockoutDuration <= 0 {
		c.Admin.LockoutDuration = d.Admin.LockoutDuration
	}
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.System.LogLevel] {
		errs = append(errs, fmt.Sprintf("system.log_level must be one of: debug, info, warn, error (got %q)", c.System.LogLevel))
	}

	m := c.Monitor
	if m.PollInterval < 5 {
		errs = append(errs, "monitor.poll_interval must be >= 5 seconds")
	}
	if m.ProbeTimeout <= 0 {
		errs = append(errs, "monitor.probe_timeout must be > 0")
	}
	if m.PageSize <= 0 {
		errs = append(errs, "monitor.page_size must be > 0")
	}
	// Two attempts per probe must fit inside one cycle.
	if m.CycleTimeout < 2*m.ProbeTimeout {
		errs = append(errs, fmt.Sprintf("monitor.cycle_timeout (%d) must be >= twice probe_timeout (%d)", m.CycleTimeout, m.ProbeTimeout))
	}

	for i, site := range c.BaselineSites {
		if u, err := url.Parse(site); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("baseline_sites[%d] must be a valid http(s) URL (got %q)", i, site))
		}
	}

	if c.Telegram.APIURL != "" {
		if u, err := url.Parse(c.Telegram.APIURL); err != nil || u.Host == "" {
			errs = append(errs, "telegram.api_url must be a valid URL")
		}
	}
	if c.Telegram.WebhookURL != "" {
		if u, err := url.Parse(c.Telegram.WebhookURL); err != nil || u.Scheme != "https" {
			errs = append(errs, "telegram.webhook_url must be an https URL")
		}
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Sprintf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver must be memory, file, sqlite, or postgres (got %q)", c.Storage.Driver))
	}

	if c.Admin.PasswordHash != "" && c.Admin.Username == "" {
		errs = append(errs, "admin.username is required when admin.password_hash is set")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

// PollEvery returns the idle time between cycles.
func (m MonitorConfig) PollEvery() time.Duration {
	return time.Duration(m.PollInterval) * time.Second
}

// Timeout returns the per-attempt probe timeout.
func (m MonitorConfig) Timeout() time.Duration {
	return time.Duration(m.ProbeTimeout) * time.Second
}

// RetryDelay returns the pause between the two probe attempts.
func (m MonitorConfig) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelayMs) * time.Millisecond
}

// CycleBound returns the upper bound on one poll cycle.
func (m MonitorConfig) CycleBound() time.Duration {
	return time.Duration(m.CycleTimeout) * time.Second
}
