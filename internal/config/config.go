// Package config loads taxpilot configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all taxpilot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Tax return scope
	Return ReturnConfig `yaml:"return"`

	// Browser session
	Browser BrowserConfig `yaml:"browser"`

	// Fill orchestrator policy
	Fill FillConfig `yaml:"fill"`

	// Session store
	Store StoreConfig `yaml:"store"`

	// HTTP API
	Server ServerConfig `yaml:"server"`

	// Language-understanding front end
	NLU NLUConfig `yaml:"nlu"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ReturnConfig pins the active tax year and the supported range.
type ReturnConfig struct {
	ActiveYear int `yaml:"active_year"`
	MinYear    int `yaml:"min_year"`
	MaxYear    int `yaml:"max_year"`
}

// BrowserConfig configures the shared UFile browser session.
type BrowserConfig struct {
	ControlURL          string   `yaml:"control_url"` // attach to a running Chrome when set
	Launch              []string `yaml:"launch"`      // binary + flags when launching our own
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	CallTimeoutMs       int      `yaml:"call_timeout_ms"` // per browser-capability call
	LoginURL            string   `yaml:"login_url"`
	Username            string   `yaml:"username"` // env UFILE_USERNAME wins
	Password            string   `yaml:"password"` // env UFILE_PASSWORD wins
}

// FillConfig bounds the orchestrator's retry policy.
type FillConfig struct {
	LocateAttempts int   `yaml:"locate_attempts"` // per-task locate retries
	BackoffMinMs   int   `yaml:"backoff_min_ms"`
	BackoffMaxMs   int   `yaml:"backoff_max_ms"`
	WriteCycleCap  int   `yaml:"write_cycle_cap"` // full Pending restarts on write failure
	ToleranceCents int64 `yaml:"tolerance_cents"` // verify-echo comparison tolerance
	QueueDepth     int   `yaml:"queue_depth"`
}

// StoreConfig locates the SQLite session store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the inbound HTTP API.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	JWTSecret        string `yaml:"jwt_secret"` // env TAXPILOT_JWT_SECRET wins
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// NLUConfig configures the optional Gemini extraction front end.
type NLUConfig struct {
	APIKey string `yaml:"api_key"` // env GEMINI_API_KEY wins
	Model  string `yaml:"model"`
}

// LoggingConfig mirrors the categorized debug logger settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name:    "taxpilot",
		Version: "0.1.0",
		Return: ReturnConfig{
			ActiveYear: 2024,
			MinYear:    2023,
			MaxYear:    2024,
		},
		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1280,
			ViewportHeight:      900,
			NavigationTimeoutMs: 30000,
			CallTimeoutMs:       15000,
			LoginURL:            "https://secure.ufile.ca/account/login?lang=en&mode=UFileT1",
		},
		Fill: FillConfig{
			LocateAttempts: 3,
			BackoffMinMs:   250,
			BackoffMaxMs:   4000,
			WriteCycleCap:  2,
			ToleranceCents: 0,
			QueueDepth:     64,
		},
		Store: StoreConfig{
			DatabasePath: ".taxpilot/sessions.db",
		},
		Server: ServerConfig{
			Addr:             ":8080",
			TokenExpireHours: 1,
		},
		NLU: NLUConfig{
			Model: "gemini-2.0-flash",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from path, merged over defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("UFILE_USERNAME"); v != "" {
		c.Browser.Username = v
	}
	if v := os.Getenv("UFILE_PASSWORD"); v != "" {
		c.Browser.Password = v
	}
	if v := os.Getenv("TAXPILOT_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.NLU.APIKey = v
	}
}

func (c *Config) validate() error {
	r := c.Return
	if r.ActiveYear < r.MinYear || r.ActiveYear > r.MaxYear {
		return fmt.Errorf("active_year %d outside supported range [%d, %d]", r.ActiveYear, r.MinYear, r.MaxYear)
	}
	if c.Fill.LocateAttempts < 1 {
		return fmt.Errorf("locate_attempts must be >= 1, got %d", c.Fill.LocateAttempts)
	}
	if c.Fill.BackoffMinMs <= 0 || c.Fill.BackoffMaxMs < c.Fill.BackoffMinMs {
		return fmt.Errorf("invalid backoff bounds [%dms, %dms]", c.Fill.BackoffMinMs, c.Fill.BackoffMaxMs)
	}
	if c.Fill.ToleranceCents < 0 {
		return fmt.Errorf("tolerance_cents must be >= 0, got %d", c.Fill.ToleranceCents)
	}
	return nil
}

// NavigationTimeout returns the browser navigation timeout.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.NavigationTimeoutMs) * time.Millisecond
}

// CallTimeout returns the per-capability-call timeout.
func (b BrowserConfig) CallTimeout() time.Duration {
	if b.CallTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(b.CallTimeoutMs) * time.Millisecond
}

// BackoffMin returns the lower exponential backoff bound.
func (f FillConfig) BackoffMin() time.Duration {
	return time.Duration(f.BackoffMinMs) * time.Millisecond
}

// BackoffMax returns the upper exponential backoff bound.
func (f FillConfig) BackoffMax() time.Duration {
	return time.Duration(f.BackoffMaxMs) * time.Millisecond
}
