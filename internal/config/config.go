// Package config loads the server configuration from an optional YAML file
// and JBD_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

type Config struct {
	Addr   string       `yaml:"addr"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`

	// StorageRoot holds profiles and per-session directories.
	StorageRoot string `yaml:"storageRoot"`

	// Backend is the engine used when a session does not ask for one.
	Backend string    `yaml:"backend"`
	CDP     CDPConfig `yaml:"cdp"`

	RateLimit          RateLimitConfig `yaml:"rateLimit"`
	SessionsPerProject int64           `yaml:"sessionsPerProject"`
	DispatchGrace      time.Duration   `yaml:"dispatchGrace"`
	// SessionRetention is how long finished sessions stay visible.
	SessionRetention   time.Duration   `yaml:"sessionRetention"`

	// Defaults are the settings of sessions created without explicit ones.
	Defaults models.Settings `yaml:"defaults"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type CDPConfig struct {
	// URL is a ws:// browser endpoint or an http:// DevTools address.
	URL string `yaml:"url"`
	// Launch starts a Chrome container per session instead.
	Launch         bool          `yaml:"launch"`
	Image          string        `yaml:"image"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
}

// Enabled reports whether the cdp backend has a browser to talk to.
func (c CDPConfig) Enabled() bool {
	return c.URL != "" || c.Launch
}

type RateLimitConfig struct {
	PerHour int `yaml:"perHour"`
	Burst   int `yaml:"burst"`
}

func Default() Config {
	return Config{
		Addr: ":8080",
		Log:  LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		StorageRoot:        "./storage",
		Backend:            "static",
		CDP:                CDPConfig{CommandTimeout: 30 * time.Second},
		RateLimit:          RateLimitConfig{PerHour: 100, Burst: 10},
		SessionsPerProject: 10,
		DispatchGrace:      20 * time.Millisecond,
		SessionRetention:   time.Hour,
		Defaults:           models.DefaultSettings(),
	}
}

// Load builds the configuration. An empty path falls back to JBD_CONFIG;
// a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("JBD_CONFIG")
	}
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("JBD_ADDR", &cfg.Addr)
	str("JBD_BACKEND", &cfg.Backend)
	str("JBD_LOG_LEVEL", &cfg.Log.Level)
	str("JBD_LOG_FORMAT", &cfg.Log.Format)
	str("JBD_STORAGE_ROOT", &cfg.StorageRoot)
	str("JBD_CDP_URL", &cfg.CDP.URL)
	str("JBD_CDP_IMAGE", &cfg.CDP.Image)

	if v, ok := lookup("JBD_CDP_LAUNCH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("JBD_CDP_LAUNCH: %w", err)
		}
		cfg.CDP.Launch = b
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"JBD_RATE_PER_HOUR", &cfg.RateLimit.PerHour},
		{"JBD_RATE_BURST", &cfg.RateLimit.Burst},
	}
	for _, it := range ints {
		if v, ok := lookup(it.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", it.key, err)
			}
			*it.dst = n
		}
	}

	if v, ok := lookup("JBD_SESSIONS_PER_PROJECT"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("JBD_SESSIONS_PER_PROJECT: %w", err)
		}
		cfg.SessionsPerProject = n
	}
	if v, ok := lookup("JBD_DISPATCH_GRACE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JBD_DISPATCH_GRACE: %w", err)
		}
		cfg.DispatchGrace = d
	}
	if v, ok := lookup("JBD_SESSION_RETENTION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JBD_SESSION_RETENTION: %w", err)
		}
		cfg.SessionRetention = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storageRoot is required")
	}
	switch c.Backend {
	case "static":
	case "cdp":
		if !c.CDP.Enabled() {
			return fmt.Errorf("backend cdp needs cdp.url or cdp.launch")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.CDP.URL != "" && c.CDP.Launch {
		return fmt.Errorf("cdp.url and cdp.launch are mutually exclusive")
	}
	if c.RateLimit.PerHour < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.SessionsPerProject <= 0 {
		return fmt.Errorf("sessionsPerProject must be positive")
	}
	if c.DispatchGrace < 0 {
		return fmt.Errorf("dispatchGrace must not be negative")
	}
	if c.SessionRetention < 0 {
		return fmt.Errorf("sessionRetention must not be negative")
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}
