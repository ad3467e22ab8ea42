package models

import (
	"fmt"
	"net/url"
	"time"
)

// Timeouts mirrors the WebDriver timeouts object, in milliseconds.
type Timeouts struct {
	PageLoad int64 `json:"pageLoad" yaml:"pageLoad"`
	Script   int64 `json:"script" yaml:"script"`
	Implicit int64 `json:"implicit" yaml:"implicit"`
}

func (t Timeouts) PageLoadDuration() time.Duration {
	return time.Duration(t.PageLoad) * time.Millisecond
}

func (t Timeouts) ScriptDuration() time.Duration {
	return time.Duration(t.Script) * time.Millisecond
}

func (t Timeouts) ImplicitDuration() time.Duration {
	return time.Duration(t.Implicit) * time.Millisecond
}

// Settings is the complete configuration of one session. It is replaced as a
// whole on reset and never merged field by field.
type Settings struct {
	Headless  bool     `json:"headless" yaml:"headless"`
	UserAgent string   `json:"userAgent,omitempty" yaml:"userAgent"`
	Proxy     string   `json:"proxy,omitempty" yaml:"proxy"`
	Timeouts  Timeouts `json:"timeouts" yaml:"timeouts"`

	// LoadTimeoutStatus is posted to the load status slot when a navigation
	// does not settle within the page-load timeout. Zero leaves the slot
	// unset, so a stalled load reads the same as one still in progress.
	LoadTimeoutStatus int `json:"loadTimeoutStatus,omitempty" yaml:"loadTimeoutStatus"`

	// MaxLogEntries bounds the session log sink.
	MaxLogEntries int `json:"maxLogEntries,omitempty" yaml:"maxLogEntries"`
}

// DefaultSettings returns the settings used when a session is created
// without explicit ones.
func DefaultSettings() Settings {
	return Settings{
		Headless: true,
		Timeouts: Timeouts{
			PageLoad: 30000,
			Script:   30000,
		},
		MaxLogEntries: 1000,
	}
}

// Validate checks that the settings can be applied to an engine.
func (s Settings) Validate() error {
	if s.Timeouts.PageLoad <= 0 {
		return fmt.Errorf("pageLoad timeout must be positive")
	}
	if s.Timeouts.Script < 0 || s.Timeouts.Implicit < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if s.LoadTimeoutStatus < 0 {
		return fmt.Errorf("loadTimeoutStatus must not be negative")
	}
	if s.MaxLogEntries < 0 {
		return fmt.Errorf("maxLogEntries must not be negative")
	}
	if s.Proxy != "" {
		u, err := url.Parse(s.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid proxy url %q", s.Proxy)
		}
	}
	return nil
}

// Dirs are the storage locations a session exposes read-only to callers.
type Dirs struct {
	UserData    string `json:"userData"`
	Cache       string `json:"cache"`
	Attachments string `json:"attachments"`
	Media       string `json:"media"`
}
