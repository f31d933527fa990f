package syncstore

// This file defines functional options that configure the Manager during
// construction. Keeping them in a standalone file avoids cluttering
// manager.go and makes it easy to discover all available knobs at a glance.

import (
	"fmt"
	"net/http"
	"time"
)

// Option configures a Manager during construction in New.
//
// Options are applied after the environment config is loaded, so they win
// over SYNC_* variables. Options must be deterministic and side-effect free.
type Option func(*Manager) error

// WithHTTPClient replaces the HTTP client used for remote document writes.
func WithHTTPClient(h *http.Client) Option {
	return func(m *Manager) error {
		if h == nil {
			return fmt.Errorf("http client must not be nil")
		}
		m.http = h
		return nil
	}
}

// WithHTTPTimeout sets the underlying http.Client Timeout.
//
// This timeout is a coarse safety net that bounds the total time spent on a
// single HTTP request (including connection, TLS handshake, redirects, and
// reading the response). The value must be greater than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		m.http.Timeout = d
		return nil
	}
}

// WithDebugLogging wraps the manager's transport so each request/response is
// logged when enabled is true.
//
// Do not enable this option in production environments as it increases
// verbosity and may include headers and payloads in logs.
func WithDebugLogging(enabled bool) Option {
	return func(m *Manager) error {
		if enabled {
			base := m.http.Transport
			if base == nil {
				base = http.DefaultTransport
			}
			m.http.Transport = &debugTransport{base: base}
		}
		return nil
	}
}

// WithCachePath overrides the SQLite cache file location.
func WithCachePath(path string) Option {
	return func(m *Manager) error {
		if path == "" {
			return fmt.Errorf("cache path must not be empty")
		}
		m.cfg.CachePath = path
		return nil
	}
}

// WithDebounce overrides the default debounce interval applied to writes
// that do not carry their own.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("debounce must be > 0")
		}
		m.cfg.Debounce = d
		return nil
	}
}

// WithRateLimit overrides the rolling-window limiter: at most max remote
// writes per window, saturated writes rescheduled after delay.
func WithRateLimit(max int, window, delay time.Duration) Option {
	return func(m *Manager) error {
		if max <= 0 || window <= 0 || delay <= 0 {
			return fmt.Errorf("rate limit values must be > 0")
		}
		m.cfg.MaxWritesPerMinute = max
		m.cfg.RateWindow = window
		m.cfg.RescheduleDelay = delay
		return nil
	}
}

// WithClock injects the wall clock used for write timestamps and quota
// day-boundary checks. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		m.now = now
		return nil
	}
}
