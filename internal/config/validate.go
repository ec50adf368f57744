package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// =============================================================================
// CONFIG VALIDATION
// =============================================================================
//
// PATTERN: ACCUMULATE ERRORS
// Every problem is collected and returned in one *ValidationError so a bad
// file is fixed in one pass instead of one run per mistake.
//
// =============================================================================

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

// Error formats all validation errors as a numbered list.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

var (
	validEngines    = []string{EngineEventQueue, EngineMailbox}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate checks the configuration for mistakes.
// Returns nil if valid, or a *ValidationError with all problems found.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, validateWorkload(&c.Workload)...)

	if c.Workload.Random == nil && len(c.Subscriptions) == 0 {
		errs = append(errs, "subscriptions: at least one subscription is required")
	}
	for i, sub := range c.Subscriptions {
		if strings.TrimSpace(sub.Listener) == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].listener: must not be empty", i))
		}
		if sub.Delay < 0 {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].delay: must be >= 0, got %v", i, sub.Delay))
		}
		if len(c.Workload.Tags) > 0 && !slices.Contains(c.Workload.Tags, sub.Tag) {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].tag: %d is not in workload.tags %v", i, sub.Tag, c.Workload.Tags))
		}
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("poll_interval: must be > 0, got %v", c.PollInterval))
	}
	if c.MinScanInterval < 0 {
		errs = append(errs, fmt.Sprintf("min_scan_interval: must be >= 0, got %v", c.MinScanInterval))
	}

	if len(c.Engines) == 0 {
		errs = append(errs, "engines: at least one engine is required")
	}
	for i, name := range c.Engines {
		if !slices.Contains(validEngines, name) {
			errs = append(errs, fmt.Sprintf("engines[%d]: unknown engine %q (valid: %s)", i, name, strings.Join(validEngines, ", ")))
		}
	}

	if c.Metrics.Enabled {
		if err := validateAddress(c.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.addr: invalid: %v", err))
		}
	}

	if c.Store.Path != "" {
		errs = append(errs, validateStorePath(c.Store.Path)...)
	}
	if c.Store.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Sprintf("store.retry_base_delay: must be >= 0, got %v", c.Store.RetryBaseDelay))
	}
	if c.Store.RetryMaxDelay < 0 {
		errs = append(errs, fmt.Sprintf("store.retry_max_delay: must be >= 0, got %v", c.Store.RetryMaxDelay))
	} else if c.Store.RetryMaxDelay > 0 && c.Store.RetryMaxDelay < c.Store.RetryBaseDelay {
		errs = append(errs, fmt.Sprintf("store.retry_max_delay: %v is below retry_base_delay %v", c.Store.RetryMaxDelay, c.Store.RetryBaseDelay))
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Sprintf("log.level: unknown level %q (valid: %s)", c.Log.Level, strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Sprintf("log.format: unknown format %q (valid: %s)", c.Log.Format, strings.Join(validLogFormats, ", ")))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateWorkload(w *WorkloadConfig) []string {
	var errs []string

	if w.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("workload.duration: must be > 0, got %v", w.Duration))
	}
	if w.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("workload.interval: must be > 0, got %v", w.Interval))
	} else if w.Duration > 0 && w.Interval > w.Duration {
		errs = append(errs, fmt.Sprintf("workload.interval: %v exceeds duration %v", w.Interval, w.Duration))
	}
	if len(w.Tags) == 0 {
		errs = append(errs, "workload.tags: at least one tag is required")
	}
	if w.Grace < 0 {
		errs = append(errs, fmt.Sprintf("workload.grace: must be >= 0, got %v", w.Grace))
	}

	if r := w.Random; r != nil {
		if r.Listeners <= 0 {
			errs = append(errs, fmt.Sprintf("workload.random.listeners: must be > 0, got %d", r.Listeners))
		}
		if r.MaxSubscriptions <= 0 {
			errs = append(errs, fmt.Sprintf("workload.random.max_subscriptions: must be > 0, got %d", r.MaxSubscriptions))
		}
		if r.MinDelay < 0 {
			errs = append(errs, fmt.Sprintf("workload.random.min_delay: must be >= 0, got %v", r.MinDelay))
		}
		if r.MaxDelay < r.MinDelay {
			errs = append(errs, fmt.Sprintf("workload.random.max_delay: %v is below min_delay %v", r.MaxDelay, r.MinDelay))
		}
	}

	return errs
}

// validateStorePath checks that the database file can be created.
func validateStorePath(path string) []string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return []string{fmt.Sprintf("store.path: cannot resolve path %q: %v", path, err)}
	}

	info, err := os.Stat(absPath)
	if err == nil {
		if info.IsDir() {
			return []string{fmt.Sprintf("store.path: %q is a directory", absPath)}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return []string{fmt.Sprintf("store.path: cannot access %q: %v", absPath, err)}
	}

	// File doesn't exist yet -- its directory must
	parent := filepath.Dir(absPath)
	if info, err := os.Stat(parent); err != nil {
		return []string{fmt.Sprintf("store.path: parent %q is not accessible: %v", parent, err)}
	} else if !info.IsDir() {
		return []string{fmt.Sprintf("store.path: parent %q is not a directory", parent)}
	}
	return nil
}

// validateAddress checks that a string is a valid host:port or :port address.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port format: %w", err)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
