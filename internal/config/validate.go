package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	maxAttemptsLimit  = 10
	minWindow         = 0
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks every value and returns all errors found, so users can
// fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBaseURL(cfg.BaseURL)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateReconcile(&cfg.Reconcile)...)
	errs = append(errs, validateTransfer(&cfg.Transfer)...)
	errs = append(errs, validateGlobus(&cfg.Globus)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateBaseURL(raw string) []error {
	if err := validateHTTPURL("base_url", raw); err != nil {
		return []error{err}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDuration("network.request_timeout", n.RequestTimeout, minRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if n.MaxAttempts < 1 || n.MaxAttempts > maxAttemptsLimit {
		errs = append(errs, fmt.Errorf("network.max_attempts: must be between 1 and %d, got %d",
			maxAttemptsLimit, n.MaxAttempts))
	}

	if n.BreakerThreshold < 0 {
		errs = append(errs, fmt.Errorf("network.breaker_threshold: must be >= 0, got %d", n.BreakerThreshold))
	}

	if err := validateDuration("network.breaker_cooldown", n.BreakerCooldown, 0); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateReconcile(r *ReconcileConfig) []error {
	if r.Window < minWindow {
		return []error{fmt.Errorf("reconcile.window: must be >= 0, got %d", r.Window)}
	}

	return nil
}

func validateTransfer(t *TransferConfig) []error {
	var errs []error

	if t.EndpointCacheSize < 1 {
		errs = append(errs, fmt.Errorf("transfer.endpoint_cache_size: must be >= 1, got %d", t.EndpointCacheSize))
	}

	if err := validateDuration("transfer.endpoint_cache_ttl", t.EndpointCacheTTL, time.Second); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateGlobus(g *GlobusConfig) []error {
	var errs []error

	if strings.TrimSpace(g.ClientID) == "" {
		errs = append(errs, errors.New("globus.client_id: must not be empty"))
	}

	if err := validateHTTPURL("globus.api_url", g.APIURL); err != nil {
		errs = append(errs, err)
	}

	if err := validateHTTPURL("globus.token_url", g.TokenURL); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	for _, lvl := range validLogLevels {
		if l.LogLevel == lvl {
			return nil
		}
	}

	return []error{fmt.Errorf("logging.log_level: must be one of %s, got %q",
		strings.Join(validLogLevels, ", "), l.LogLevel)}
}

// validateDuration checks that value parses and is at least minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}
