// Package config implements TOML configuration loading, validation and path
// resolution for alyx-go. Values resolve through a four-layer chain:
// defaults -> config file -> environment -> CLI flags.
package config

import (
	"path/filepath"
	"time"
)

// Config is the top-level configuration parsed from the TOML file.
type Config struct {
	BaseURL         string          `toml:"base_url"`
	TokenFile       string          `toml:"token_file"`
	CredentialsFile string          `toml:"credentials_file"`
	Network         NetworkConfig   `toml:"network"`
	Reconcile       ReconcileConfig `toml:"reconcile"`
	Transfer        TransferConfig  `toml:"transfer"`
	Globus          GlobusConfig    `toml:"globus"`
	Logging         LoggingConfig   `toml:"logging"`
}

// NetworkConfig controls catalog request timeouts, retries and the circuit
// breaker.
type NetworkConfig struct {
	RequestTimeout   string `toml:"request_timeout"`
	MaxAttempts      int    `toml:"max_attempts"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerCooldown  string `toml:"breaker_cooldown"`
}

// ReconcileConfig controls the reconciliation engine.
type ReconcileConfig struct {
	// Window caps how many missing records one run considers. 0 = all.
	Window int `toml:"window"`
}

// TransferConfig controls the transfer orchestrator and its ledger.
type TransferConfig struct {
	EndpointCacheSize int    `toml:"endpoint_cache_size"`
	EndpointCacheTTL  string `toml:"endpoint_cache_ttl"`
	LedgerFile        string `toml:"ledger_file"`
}

// GlobusConfig locates the Globus native app and its stored tokens.
type GlobusConfig struct {
	ClientID  string `toml:"client_id"`
	TokenFile string `toml:"token_file"`
	APIURL    string `toml:"api_url"`
	TokenURL  string `toml:"token_url"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// RequestTimeoutDuration returns the parsed per-request timeout. Validate has
// already rejected unparsable values, so errors fall back to the default.
func (n NetworkConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(n.RequestTimeout, defaultRequestTimeout)
}

// BreakerCooldownDuration returns the parsed breaker cooldown.
func (n NetworkConfig) BreakerCooldownDuration() time.Duration {
	return parseDurationOr(n.BreakerCooldown, defaultBreakerCooldown)
}

// EndpointCacheTTLDuration returns the parsed endpoint cache TTL.
func (t TransferConfig) EndpointCacheTTLDuration() time.Duration {
	return parseDurationOr(t.EndpointCacheTTL, defaultEndpointCacheTTL)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}

// resolvePaths fills empty file paths from dir and expands "~".
func (c *Config) resolvePaths(dir string) {
	c.TokenFile = pathOr(c.TokenFile, filepath.Join(dir, tokenFileName))
	c.CredentialsFile = pathOr(c.CredentialsFile, filepath.Join(dir, credentialsFileName))
	c.Globus.TokenFile = pathOr(c.Globus.TokenFile, filepath.Join(dir, globusTokenFileName))
	c.Transfer.LedgerFile = pathOr(c.Transfer.LedgerFile, filepath.Join(dir, ledgerFileName))
}

func pathOr(p, fallback string) string {
	if p == "" {
		return fallback
	}

	return expandTilde(p)
}
