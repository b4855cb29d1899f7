package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "/api" }, "base_url"},
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://alyx/" }, "base_url"},
		{"timeout unparsable", func(c *Config) { c.Network.RequestTimeout = "soon" }, "network.request_timeout"},
		{"timeout too short", func(c *Config) { c.Network.RequestTimeout = "10ms" }, "network.request_timeout"},
		{"zero attempts", func(c *Config) { c.Network.MaxAttempts = 0 }, "network.max_attempts"},
		{"too many attempts", func(c *Config) { c.Network.MaxAttempts = 11 }, "network.max_attempts"},
		{"negative breaker", func(c *Config) { c.Network.BreakerThreshold = -1 }, "network.breaker_threshold"},
		{"negative window", func(c *Config) { c.Reconcile.Window = -1 }, "reconcile.window"},
		{"empty cache", func(c *Config) { c.Transfer.EndpointCacheSize = 0 }, "transfer.endpoint_cache_size"},
		{"ttl too short", func(c *Config) { c.Transfer.EndpointCacheTTL = "1ms" }, "transfer.endpoint_cache_ttl"},
		{"no client id", func(c *Config) { c.Globus.ClientID = " " }, "globus.client_id"},
		{"bad token url", func(c *Config) { c.Globus.TokenURL = "auth" }, "globus.token_url"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "verbose" }, "logging.log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.MaxAttempts = 0
	cfg.Logging.LogLevel = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "log_level")
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "window", closestMatch("windw", knownKeys["reconcile"]))
	assert.Empty(t, closestMatch("completely_different", knownKeys["reconcile"]))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "abcd"))
}
