package config

import "time"

// Default values for configuration options. These are used when a field is
// absent from the config file and no override is given.
const (
	defaultBaseURL           = "http://localhost:8000/"
	defaultRequestTimeout    = 30 * time.Second
	defaultMaxAttempts       = 3
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30 * time.Second
	defaultWindow            = 10
	defaultEndpointCacheSize = 64
	defaultEndpointCacheTTL  = 5 * time.Minute
	defaultLogLevel          = "info"

	// Globus native app registered for alyx transfers.
	defaultGlobusClientID = "525cc517-8ccb-4d11-8036-af332da5eafd"
	defaultGlobusAPIURL   = "https://transfer.api.globus.org/v0.10"
	defaultGlobusTokenURL = "https://auth.globus.org/v2/oauth2/token"
)

// File names inside the alyx directory.
const (
	configFileName      = "config.toml"
	tokenFileName       = "alyx-token.json"
	credentialsFileName = "credentials"
	globusTokenFileName = "globus-token.json"
	ledgerFileName      = "transfers.db"
)

// DefaultConfig returns a Config with every option at its default. File
// paths stay empty until resolved against the alyx directory.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: defaultBaseURL,
		Network: NetworkConfig{
			RequestTimeout:   defaultRequestTimeout.String(),
			MaxAttempts:      defaultMaxAttempts,
			BreakerThreshold: defaultBreakerThreshold,
			BreakerCooldown:  defaultBreakerCooldown.String(),
		},
		Reconcile: ReconcileConfig{Window: defaultWindow},
		Transfer: TransferConfig{
			EndpointCacheSize: defaultEndpointCacheSize,
			EndpointCacheTTL:  defaultEndpointCacheTTL.String(),
		},
		Globus: GlobusConfig{
			ClientID: defaultGlobusClientID,
			APIURL:   defaultGlobusAPIURL,
			TokenURL: defaultGlobusTokenURL,
		},
		Logging: LoggingConfig{LogLevel: defaultLogLevel},
	}
}
