package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "ALYX_GO_CONFIG"
	EnvBaseURL = "ALYX_GO_BASE_URL"
	EnvDir     = "ALYX_GO_DIR"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string // ALYX_GO_CONFIG: config file path
	BaseURL    string // ALYX_GO_BASE_URL: catalog base URL
	Dir        string // ALYX_GO_DIR: directory for tokens, credentials and ledger
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		Dir:        os.Getenv(EnvDir),
	}
}

// CLIOverrides holds values from command-line flags. Empty means unset.
type CLIOverrides struct {
	ConfigPath string
	BaseURL    string
}
