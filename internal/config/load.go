package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file over the defaults and validates
// it. Unknown keys are fatal and come with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise,
// so the client works without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain defaults -> config file -> env -> CLI
// and returns a validated Config with every file path filled in.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	dir := DefaultDir()
	if env.Dir != "" {
		dir = expandTilde(env.Dir)
	}

	cfgPath := DefaultConfigPath(dir)
	if env.ConfigPath != "" {
		cfgPath = expandTilde(env.ConfigPath)
	}

	if cli.ConfigPath != "" {
		cfgPath = expandTilde(cli.ConfigPath)
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.BaseURL != "" {
		cfg.BaseURL = env.BaseURL
	}

	if cli.BaseURL != "" {
		cfg.BaseURL = cli.BaseURL
	}

	cfg.resolvePaths(dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
