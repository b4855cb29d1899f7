package config

import (
	"os"
	"path/filepath"
	"strings"
)

// appDirName is the per-user directory shared with other alyx clients.
const appDirName = ".alyx"

// DefaultDir returns ~/.alyx, or "" when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, appDirName)
}

// DefaultConfigPath returns the config file path inside dir.
func DefaultConfigPath(dir string) string {
	return filepath.Join(dir, configFileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
