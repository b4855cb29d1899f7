// Package testutil provides environment helpers for the E2E suite, which
// runs the built binary against a live catalog. It depends only on stdlib
// so that E2E tests (which cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvBaseURL     = "ALYX_GO_E2E_BASE_URL"
	EnvAllowedURLs = "ALYX_GO_E2E_ALLOWED_URLS"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist returns the catalog URL under test. It fails unless the
// URL appears in the comma-separated allowlist, so a stray environment
// variable can never point the suite at a production catalog.
func ValidateAllowlist() (string, error) {
	baseURL := strings.TrimSpace(os.Getenv(EnvBaseURL))
	if baseURL == "" {
		return "", fmt.Errorf("%s not set", EnvBaseURL)
	}

	allowlist := os.Getenv(EnvAllowedURLs)
	if allowlist == "" {
		return "", fmt.Errorf("%s not set; example: %s=http://localhost:8000/", EnvAllowedURLs, EnvAllowedURLs)
	}

	want := strings.TrimRight(baseURL, "/")

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == want {
			return baseURL, nil
		}
	}

	return "", fmt.Errorf("%s=%q is not in %s=%q", EnvBaseURL, baseURL, EnvAllowedURLs, allowlist)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestCredentials returns .testdata/credentials under the module root.
func FindTestCredentials(moduleRoot string) (string, error) {
	path := filepath.Join(moduleRoot, ".testdata", "credentials")

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s not found; create it with one line: username:password", path)
		}

		return "", err
	}

	return path, nil
}

// CopyFile copies a file from src to dst with the given permissions.
func CopyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}

	return nil
}
