package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section, sorted. "" is the top level.
var knownKeys = map[string][]string{
	"":          {"base_url", "credentials_file", "globus", "logging", "network", "reconcile", "token_file", "transfer"},
	"network":   {"breaker_cooldown", "breaker_threshold", "max_attempts", "request_timeout"},
	"reconcile": {"window"},
	"transfer":  {"endpoint_cache_size", "endpoint_cache_ttl", "ledger_file"},
	"globus":    {"api_url", "client_id", "token_file", "token_url"},
	"logging":   {"log_level"},
}

// checkUnknownKeys reports every undecoded key, with a suggestion when a
// known key is close enough. Keys below an unknown section are not repeated.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		switch {
		case len(key) == 1:
			errs = append(errs, topLevelKeyError(key[0]))
		case len(key) == 2 && knownKeys[key[0]] != nil:
			errs = append(errs, sectionKeyError(key[0], key[1]))
		}
	}

	return errors.Join(errs...)
}

func topLevelKeyError(field string) error {
	if section := suggestSection(field); section != "" {
		return fmt.Errorf("config key %q belongs in the [%s] section", field, section)
	}

	if suggestion := closestMatch(field, knownKeys[""]); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", field, suggestion)
	}

	return fmt.Errorf("unknown config key %q", field)
}

func sectionKeyError(section, field string) error {
	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown key %q in [%s], did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings with a
// single-row table.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// suggestSection names the section owning field, for section keys written
// at the top level. Sections are checked in a fixed order.
func suggestSection(field string) string {
	for _, section := range []string{"network", "reconcile", "transfer", "globus", "logging"} {
		if slices.Contains(knownKeys[section], field) {
			return section
		}
	}

	return ""
}
