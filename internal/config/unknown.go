package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each valid section name to the keys it accepts.
var knownKeys = map[string][]string{
	"service": {"base_url", "api_key", "login_path", "external_login_path", "refresh_path"},
	"session": {"refresh_interval", "refresh_margin", "retry_delay"},
	"network": {"request_timeout", "refresh_timeout", "connect_timeout", "user_agent", "force_http_11"},
	"storage": {"backend", "path", "namespace", "key_file", "redis_addr", "redis_db"},
	"logging": {"log_level", "log_file", "log_format"},
	"feed":    {"listen", "origin_patterns", "buffer", "write_timeout"},
	"external": {
		"provider", "client_id", "device_auth_url", "token_url", "scopes",
	},
}

// knownSectionsList is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownSectionsList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// allKnownKeysList is every key of every section, used to suggest a section
// for a key written at the top level.
var allKnownKeysList = func() []string {
	var keys []string
	for _, section := range knownKeys {
		keys = append(keys, section...)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		section := key[0]

		if len(key) == 1 {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, buildTopLevelError(section))

			continue
		}

		if _, ok := knownKeys[section]; !ok {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, buildSectionError(section))

			continue
		}

		errs = append(errs, buildKeyError(section, strings.Join(key[1:], ".")))
	}

	return errors.Join(errs...)
}

// buildTopLevelError reports a bare top-level key or table. A misplaced key
// names the section it belongs to; a misspelled table gets a suggestion.
func buildTopLevelError(name string) error {
	for section, keys := range knownKeys {
		for _, k := range keys {
			if k == name {
				return fmt.Errorf("unknown config key %q: it belongs in the [%s] section", name, section)
			}
		}
	}

	if s := closestMatch(name, knownSectionsList); s != "" {
		return fmt.Errorf("unknown config section %q, did you mean [%s]?", name, s)
	}

	if s := closestMatch(name, allKnownKeysList); s != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", name, s)
	}

	return fmt.Errorf("unknown config key %q", name)
}

func buildSectionError(section string) error {
	if s := closestMatch(section, knownSectionsList); s != "" {
		return fmt.Errorf("unknown config section [%s], did you mean [%s]?", section, s)
	}

	return fmt.Errorf("unknown config section [%s]", section)
}

func buildKeyError(section, key string) error {
	if s := closestMatch(key, knownKeys[section]); s != "" {
		return fmt.Errorf("unknown key %q in [%s], did you mean %q?", key, section, s)
	}

	return fmt.Errorf("unknown key %q in [%s]", key, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
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
