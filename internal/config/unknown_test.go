package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeUnknown(t *testing.T, content string) error {
	t.Helper()

	md, err := toml.Decode(content, DefaultConfig())
	require.NoError(t, err)

	return checkUnknownKeys(&md)
}

func TestCheckUnknownKeys_AllKnown(t *testing.T) {
	err := decodeUnknown(t, `
[service]
base_url = "https://api.example.com"

[storage]
backend = "memory"
`)
	assert.NoError(t, err)
}

func TestCheckUnknownKeys_MisspelledKey(t *testing.T) {
	err := decodeUnknown(t, `
[network]
conect_timeout = "5s"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "conect_timeout" in [network], did you mean "connect_timeout"?`)
}

func TestCheckUnknownKeys_MisspelledSectionReportedOnce(t *testing.T) {
	err := decodeUnknown(t, `
[sesion]
refresh_interval = "5m"
retry_delay = "10s"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean [session]?")
	assert.Equal(t, 1, countLines(err.Error()))
}

func TestCheckUnknownKeys_TopLevelKeyNamesSection(t *testing.T) {
	err := decodeUnknown(t, `log_level = "debug"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs in the [logging] section")
}

func TestCheckUnknownKeys_NoSuggestion(t *testing.T) {
	err := decodeUnknown(t, `
[feed]
completely_unrelated_option = 1
`)
	require.Error(t, err)
	assert.Equal(t, `unknown key "completely_unrelated_option" in [feed]`, err.Error())
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"backend", "backend", 0},
		{"bakend", "backend", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestClosestMatch_TooFar(t *testing.T) {
	assert.Empty(t, closestMatch("zzzzzzzz", []string{"backend", "path"}))
	assert.Equal(t, "path", closestMatch("pth", []string{"backend", "path"}))
}

func countLines(s string) int {
	n := 1

	for _, r := range s {
		if r == '\n' {
			n++
		}
	}

	return n
}
