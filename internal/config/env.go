package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment variable names for overrides.
const (
	EnvConfig         = "AUTHPIPE_CONFIG"
	EnvAPIKey         = "AUTHPIPE_API_KEY"
	EnvBaseURL        = "AUTHPIPE_BASE_URL"
	EnvStoreKey       = "AUTHPIPE_STORE_KEY"
	EnvStorageBackend = "AUTHPIPE_STORAGE_BACKEND"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath     string `env:"AUTHPIPE_CONFIG"`
	APIKey         string `env:"AUTHPIPE_API_KEY"`
	BaseURL        string `env:"AUTHPIPE_BASE_URL"`
	StoreKey       string `env:"AUTHPIPE_STORE_KEY"`
	StorageBackend string `env:"AUTHPIPE_STORAGE_BACKEND"`
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() (EnvOverrides, error) {
	overrides, err := env.ParseAs[EnvOverrides]()
	if err != nil {
		return EnvOverrides{}, fmt.Errorf("reading environment: %w", err)
	}

	return overrides, nil
}
