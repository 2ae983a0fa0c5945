package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
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

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	r := &Resolved{Config: *cfg, ConfigPath: cfgPath, StoreKey: env.StoreKey}

	// 3. Apply env overrides
	if env.APIKey != "" {
		r.Service.APIKey = env.APIKey
	}

	if env.BaseURL != "" {
		r.Service.BaseURL = env.BaseURL
	}

	if env.StorageBackend != "" {
		r.Storage.Backend = env.StorageBackend
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.BaseURL != nil {
		r.Service.BaseURL = *cli.BaseURL
	}

	if cli.Backend != nil {
		r.Storage.Backend = *cli.Backend
	}

	if cli.Listen != nil {
		r.Feed.Listen = *cli.Listen
	}

	// 5. Fill derived paths
	if r.Storage.Path == "" {
		r.Storage.Path = DefaultStoragePath(r.Storage.Backend)
	}

	if r.Storage.KeyFile == "" {
		r.Storage.KeyFile = DefaultKeyPath()
	}

	// 6. Validate the final resolved config
	if err := ValidateResolved(r); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return r, nil
}
