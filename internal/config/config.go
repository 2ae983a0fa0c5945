// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for authpipe. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Session  SessionConfig  `toml:"session"`
	Network  NetworkConfig  `toml:"network"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
	Feed     FeedConfig     `toml:"feed"`
	External ExternalConfig `toml:"external"`
}

// ServiceConfig locates the remote service and its auth endpoints.
// api_key is usually supplied through AUTHPIPE_API_KEY rather than the file.
type ServiceConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	LoginPath         string `toml:"login_path"`
	ExternalLoginPath string `toml:"external_login_path"`
	RefreshPath       string `toml:"refresh_path"`
}

// SessionConfig controls the proactive refresh timer.
type SessionConfig struct {
	RefreshInterval string `toml:"refresh_interval"`
	RefreshMargin   string `toml:"refresh_margin"`
	RetryDelay      string `toml:"retry_delay"`
}

// NetworkConfig controls HTTP client behavior. force_http_11 is useful
// behind proxies that don't support HTTP/2.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	RefreshTimeout string `toml:"refresh_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}

// StorageConfig selects the credential backend. path is the JSON file for
// the file backend and the database for sqlite; empty picks a file in the
// data directory.
type StorageConfig struct {
	Backend   string `toml:"backend"`
	Path      string `toml:"path"`
	Namespace string `toml:"namespace"`
	KeyFile   string `toml:"key_file"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

// LoggingConfig controls log output behavior: level, format, and file.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// FeedConfig controls the serve command's HTTP listener: the websocket
// session feed and /metrics.
type FeedConfig struct {
	Listen         string   `toml:"listen"`
	OriginPatterns []string `toml:"origin_patterns"`
	Buffer         int      `toml:"buffer"`
	WriteTimeout   string   `toml:"write_timeout"`
}

// ExternalConfig describes the identity provider used by "login --external".
type ExternalConfig struct {
	Provider      string   `toml:"provider"`
	ClientID      string   `toml:"client_id"`
	DeviceAuthURL string   `toml:"device_auth_url"`
	TokenURL      string   `toml:"token_url"`
	Scopes        []string `toml:"scopes"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BaseURL    *string // --base-url flag
	Backend    *string // --backend flag
	Listen     *string // serve --listen flag
}

// Resolved is the effective configuration after all four layers, plus the
// values that never live in the file.
type Resolved struct {
	Config

	// ConfigPath is the file the config was read from (it may not exist).
	ConfigPath string

	// StoreKey is the credential encryption secret from AUTHPIPE_STORE_KEY.
	// Empty means the key file is used.
	StoreKey string
}

// mustDuration parses a duration that Validate has already checked.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// Interval returns the parsed session.refresh_interval.
func (s SessionConfig) Interval() time.Duration { return mustDuration(s.RefreshInterval) }

// Margin returns the parsed session.refresh_margin.
func (s SessionConfig) Margin() time.Duration { return mustDuration(s.RefreshMargin) }

// Retry returns the parsed session.retry_delay.
func (s SessionConfig) Retry() time.Duration { return mustDuration(s.RetryDelay) }

// Request returns the parsed network.request_timeout.
func (n NetworkConfig) Request() time.Duration { return mustDuration(n.RequestTimeout) }

// Refresh returns the parsed network.refresh_timeout.
func (n NetworkConfig) Refresh() time.Duration { return mustDuration(n.RefreshTimeout) }

// Connect returns the parsed network.connect_timeout.
func (n NetworkConfig) Connect() time.Duration { return mustDuration(n.ConnectTimeout) }

// Write returns the parsed feed.write_timeout.
func (f FeedConfig) Write() time.Duration { return mustDuration(f.WriteTimeout) }
