package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRefreshInterval = 10 * time.Second
	minRetryDelay      = 1 * time.Second
	minRequestTimeout  = 1 * time.Second
	minRefreshTimeout  = 1 * time.Second
	minConnectTimeout  = 1 * time.Second
	minWriteTimeout    = 100 * time.Millisecond
	minFeedBuffer      = 1
	maxRedisDB         = 15
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateService(&cfg.Service)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateFeed(&cfg.Feed)...)
	errs = append(errs, validateExternal(&cfg.External)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints on the final merged result. Unlike
// Validate, which checks raw config file values, this runs after the
// four-layer override chain has been applied, so env and CLI values are
// checked too.
func ValidateResolved(r *Resolved) error {
	var errs []error

	errs = append(errs, validateBaseURL(r.Service.BaseURL)...)
	errs = append(errs, validateBackend(r.Storage.Backend)...)

	needsPath := r.Storage.Backend == "file" || r.Storage.Backend == "sqlite"
	if needsPath && r.Storage.Path != "" && !filepath.IsAbs(r.Storage.Path) {
		errs = append(errs, fmt.Errorf("storage.path: must be absolute, got %q", r.Storage.Path))
	}

	return errors.Join(errs...)
}

// RequireService reports whether the resolved config can reach the service.
// Commands that only inspect local state skip this check.
func (r *Resolved) RequireService() error {
	var errs []error

	if r.Service.BaseURL == "" {
		errs = append(errs, fmt.Errorf("service.base_url: not set (use the config file, %s, or --base-url)", EnvBaseURL))
	}

	if r.Service.APIKey == "" {
		errs = append(errs, fmt.Errorf("service.api_key: not set (use the config file or %s)", EnvAPIKey))
	}

	return errors.Join(errs...)
}

func validateService(s *ServiceConfig) []error {
	var errs []error

	errs = append(errs, validateBaseURL(s.BaseURL)...)
	errs = append(errs, validateEndpointPath("service.login_path", s.LoginPath)...)
	errs = append(errs, validateEndpointPath("service.external_login_path", s.ExternalLoginPath)...)
	errs = append(errs, validateEndpointPath("service.refresh_path", s.RefreshPath)...)

	return errs
}

// validateBaseURL accepts an empty value; RequireService catches that case
// for the commands that need it.
func validateBaseURL(raw string) []error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("service.base_url: %w", err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("service.base_url: scheme must be http or https, got %q", raw)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("service.base_url: missing host in %q", raw)}
	}

	return nil
}

func validateEndpointPath(field, p string) []error {
	if !strings.HasPrefix(p, "/") {
		return []error{fmt.Errorf("%s: must start with /, got %q", field, p)}
	}

	return nil
}

func validateSession(s *SessionConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("session.refresh_interval", s.RefreshInterval, minRefreshInterval)...)
	errs = append(errs, validateDurationNonNeg("session.refresh_margin", s.RefreshMargin)...)
	errs = append(errs, validateDurationMin("session.retry_delay", s.RetryDelay, minRetryDelay)...)

	if len(errs) == 0 && s.Margin() >= s.Interval() {
		errs = append(errs, fmt.Errorf("session.refresh_margin: must be less than refresh_interval (%s), got %s",
			s.RefreshInterval, s.RefreshMargin))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.request_timeout", n.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDurationMin("network.refresh_timeout", n.RefreshTimeout, minRefreshTimeout)...)
	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)

	return errs
}

var validBackends = map[string]bool{
	"file":   true,
	"sqlite": true,
	"redis":  true,
	"memory": true,
}

func validateBackend(b string) []error {
	if !validBackends[b] {
		return []error{fmt.Errorf("storage.backend: must be one of file, sqlite, redis, memory; got %q", b)}
	}

	return nil
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	errs = append(errs, validateBackend(s.Backend)...)

	if s.Namespace == "" {
		errs = append(errs, errors.New("storage.namespace: must not be empty"))
	}

	if s.RedisDB < 0 || s.RedisDB > maxRedisDB {
		errs = append(errs, fmt.Errorf("storage.redis_db: must be between 0 and %d, got %d", maxRedisDB, s.RedisDB))
	}

	if s.Backend == "redis" && s.RedisAddr == "" {
		errs = append(errs, errors.New("storage.redis_addr: required for the redis backend"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateFeed(f *FeedConfig) []error {
	var errs []error

	if f.Listen == "" {
		errs = append(errs, errors.New("feed.listen: must not be empty"))
	}

	if f.Buffer < minFeedBuffer {
		errs = append(errs, fmt.Errorf("feed.buffer: must be >= %d, got %d", minFeedBuffer, f.Buffer))
	}

	errs = append(errs, validateDurationMin("feed.write_timeout", f.WriteTimeout, minWriteTimeout)...)

	return errs
}

// validateExternal only checks the provider block when one is configured.
func validateExternal(e *ExternalConfig) []error {
	if e.Provider == "" {
		return nil
	}

	var errs []error

	if e.ClientID == "" {
		errs = append(errs, errors.New("external.client_id: required when provider is set"))
	}

	for field, raw := range map[string]string{
		"external.device_auth_url": e.DeviceAuthURL,
		"external.token_url":       e.TokenURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw))
		}
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}
