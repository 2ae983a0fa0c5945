package config

import (
	"fmt"
	"io"
	"strings"
)

// maskedSecret replaces secrets in rendered output.
const maskedSecret = "********"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied. Secrets are masked.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %q)\n\n", r.ConfigPath)

	renderServiceSection(ew, &r.Service)
	renderSessionSection(ew, &r.Session)
	renderNetworkSection(ew, &r.Network)
	renderStorageSection(ew, r)
	renderLoggingSection(ew, &r.Logging)
	renderFeedSection(ew, &r.Feed)
	renderExternalSection(ew, &r.External)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return maskedSecret
}

func renderServiceSection(ew *errWriter, s *ServiceConfig) {
	ew.printf("[service]\n")
	ew.printf("  base_url            = %q\n", s.BaseURL)
	ew.printf("  api_key             = %q\n", mask(s.APIKey))
	ew.printf("  login_path          = %q\n", s.LoginPath)
	ew.printf("  external_login_path = %q\n", s.ExternalLoginPath)
	ew.printf("  refresh_path        = %q\n", s.RefreshPath)
	ew.printf("\n")
}

func renderSessionSection(ew *errWriter, s *SessionConfig) {
	ew.printf("[session]\n")
	ew.printf("  refresh_interval = %q\n", s.RefreshInterval)
	ew.printf("  refresh_margin   = %q\n", s.RefreshMargin)
	ew.printf("  retry_delay      = %q\n", s.RetryDelay)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  request_timeout = %q\n", n.RequestTimeout)
	ew.printf("  refresh_timeout = %q\n", n.RefreshTimeout)
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  force_http_11   = %t\n", n.ForceHTTP11)
	ew.printf("\n")
}

func renderStorageSection(ew *errWriter, r *Resolved) {
	s := &r.Storage

	ew.printf("[storage]\n")
	ew.printf("  backend   = %q\n", s.Backend)
	ew.printf("  namespace = %q\n", s.Namespace)

	switch s.Backend {
	case "file", "sqlite":
		ew.printf("  path      = %q\n", s.Path)
	case "redis":
		ew.printf("  redis_addr = %q\n", s.RedisAddr)
		ew.printf("  redis_db   = %d\n", s.RedisDB)
	}

	if r.StoreKey != "" {
		ew.printf("  # key from %s\n", EnvStoreKey)
	} else {
		ew.printf("  key_file  = %q\n", s.KeyFile)
	}

	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderFeedSection(ew *errWriter, f *FeedConfig) {
	ew.printf("[feed]\n")
	ew.printf("  listen        = %q\n", f.Listen)
	ew.printf("  buffer        = %d\n", f.Buffer)
	ew.printf("  write_timeout = %q\n", f.WriteTimeout)

	if len(f.OriginPatterns) > 0 {
		ew.printf("  origin_patterns = [%s]\n", joinQuoted(f.OriginPatterns))
	}
}

func renderExternalSection(ew *errWriter, e *ExternalConfig) {
	if e.Provider == "" {
		return
	}

	ew.printf("\n[external]\n")
	ew.printf("  provider        = %q\n", e.Provider)
	ew.printf("  client_id       = %q\n", e.ClientID)
	ew.printf("  device_auth_url = %q\n", e.DeviceAuthURL)
	ew.printf("  token_url       = %q\n", e.TokenURL)
	ew.printf("  scopes          = [%s]\n", joinQuoted(e.Scopes))
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
