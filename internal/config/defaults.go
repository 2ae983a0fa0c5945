package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultLoginPath         = "/auth/login"
	defaultExternalLoginPath = "/auth/external"
	defaultRefreshPath       = "/auth/refresh"
	defaultRefreshInterval   = "10m"
	defaultRefreshMargin     = "1m"
	defaultRetryDelay        = "30s"
	defaultRequestTimeout    = "30s"
	defaultRefreshTimeout    = "15s"
	defaultConnectTimeout    = "10s"
	defaultBackend           = "file"
	defaultNamespace         = "authpipe"
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultFeedListen        = "127.0.0.1:8787"
	defaultFeedBuffer        = 16
	defaultFeedWriteTimeout  = "5s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			LoginPath:         defaultLoginPath,
			ExternalLoginPath: defaultExternalLoginPath,
			RefreshPath:       defaultRefreshPath,
		},
		Session: SessionConfig{
			RefreshInterval: defaultRefreshInterval,
			RefreshMargin:   defaultRefreshMargin,
			RetryDelay:      defaultRetryDelay,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			RefreshTimeout: defaultRefreshTimeout,
			ConnectTimeout: defaultConnectTimeout,
		},
		Storage: StorageConfig{
			Backend:   defaultBackend,
			Namespace: defaultNamespace,
			RedisAddr: defaultRedisAddr,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Feed: FeedConfig{
			Listen:       defaultFeedListen,
			Buffer:       defaultFeedBuffer,
			WriteTimeout: defaultFeedWriteTimeout,
		},
		External: ExternalConfig{
			Scopes: []string{"openid", "email"},
		},
	}
}
