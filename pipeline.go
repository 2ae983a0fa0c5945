package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/authpipe/internal/api"
	"github.com/tonimelisma/authpipe/internal/config"
	"github.com/tonimelisma/authpipe/internal/credstore"
	"github.com/tonimelisma/authpipe/internal/metrics"
	"github.com/tonimelisma/authpipe/internal/refresh"
	"github.com/tonimelisma/authpipe/internal/session"
)

// Pipeline holds the wired request pipeline for one process: the credential
// store, the executor, the refresh coordinator, and the session controller.
type Pipeline struct {
	Store       *credstore.Opened
	Metrics     *metrics.Collector
	Client      *api.Client
	Coordinator *refresh.Coordinator
	Session     *session.Controller
	Resolved    *config.Resolved
}

// NewPipeline opens the configured credential store and wires the pipeline
// components together. The caller must Close it.
func NewPipeline(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*Pipeline, error) {
	key, err := storeKey(cfg)
	if err != nil {
		return nil, err
	}

	store, err := credstore.Open(ctx, credstore.Options{
		Backend:   cfg.Storage.Backend,
		Path:      cfg.Storage.Path,
		Namespace: cfg.Storage.Namespace,
		RedisAddr: cfg.Storage.RedisAddr,
		RedisDB:   cfg.Storage.RedisDB,
		Key:       key,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	collector := metrics.New()

	client := api.NewClient(api.Options{
		BaseURL:        cfg.Service.BaseURL,
		APIKey:         cfg.Service.APIKey,
		UserAgent:      userAgent(cfg),
		RefreshPath:    cfg.Service.RefreshPath,
		RequestTimeout: cfg.Network.Request(),
		RefreshTimeout: cfg.Network.Refresh(),
		HTTPClient:     newHTTPClient(&cfg.Network),
		Metrics:        collector,
	}, store, logger)

	coord := refresh.New(client, client, store, collector, logger)

	ctrl := session.New(client, coord, store, session.Options{
		LoginPath:         cfg.Service.LoginPath,
		ExternalLoginPath: cfg.Service.ExternalLoginPath,
		RefreshInterval:   cfg.Session.Interval(),
		RefreshMargin:     cfg.Session.Margin(),
		RetryDelay:        cfg.Session.Retry(),
	}, logger)

	client.SetRecoverer(coord)
	client.SetTerminator(ctrl)
	coord.SetHooks(ctrl)

	logger.Debug("pipeline ready",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("base_url", cfg.Service.BaseURL),
	)

	return &Pipeline{
		Store:       store,
		Metrics:     collector,
		Client:      client,
		Coordinator: coord,
		Session:     ctrl,
		Resolved:    cfg,
	}, nil
}

// Close stops the refresh timer, waits for an in-flight refresh, and releases
// backend resources.
func (p *Pipeline) Close() error {
	p.Session.Close()
	p.Coordinator.Wait()

	return p.Store.Close()
}

// storeKey returns the secret the store encrypts with: AUTHPIPE_STORE_KEY
// when set, otherwise the key file. The memory backend never persists, so a
// throwaway key is enough.
func storeKey(cfg *config.Resolved) ([]byte, error) {
	if cfg.StoreKey != "" {
		return []byte(cfg.StoreKey), nil
	}

	if cfg.Storage.Backend == credstore.BackendMemory {
		key := make([]byte, credstore.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating store key: %w", err)
		}

		return key, nil
	}

	key, err := credstore.LoadOrCreateKey(cfg.Storage.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading store key: %w", err)
	}

	return key, nil
}

func userAgent(cfg *config.Resolved) string {
	if cfg.Network.UserAgent != "" {
		return cfg.Network.UserAgent
	}

	return "authpipe/" + version
}

// newHTTPClient builds the transport from [network]. Per-call deadlines come
// from the executor, so the client itself has no overall timeout.
func newHTTPClient(n *config.NetworkConfig) *http.Client {
	dialer := &net.Dialer{Timeout: n.Connect(), KeepAlive: 30 * time.Second}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = n.Connect()

	if n.ForceHTTP11 {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return &http.Client{Transport: transport}
}
