// Package extauth acquires third-party sign-in tokens that the remote
// service exchanges for its own credential pair. The session controller only
// sees the Acquire capability; how the token is obtained stays here.
package extauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when a source has nothing to hand over.
var ErrNoToken = errors.New("extauth: no token")

// RawToken is a provider-issued token before exchange.
type RawToken struct {
	Provider string
	Token    string
}

// DeviceAuth holds the device code response fields the CLI shows the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// StaticSource hands over a fixed token. Used for scripting (the token is
// obtained out of band) and in tests.
type StaticSource struct {
	Provider string
	Token    string
}

// Acquire returns the configured token.
func (s StaticSource) Acquire(_ context.Context) (RawToken, error) {
	if s.Token == "" {
		return RawToken{}, fmt.Errorf("extauth: static source for %q: %w", s.Provider, ErrNoToken)
	}

	return RawToken{Provider: s.Provider, Token: s.Token}, nil
}

// DeviceFlowConfig describes the identity provider for a DeviceFlowSource.
type DeviceFlowConfig struct {
	Provider      string
	ClientID      string
	DeviceAuthURL string
	TokenURL      string
	Scopes        []string
}

// DeviceFlowSource runs the OAuth2 device authorization grant against an
// identity provider and hands its ID token (or, lacking one, its access
// token) to the exchange.
type DeviceFlowSource struct {
	provider string
	cfg      *oauth2.Config
	display  func(DeviceAuth)
	logger   *slog.Logger
}

// NewDeviceFlowSource creates a DeviceFlowSource. display is called once with
// the user code and verification URL.
func NewDeviceFlowSource(c DeviceFlowConfig, display func(DeviceAuth), logger *slog.Logger) *DeviceFlowSource {
	if logger == nil {
		logger = slog.Default()
	}

	if display == nil {
		display = func(DeviceAuth) {}
	}

	return &DeviceFlowSource{
		provider: c.Provider,
		cfg: &oauth2.Config{
			ClientID: c.ClientID,
			Scopes:   c.Scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: c.DeviceAuthURL,
				TokenURL:      c.TokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		display: display,
		logger:  logger,
	}
}

// Acquire performs the device code flow:
//  1. Requests a device code from the provider
//  2. Calls display so the CLI can show the user code and verification URL
//  3. Polls until the user authorizes (blocking, respects ctx cancellation)
func (s *DeviceFlowSource) Acquire(ctx context.Context) (RawToken, error) {
	s.logger.Info("starting device code auth flow", slog.String("provider", s.provider))

	da, err := s.cfg.DeviceAuth(ctx)
	if err != nil {
		return RawToken{}, fmt.Errorf("extauth: device auth request failed: %w", err)
	}

	s.logger.Info("device code received, waiting for user authorization")

	s.display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := s.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return RawToken{}, fmt.Errorf("extauth: device code authorization failed: %w", err)
	}

	raw := tok.AccessToken
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		raw = id
	}

	if raw == "" {
		return RawToken{}, fmt.Errorf("extauth: provider %q returned no token: %w", s.provider, ErrNoToken)
	}

	s.logger.Info("provider authorized",
		slog.String("provider", s.provider),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("id_token", raw != tok.AccessToken),
	)

	return RawToken{Provider: s.provider, Token: raw}, nil
}

// pollDeadline bounds how long Acquire waits when ctx has no deadline.
const pollDeadline = 15 * time.Minute

// WithDeadline returns ctx bounded by the default device-flow deadline if it
// has none of its own.
func WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, pollDeadline)
}
