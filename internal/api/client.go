package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/authpipe/internal/credstore"
)

// Header names understood by the remote service. The access token header
// carries the raw token with no scheme prefix.
const (
	HeaderAPIKey       = "X-Api-Key"
	HeaderAccessToken  = "Authorization"
	HeaderRefreshToken = "X-Refresh-Token"
	HeaderRequestID    = "X-Request-ID"
)

const (
	defaultUserAgent      = "authpipe/0.1"
	defaultRefreshPath    = "/auth/refresh"
	defaultRequestTimeout = 30 * time.Second
	defaultRefreshTimeout = 15 * time.Second

	// maxBodyBytes caps how much of a response body is buffered.
	maxBodyBytes = 10 << 20
)

// CredentialReader provides credential snapshots. Defined at the consumer;
// credstore.Store satisfies it.
type CredentialReader interface {
	Get(ctx context.Context) (*credstore.Credential, error)
}

// Recoverer resolves a call that failed with an expired access token: it
// obtains a fresh credential (once, for all concurrent callers) and replays
// req exactly once. usedAccessToken is the token the failed attempt sent.
// The returned token is the one the replay sent, or usedAccessToken when no
// replay ran.
type Recoverer interface {
	Recover(ctx context.Context, req Request, usedAccessToken string) (*Response, string, error)
}

// Terminator ends the session after a terminal failure of a call that sent
// usedAccessToken (empty for calls without one).
type Terminator interface {
	Terminate(ctx context.Context, usedAccessToken string, reason error)
}

// Metrics receives one observation per attempt. Implemented by
// metrics.Collector.
type Metrics interface {
	ObserveRequest(kind string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, time.Duration) {}

// Options configures a Client. Zero values pick defaults.
type Options struct {
	BaseURL        string
	APIKey         string
	UserAgent      string
	RefreshPath    string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	HTTPClient     *http.Client
	Metrics        Metrics
}

// Client executes calls against the remote service. It attaches credentials
// per AuthRequirement, classifies every outcome, and routes expired-access
// failures through a Recoverer.
type Client struct {
	baseURL        string
	apiKey         string
	userAgent      string
	refreshPath    string
	requestTimeout time.Duration
	refreshTimeout time.Duration
	httpClient     *http.Client
	creds          CredentialReader
	metrics        Metrics
	logger         *slog.Logger

	// Wired after construction: the coordinator and the session controller
	// both depend on the client. Set before the first Do.
	recoverer  Recoverer
	terminator Terminator

	// newRequestID generates the X-Request-ID value. Tests override it.
	newRequestID func() string
}

// NewClient creates a Client reading credentials from creds.
func NewClient(opts Options, creds CredentialReader, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:        opts.BaseURL,
		apiKey:         opts.APIKey,
		userAgent:      opts.UserAgent,
		refreshPath:    opts.RefreshPath,
		requestTimeout: opts.RequestTimeout,
		refreshTimeout: opts.RefreshTimeout,
		httpClient:     opts.HTTPClient,
		creds:          creds,
		metrics:        opts.Metrics,
		logger:         logger,
		newRequestID:   uuid.NewString,
	}

	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}

	if c.refreshPath == "" {
		c.refreshPath = defaultRefreshPath
	}

	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}

	if c.refreshTimeout <= 0 {
		c.refreshTimeout = defaultRefreshTimeout
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}

	return c
}

// SetRecoverer wires the refresh coordinator. Must be called before Do.
func (c *Client) SetRecoverer(r Recoverer) {
	c.recoverer = r
}

// SetTerminator wires the session controller. Must be called before Do.
func (c *Client) SetTerminator(t Terminator) {
	c.terminator = t
}

// RefreshPath returns the path of the refresh endpoint.
func (c *Client) RefreshPath() string {
	return c.refreshPath
}

// Do executes req. An expired access token is recovered through the
// Recoverer (one refresh shared by all concurrent callers, then exactly one
// replay of req). Terminal kinds notify the Terminator; the call still
// returns its own error so the caller can report it.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, used, err := c.Execute(ctx, req)

	if KindOf(err) == KindAccessTokenExpired && c.recoverer != nil {
		c.logger.Info("access token expired, awaiting refresh",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
		)

		resp, used, err = c.recoverer.Recover(ctx, req, used)
	}

	if err != nil && KindOf(err).Terminal() && c.terminator != nil {
		c.terminator.Terminate(ctx, used, err)
	}

	return resp, err
}

// DoJSON executes req via Do and decodes the response body into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	return resp.DecodeJSON(out)
}

// Execute performs exactly one attempt of req: no recovery, no session
// side effects. It returns the access token the attempt sent (empty if none)
// so a coordinator can tell whether the credential rotated in the meantime.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, string, error) {
	timeout := c.requestTimeout
	if req.Path == c.refreshPath {
		timeout = c.refreshTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cred credstore.Credential

	if req.Auth.needsCredential() {
		snap, err := c.creds.Get(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("api: reading credential for %s %s: %w", req.Method, req.Path, err)
		}

		if snap == nil {
			return nil, "", fmt.Errorf("api: %s %s: %w", req.Method, req.Path, ErrNotLoggedIn)
		}

		cred = *snap
	}

	httpReq, err := c.buildRequest(ctx, req, cred)
	if err != nil {
		return nil, "", err
	}

	reqID := httpReq.Header.Get(HeaderRequestID)
	start := time.Now()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(KindTransport.String(), time.Since(start))
		c.logger.Warn("request failed without response",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)

		return nil, cred.AccessToken, &Error{
			Kind:      KindTransport,
			Method:    req.Method,
			Path:      req.Path,
			RequestID: reqID,
			Err:       err,
		}
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if readErr != nil {
		c.metrics.ObserveRequest(KindTransport.String(), time.Since(start))

		return nil, cred.AccessToken, &Error{
			Kind:       KindTransport,
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: httpResp.StatusCode,
			RequestID:  reqID,
			Err:        fmt.Errorf("reading response body: %w", readErr),
		}
	}

	kind := Classify(httpResp.StatusCode, body, req.Path == c.refreshPath)
	c.metrics.ObserveRequest(kind.String(), time.Since(start))

	if kind == KindSuccess {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", httpResp.StatusCode),
			slog.String("request_id", reqID),
		)

		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
			RequestID:  reqID,
		}, cred.AccessToken, nil
	}

	msg := bodyMessage(body)
	if msg == "" {
		msg = statusText(httpResp.StatusCode)
	}

	c.logger.Debug("request classified as failure",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", httpResp.StatusCode),
		slog.String("kind", kind.String()),
		slog.String("request_id", reqID),
	)

	return nil, cred.AccessToken, &Error{
		Kind:       kind,
		Method:     req.Method,
		Path:       req.Path,
		StatusCode: httpResp.StatusCode,
		RequestID:  reqID,
		Message:    msg,
	}
}

// buildRequest creates the HTTP request and attaches headers per req.Auth.
func (c *Client) buildRequest(ctx context.Context, req Request, cred credstore.Credential) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	switch req.Auth {
	case AuthNone:
	case AuthAPIKeyOnly:
		httpReq.Header.Set(HeaderAPIKey, c.apiKey)
	case AuthAccessToken, AuthBoth:
		httpReq.Header.Set(HeaderAccessToken, cred.AccessToken)
		httpReq.Header.Set(HeaderAPIKey, c.apiKey)
	case AuthRefreshToken:
		httpReq.Header.Set(HeaderRefreshToken, cred.RefreshToken)
		httpReq.Header.Set(HeaderAccessToken, cred.AccessToken)
		httpReq.Header.Set(HeaderAPIKey, c.apiKey)
	default:
		return nil, fmt.Errorf("api: unsupported auth requirement %s", req.Auth)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderRequestID, c.newRequestID())

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}

// RefreshCredential calls the refresh endpoint once with the stored refresh
// token and returns the new pair. It does not persist the result; the
// coordinator owns that write.
func (c *Client) RefreshCredential(ctx context.Context) (credstore.Credential, error) {
	resp, _, err := c.Execute(ctx, Request{
		Method: http.MethodGet,
		Path:   c.refreshPath,
		Auth:   AuthRefreshToken,
	})
	if err != nil {
		return credstore.Credential{}, err
	}

	var pair TokenPair
	if err := resp.DecodeJSON(&pair); err != nil {
		return credstore.Credential{}, err
	}

	return pair.Credential()
}
