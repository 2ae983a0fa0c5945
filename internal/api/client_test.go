package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/authpipe/internal/credstore"
)

// recordingRecoverer captures Recover calls and returns a canned result.
type recordingRecoverer struct {
	mu    sync.Mutex
	calls []string
	resp  *Response
	err   error

	// replayToken, when set, is reported as the token the replay sent.
	replayToken string
}

func (r *recordingRecoverer) Recover(_ context.Context, req Request, used string) (*Response, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, req.Path+"|"+used)

	if r.replayToken != "" {
		used = r.replayToken
	}

	return r.resp, used, r.err
}

// recordingTerminator counts Terminate calls.
type recordingTerminator struct {
	mu      sync.Mutex
	reasons []error
	tokens  []string
}

func (r *recordingTerminator) Terminate(_ context.Context, used string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reasons = append(r.reasons, reason)
	r.tokens = append(r.tokens, used)
}

func (r *recordingTerminator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.reasons)
}

// failingReader is a CredentialReader whose persistence is unavailable.
type failingReader struct{}

func (failingReader) Get(context.Context) (*credstore.Credential, error) {
	return nil, credstore.ErrStorage
}

func loggedInStore(t *testing.T) *credstore.MemoryStore {
	t.Helper()

	st := credstore.NewMemory()
	require.NoError(t, st.Set(context.Background(), credstore.Credential{AccessToken: "A1", RefreshToken: "R1"}))

	return st
}

func newTestClient(t *testing.T, url string, creds CredentialReader) *Client {
	t.Helper()

	c := NewClient(Options{
		BaseURL:        url,
		APIKey:         "service-key",
		UserAgent:      "test-agent",
		RequestTimeout: 2 * time.Second,
		RefreshTimeout: 2 * time.Second,
	}, creds, slog.Default())
	c.newRequestID = func() string { return "req-1" }

	return c
}

func TestExecute_HeadersPerAuthRequirement(t *testing.T) {
	tests := []struct {
		auth        AuthRequirement
		wantKey     string
		wantAccess  string
		wantRefresh string
	}{
		{AuthNone, "", "", ""},
		{AuthAPIKeyOnly, "service-key", "", ""},
		{AuthAccessToken, "service-key", "A1", ""},
		{AuthRefreshToken, "service-key", "A1", "R1"},
		{AuthBoth, "service-key", "A1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.auth.String(), func(t *testing.T) {
			var got http.Header

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, loggedInStore(t))

			_, used, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/x", Auth: tt.auth})
			require.NoError(t, err)

			assert.Equal(t, tt.wantKey, got.Get(HeaderAPIKey))
			assert.Equal(t, tt.wantAccess, got.Get(HeaderAccessToken))
			assert.Equal(t, tt.wantRefresh, got.Get(HeaderRefreshToken))
			assert.Equal(t, tt.wantAccess, used)
			assert.Equal(t, "test-agent", got.Get("User-Agent"))
			assert.Equal(t, "req-1", got.Get(HeaderRequestID))
		})
	}
}

func TestExecute_RawAccessTokenWithoutScheme(t *testing.T) {
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get(HeaderAccessToken)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, loggedInStore(t))

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/me", Auth: AuthAccessToken})
	require.NoError(t, err)
	assert.Equal(t, "A1", auth)
}

func TestExecute_BodyAndContentType(t *testing.T) {
	var (
		body        string
		contentType string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		contentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, loggedInStore(t))

	req, err := NewJSONRequest(http.MethodPost, "/messages", AuthAccessToken, map[string]string{"text": "hi"})
	require.NoError(t, err)

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.DoJSON(context.Background(), req, &out))

	assert.JSONEq(t, `{"text":"hi"}`, body)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "42", out.ID)
}

func TestExecute_NotLoggedIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request should reach the server")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, credstore.NewMemory())

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/me", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestExecute_APIKeyOnlySkipsStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, failingReader{})

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodPost, Path: "/auth/login", Auth: AuthAPIKeyOnly})
	assert.NoError(t, err)
}

func TestExecute_StoreFailureIsSurfaced(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", failingReader{})

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/me", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, credstore.ErrStorage)
}

func TestExecute_ErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(StatusInvalidAPIKey)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, loggedInStore(t))

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/me", Auth: AuthAccessToken})
	require.Error(t, err)
	assert.ErrorIs(t, err, KindInvalidAPIKey)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, StatusInvalidAPIKey, apiErr.StatusCode)
	assert.Equal(t, "bad key", apiErr.Message)
	assert.Equal(t, "req-1", apiErr.RequestID)
}

func TestExecute_ForbiddenOnRefreshPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, loggedInStore(t))

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: c.RefreshPath(), Auth: AuthRefreshToken})
	assert.ErrorIs(t, err, KindRefreshTokenExpired)

	_, _, err = c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/other", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, KindForbidden)
}

func TestExecute_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, loggedInStore(t))

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/me", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, KindTransport)
}

func TestExecute_TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, loggedInStore(t))
	c.requestTimeout = 50 * time.Millisecond

	_, _, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "/slow", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, KindTransport)
}

func TestDo_ExpiredAccessTokenGoesToRecoverer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(StatusAccessTokenExpired)
	}))
	defer srv.Close()

	rec := &recordingRecoverer{resp: &Response{StatusCode: 200, Body: []byte("replayed")}}
	term := &recordingTerminator{}

	c := newTestClient(t, srv.URL, loggedInStore(t))
	c.SetRecoverer(rec)
	c.SetTerminator(term)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/inbox", Auth: AuthAccessToken})
	require.NoError(t, err)
	assert.Equal(t, "replayed", string(resp.Body))
	assert.Equal(t, []string{"/inbox|A1"}, rec.calls)
	assert.Zero(t, term.count())
}

func TestDo_ExpiredWithoutRecovererSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(StatusAccessTokenExpired)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, loggedInStore(t))

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/inbox", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, KindAccessTokenExpired)
}

func TestDo_TerminalKindsNotifyTerminator(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, StatusRefreshTokenExpired} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		term := &recordingTerminator{}
		c := newTestClient(t, srv.URL, loggedInStore(t))
		c.SetTerminator(term)

		_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/inbox", Auth: AuthAccessToken})
		require.Error(t, err)
		assert.True(t, KindOf(err).Terminal())
		assert.Equal(t, 1, term.count(), "status %d", status)

		srv.Close()
	}
}

func TestDo_OtherKindsPropagateUnchanged(t *testing.T) {
	for _, status := range []int{400, 401, 409, 420, 429, 444, 500, 404} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		rec := &recordingRecoverer{}
		term := &recordingTerminator{}
		c := newTestClient(t, srv.URL, loggedInStore(t))
		c.SetRecoverer(rec)
		c.SetTerminator(term)

		_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/inbox", Auth: AuthAccessToken})
		require.Error(t, err)
		assert.Equal(t, Classify(status, nil, false), KindOf(err))
		assert.Empty(t, rec.calls, "status %d must not trigger refresh", status)
		assert.Zero(t, term.count(), "status %d must not trigger logout", status)

		srv.Close()
	}
}

func TestDo_TerminalReplayResultNotifiesTerminator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(StatusAccessTokenExpired)
	}))
	defer srv.Close()

	rec := &recordingRecoverer{err: &Error{Kind: KindRefreshTokenExpired}}
	term := &recordingTerminator{}
	c := newTestClient(t, srv.URL, loggedInStore(t))
	c.SetRecoverer(rec)
	c.SetTerminator(term)

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/inbox", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, KindRefreshTokenExpired)
	assert.Equal(t, 1, term.count())
	assert.Equal(t, []string{"A1"}, term.tokens)
}

func TestDo_TerminalReplayReportsReplayToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(StatusAccessTokenExpired)
	}))
	defer srv.Close()

	rec := &recordingRecoverer{err: &Error{Kind: KindForbidden}, replayToken: "A2"}
	term := &recordingTerminator{}
	c := newTestClient(t, srv.URL, loggedInStore(t))
	c.SetRecoverer(rec)
	c.SetTerminator(term)

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/inbox", Auth: AuthAccessToken})
	assert.ErrorIs(t, err, KindForbidden)
	assert.Equal(t, []string{"A2"}, term.tokens)
}

func TestRefreshCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Equal(t, "R1", r.Header.Get(HeaderRefreshToken))
		assert.Equal(t, "A1", r.Header.Get(HeaderAccessToken))
		_, _ = w.Write([]byte(`{"accessToken":"A2","refreshToken":"R2"}`))
	}))
	defer srv.Close()

	st := loggedInStore(t)
	c := newTestClient(t, srv.URL, st)

	cred, err := c.RefreshCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, credstore.Credential{AccessToken: "A2", RefreshToken: "R2"}, cred)

	// RefreshCredential never writes the store itself.
	stored, err := st.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A1", stored.AccessToken)
}

func TestRefreshCredential_IncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"A2"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, loggedInStore(t))

	_, err := c.RefreshCredential(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, KindRefreshTokenExpired))
}

func TestParseAuthRequirement(t *testing.T) {
	for _, a := range []AuthRequirement{AuthNone, AuthAPIKeyOnly, AuthAccessToken, AuthRefreshToken, AuthBoth} {
		got, err := ParseAuthRequirement(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err := ParseAuthRequirement("bearer")
	assert.Error(t, err)
}
