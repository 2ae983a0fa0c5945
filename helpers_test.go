package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/authpipe/internal/api"
	"github.com/tonimelisma/authpipe/internal/config"
)

const (
	testAPIKey   = "test-key"
	testEmail    = "u@example.com"
	testPassword = "pw"
)

// fakeService is an httptest server speaking the auth protocol: login,
// refresh, and one protected resource at /v1/me.
type fakeService struct {
	srv *httptest.Server

	mu            sync.Mutex
	generation    int
	access        string
	refreshTok    string
	refreshes     int
	refreshStatus int // non-zero: refresh answers with this status
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	svc := &fakeService{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", svc.login)
	mux.HandleFunc("GET /auth/refresh", svc.refresh)
	mux.HandleFunc("GET /v1/me", svc.me)

	svc.srv = httptest.NewServer(mux)
	t.Cleanup(svc.srv.Close)

	return svc
}

// issueLocked mints the next token pair. Caller holds mu.
func (s *fakeService) issueLocked() api.TokenPair {
	s.generation++

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("gen-%d", s.generation),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	signed, err := tok.SignedString([]byte("fake-service-secret"))
	if err != nil {
		panic(err)
	}

	s.access = signed
	s.refreshTok = fmt.Sprintf("R%d", s.generation)

	return api.TokenPair{AccessToken: s.access, RefreshToken: s.refreshTok}
}

func (s *fakeService) login(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(api.HeaderAPIKey) != testAPIKey {
		writeJSON(w, api.StatusInvalidAPIKey, map[string]string{"message": "bad api key"})
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "missing fields"})
		return
	}

	if body.Email != testEmail || body.Password != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
		return
	}

	s.mu.Lock()
	pair := s.issueLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, pair)
}

func (s *fakeService) refresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshes++

	if s.refreshStatus != 0 {
		writeJSON(w, s.refreshStatus, map[string]string{"message": "refresh rejected"})
		return
	}

	if r.Header.Get(api.HeaderRefreshToken) != s.refreshTok {
		writeJSON(w, api.StatusRefreshTokenExpired, map[string]string{"message": "unknown refresh token"})
		return
	}

	writeJSON(w, http.StatusOK, s.issueLocked())
}

func (s *fakeService) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	valid := s.access != "" && r.Header.Get(api.HeaderAccessToken) == s.access
	gen := s.generation
	s.mu.Unlock()

	if !valid {
		writeJSON(w, api.StatusAccessTokenExpired, map[string]string{"message": "access token expired"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"email": testEmail, "generation": gen})
}

// expireAccess makes the current access token stale without rotating the
// refresh token.
func (s *fakeService) expireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = ""
}

func (s *fakeService) setRefreshStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshStatus = code
}

func (s *fakeService) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refreshes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cliEnv is a temporary config and data directory for one CLI test.
type cliEnv struct {
	dir        string
	configPath string
	credPath   string
}

// setupCLI writes a config file pointing at baseURL, keeps credentials and
// the serve file in a temp dir, and clears AUTHPIPE_* variables from the host
// environment.
func setupCLI(t *testing.T, baseURL string) cliEnv {
	t.Helper()

	dir := t.TempDir()
	env := cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		credPath:   filepath.Join(dir, "credentials.json"),
	}

	content := fmt.Sprintf(`
[service]
base_url = %q
api_key = %q

[storage]
backend = "file"
path = %q
key_file = %q

[logging]
log_level = "error"
log_format = "text"
`, baseURL, testAPIKey, env.credPath, filepath.Join(dir, "store.key"))

	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))

	t.Setenv(config.EnvConfig, env.configPath)
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvStoreKey, "")
	t.Setenv(config.EnvStorageBackend, "")
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	t.Cleanup(func() { resolvedCfg = nil })

	return env
}

// runCLI executes the root command with args and returns what it wrote to
// stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func loginCLI(t *testing.T) {
	t.Helper()

	_, err := runCLI(t, testPassword+"\n", "login", "--email", testEmail, "--password-stdin", "-q")
	require.NoError(t, err)
}
