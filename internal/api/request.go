package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tonimelisma/authpipe/internal/credstore"
)

// AuthRequirement declares which credentials a call carries.
type AuthRequirement int

const (
	// AuthNone sends no credentials at all.
	AuthNone AuthRequirement = iota
	// AuthAPIKeyOnly sends the static service key only.
	AuthAPIKeyOnly
	// AuthAccessToken sends the access token and the service key.
	AuthAccessToken
	// AuthRefreshToken sends the refresh token, the access token, and the
	// service key. The refresh endpoint needs both tokens.
	AuthRefreshToken
	// AuthBoth sends the access token and the service key.
	AuthBoth
)

func (a AuthRequirement) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthAPIKeyOnly:
		return "api_key_only"
	case AuthAccessToken:
		return "access_token"
	case AuthRefreshToken:
		return "refresh_token"
	case AuthBoth:
		return "both"
	default:
		return fmt.Sprintf("auth(%d)", int(a))
	}
}

// ParseAuthRequirement is the inverse of AuthRequirement.String.
func ParseAuthRequirement(s string) (AuthRequirement, error) {
	for _, a := range []AuthRequirement{AuthNone, AuthAPIKeyOnly, AuthAccessToken, AuthRefreshToken, AuthBoth} {
		if a.String() == s {
			return a, nil
		}
	}

	return AuthNone, fmt.Errorf("api: unknown auth requirement %q", s)
}

// needsCredential reports whether the call reads the credential store.
func (a AuthRequirement) needsCredential() bool {
	return a == AuthAccessToken || a == AuthRefreshToken || a == AuthBoth
}

// Request describes one outbound call. Treat it as immutable: the body is a
// byte slice so the same Request can be sent again on replay. Idempotency is
// the caller's concern; mutating calls get at most one automatic replay.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Auth   AuthRequirement
	Header http.Header // optional extra headers
}

// NewJSONRequest encodes v as the request body.
func NewJSONRequest(method, path string, auth AuthRequirement, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("api: encoding %s %s body: %w", method, path, err)
	}

	return Request{Method: method, Path: path, Body: body, Auth: auth}, nil
}

// Response is a successful (2xx) result with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// DecodeJSON unmarshals the body into out.
func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("api: decoding response (request-id: %s): %w", r.RequestID, err)
	}

	return nil
}

// TokenPair is the wire shape returned by the login and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Credential converts the pair, rejecting a response without a refresh token.
func (p TokenPair) Credential() (credstore.Credential, error) {
	c := credstore.Credential{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
	if c.AccessToken == "" || c.RefreshToken == "" {
		return credstore.Credential{}, fmt.Errorf("api: token response missing accessToken or refreshToken")
	}

	return c, nil
}
