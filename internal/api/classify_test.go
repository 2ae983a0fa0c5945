package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_StatusTable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		refresh bool
		want    Kind
	}{
		{"200", 200, "", false, KindSuccess},
		{"201", 201, "", false, KindSuccess},
		{"299", 299, "", false, KindSuccess},
		{"400", 400, "", false, KindMissingFields},
		{"401 json marker", 401, `{"message":"Invalid credentials for this account"}`, false, KindInvalidCredentials},
		{"401 error field marker", 401, `{"error":"INVALID CREDENTIALS"}`, false, KindInvalidCredentials},
		{"401 raw marker", 401, `invalid credentials`, false, KindInvalidCredentials},
		{"401 other", 401, `{"message":"token signature mismatch"}`, false, KindInvalidAccessToken},
		{"401 empty", 401, "", false, KindInvalidAccessToken},
		{"403 refresh endpoint", 403, "", true, KindRefreshTokenExpired},
		{"403 other", 403, "", false, KindForbidden},
		{"409", 409, "", false, KindEmailExists},
		{"418", 418, "", false, KindRefreshTokenExpired},
		{"419", 419, "", false, KindAccessTokenExpired},
		{"419 on refresh endpoint", 419, "", true, KindAccessTokenExpired},
		{"420", 420, "", false, KindInvalidAPIKey},
		{"429", 429, "", false, KindTooManyRequests},
		{"444", 444, "", false, KindInvalidAPICall},
		{"500", 500, "", false, KindServerError},
		{"503", 503, "", false, KindServerError},
		{"599", 599, "", false, KindServerError},
		{"302", 302, "", false, KindUnknown},
		{"404", 404, "", false, KindUnknown},
		{"600", 600, "", false, KindUnknown},
		{"0", 0, "", false, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, []byte(tt.body), tt.refresh))
		})
	}
}

// Every status code maps to exactly one kind, and the same input always
// maps to the same kind.
func TestClassify_TotalAndDeterministic(t *testing.T) {
	for status := 0; status < 1000; status++ {
		first := Classify(status, nil, false)
		assert.Equal(t, first, Classify(status, nil, false), "status %d", status)
		assert.NotEqual(t, KindTransport, first, "status %d must never classify as transport", status)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "access_token_expired", KindAccessTokenExpired.String())
	assert.Equal(t, "invalid_api_key", KindInvalidAPIKey.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.Equal(t, "api: forbidden", KindForbidden.Error())
}

func TestKind_Terminal(t *testing.T) {
	for k := KindSuccess; k <= KindUnknown; k++ {
		want := k == KindRefreshTokenExpired || k == KindForbidden
		assert.Equal(t, want, k.Terminal(), k.String())
	}
}

func TestKindOf(t *testing.T) {
	apiErr := &Error{Kind: KindTooManyRequests, StatusCode: 429}
	wrapped := fmt.Errorf("calling service: %w", apiErr)

	assert.Equal(t, KindSuccess, KindOf(nil))
	assert.Equal(t, KindTooManyRequests, KindOf(wrapped))
	assert.Equal(t, KindForbidden, KindOf(fmt.Errorf("x: %w", KindForbidden)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestError_IsAndMessage(t *testing.T) {
	cause := errors.New("connection refused")
	transport := &Error{Kind: KindTransport, Method: "GET", Path: "/me", Err: cause}

	assert.ErrorIs(t, transport, KindTransport)
	assert.ErrorIs(t, transport, cause)
	assert.Contains(t, transport.Error(), "connection refused")

	status := &Error{Kind: KindServerError, Method: "GET", Path: "/me", StatusCode: 502, RequestID: "rid", Message: "bad gateway"}
	assert.ErrorIs(t, status, KindServerError)
	assert.NotErrorIs(t, status, KindTransport)
	assert.Contains(t, status.Error(), "HTTP 502")
	assert.Contains(t, status.Error(), "request-id: rid")
}
