// Package api executes authenticated calls against the remote service:
// header attachment per AuthRequirement, response classification into a
// closed set of error kinds, and hand-off of expired-credential failures to
// a refresh coordinator.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed classification of a call outcome. Kind implements error
// so that errors.Is(err, api.KindForbidden) works on any wrapped *Error.
type Kind int

// Error kinds. The order is part of the metrics label space; append only.
const (
	KindSuccess Kind = iota
	KindMissingFields
	KindInvalidCredentials
	KindInvalidAccessToken
	KindAccessTokenExpired
	KindForbidden
	KindEmailExists
	KindRefreshTokenExpired
	KindInvalidAPIKey
	KindTooManyRequests
	KindInvalidAPICall
	KindServerError
	KindTransport
	KindUnknown
)

var kindNames = [...]string{
	KindSuccess:             "success",
	KindMissingFields:       "missing_fields",
	KindInvalidCredentials:  "invalid_credentials",
	KindInvalidAccessToken:  "invalid_access_token",
	KindAccessTokenExpired:  "access_token_expired",
	KindForbidden:           "forbidden",
	KindEmailExists:         "email_exists",
	KindRefreshTokenExpired: "refresh_token_expired",
	KindInvalidAPIKey:       "invalid_api_key",
	KindTooManyRequests:     "too_many_requests",
	KindInvalidAPICall:      "invalid_api_call",
	KindServerError:         "server_error",
	KindTransport:           "transport",
	KindUnknown:             "unknown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}

	return kindNames[k]
}

func (k Kind) Error() string {
	return "api: " + k.String()
}

// Terminal reports whether the kind ends the session: the refresh token is
// no longer usable, so the only recovery is a new login.
func (k Kind) Terminal() bool {
	return k == KindRefreshTokenExpired || k == KindForbidden
}

// ErrNotLoggedIn is returned when a call needs credentials and the store
// holds none.
var ErrNotLoggedIn = errors.New("api: not logged in")

// Error is a classified call failure. It carries the HTTP status (zero for
// transport failures), the request ID sent with the call, and the response
// body text for debugging.
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	RequestID  string
	Message    string
	Err        error // underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("api: %s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
	case e.RequestID != "":
		return fmt.Sprintf("api: %s %s: HTTP %d %s (request-id: %s): %s",
			e.Method, e.Path, e.StatusCode, e.Kind, e.RequestID, e.Message)
	default:
		return fmt.Sprintf("api: %s %s: HTTP %d %s: %s", e.Method, e.Path, e.StatusCode, e.Kind, e.Message)
	}
}

// Unwrap exposes both the Kind and the transport cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// KindOf extracts the classification from err. nil maps to KindSuccess;
// errors that carry no Kind map to KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	var k Kind
	if errors.As(err, &k) {
		return k
	}

	return KindUnknown
}

// statusText is used as the message when the response body is empty.
func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}

	return "non-standard status"
}
