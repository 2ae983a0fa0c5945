package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Service-specific status codes.
const (
	StatusRefreshTokenExpired = 418
	StatusAccessTokenExpired  = 419
	StatusInvalidAPIKey       = 420
	StatusInvalidAPICall      = 444
)

// accountMismatchMarker in a 401 body distinguishes a wrong email/password
// (or a token that belongs to another account) from a bad access token.
const accountMismatchMarker = "invalid credentials"

// Classify maps a response status code, body, and whether the call targeted
// the refresh endpoint into a Kind. Total and deterministic.
func Classify(status int, body []byte, refreshCall bool) Kind {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return KindSuccess
	case status >= http.StatusInternalServerError && status < 600:
		return KindServerError
	}

	switch status {
	case http.StatusBadRequest:
		return KindMissingFields
	case http.StatusUnauthorized:
		if hasAccountMismatch(body) {
			return KindInvalidCredentials
		}

		return KindInvalidAccessToken
	case http.StatusForbidden:
		if refreshCall {
			return KindRefreshTokenExpired
		}

		return KindForbidden
	case http.StatusConflict:
		return KindEmailExists
	case StatusRefreshTokenExpired:
		return KindRefreshTokenExpired
	case StatusAccessTokenExpired:
		return KindAccessTokenExpired
	case StatusInvalidAPIKey:
		return KindInvalidAPIKey
	case http.StatusTooManyRequests:
		return KindTooManyRequests
	case StatusInvalidAPICall:
		return KindInvalidAPICall
	default:
		return KindUnknown
	}
}

// hasAccountMismatch looks for the marker in the body's "message" or "error"
// field, or in the raw body when it is not a JSON object.
func hasAccountMismatch(body []byte) bool {
	return strings.Contains(strings.ToLower(bodyMessage(body)), accountMismatchMarker)
}

// bodyMessage extracts a human-readable message from an error body.
func bodyMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}

		if parsed.Error != "" {
			return parsed.Error
		}
	}

	return strings.TrimSpace(string(body))
}
