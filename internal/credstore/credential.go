// Package credstore persists the access/refresh credential pair. Every backend
// writes both tokens as one unit and encrypts them at rest; readers never see
// an access token paired with a stale refresh token.
//
// This is a leaf package imported by api/, refresh/, and session/.
package credstore

import (
	"context"
	"errors"
)

// Entry names inside a store namespace. Absence of EntryRefreshToken is the
// canonical "logged out" signal at process start.
const (
	EntryAccessToken  = "access_token"
	EntryRefreshToken = "refresh_token"
)

// DefaultNamespace is used when the caller does not configure one.
const DefaultNamespace = "authpipe"

// Sentinel errors. Use errors.Is to check.
var (
	// ErrStorage wraps any failure of the underlying persistence layer. It is
	// fatal to the call that hit it but never triggers logout on its own.
	ErrStorage = errors.New("credstore: storage failure")

	// ErrInvalidCredential is returned by Set for a pair without a refresh token.
	ErrInvalidCredential = errors.New("credstore: credential requires a refresh token")
)

// Credential is the access/refresh token pair. Values are copied on every
// read; callers never share a pointer into a store's internal state.
type Credential struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Validate reports whether c can be persisted.
func (c Credential) Validate() error {
	if c.RefreshToken == "" {
		return ErrInvalidCredential
	}

	return nil
}

// Store is the durable credential store. Implementations must make Set
// atomic with respect to concurrent Get calls.
type Store interface {
	// Get returns a snapshot of the stored pair, or (nil, nil) when no
	// refresh token is stored.
	Get(ctx context.Context) (*Credential, error)
	// Set overwrites both tokens together.
	Set(ctx context.Context, c Credential) error
	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// fromEntries builds a Credential from decrypted entries. A missing refresh
// token means logged out regardless of the access token entry.
func fromEntries(entries map[string]string) *Credential {
	refresh := entries[EntryRefreshToken]
	if refresh == "" {
		return nil
	}

	return &Credential{
		AccessToken:  entries[EntryAccessToken],
		RefreshToken: refresh,
	}
}

func toEntries(c Credential) map[string]string {
	return map[string]string{
		EntryAccessToken:  c.AccessToken,
		EntryRefreshToken: c.RefreshToken,
	}
}
