package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim of an access token without verifying its
// signature; the service is the only verifier. ok is false when the token
// is not a JWT or carries no exp claim.
func TokenExpiry(accessToken string) (exp time.Time, ok bool) {
	if accessToken == "" {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}
