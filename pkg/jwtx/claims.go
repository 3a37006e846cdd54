package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims issued by the fake authorization
// server and shown by the CLI.
type Claims struct {
	jwt.RegisteredClaims

	// Space-delimited scope string as granted.
	Scope string `json:"scope,omitempty"`

	// Grant that produced the token: "password", "client_credentials",
	// "anonymous_session" or "refresh_token".
	Grant string `json:"grant,omitempty"`

	// Anonymous session the token is bound to, if any.
	AnonymousID string `json:"anonymous_id,omitempty"`
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(subject, scope, grant, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scope: scope,
		Grant: grant,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ErrNotJWT is returned by Inspect for opaque access tokens.
var ErrNotJWT = errors.New("jwtx: token is not a JWT")

// Inspect decodes the claims of a JWT without verifying its signature.
// It is for display only and must never be used to make trust decisions.
func Inspect(token string) (Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrNotJWT, err)
	}
	return c, nil
}
