package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrIssuer     = errors.New("jwtx: issuer mismatch")
	ErrUnknownKID = errors.New("jwtx: unknown kid")
)

// EdDSASigner signs access tokens with an ephemeral Ed25519 key. Keys only
// live in memory so tokens die with the process.
type EdDSASigner struct {
	kid    string
	issuer string
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// NewEdDSASigner generates a fresh keypair identified by kid.
func NewEdDSASigner(kid, issuer string) (*EdDSASigner, error) {
	if kid == "" {
		return nil, errors.New("jwtx: kid is required")
	}
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate Ed25519 key: %w", err)
	}
	return &EdDSASigner{kid: kid, issuer: issuer, key: key, pub: pub}, nil
}

func (s *EdDSASigner) KID() string    { return s.kid }
func (s *EdDSASigner) Issuer() string { return s.issuer }

// Sign turns claims into a compact JWS. The issuer is always overwritten
// with the signer's own.
func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	claims.Issuer = s.issuer
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// Verify parses and validates a token produced by Sign.
func (s *EdDSASigner) Verify(token string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	)

	var c Claims
	_, err := parser.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != s.kid {
			return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
		}
		return s.pub, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("jwtx: parse or verify: %w", err)
	}
	if c.Issuer != s.issuer {
		return Claims{}, ErrIssuer
	}
	return c, nil
}
