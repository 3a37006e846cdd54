package authmgr

import (
	"fmt"
	"time"
)

// TokenState identifies which kind of credential the manager holds.
// Exactly one state holds at any time.
type TokenState int

const (
	// NoToken means there is no usable credential, either because the
	// configuration is invalid or because the credentials were cleared.
	NoToken TokenState = iota
	// CustomerToken is an authenticated end-user session.
	CustomerToken
	// AnonymousToken is a refreshable anonymous session tied to an anonymous_id.
	AnonymousToken
	// PlainToken is a stateless client-credentials token without a refresh token.
	PlainToken
)

var stateNames = map[TokenState]string{
	NoToken:        "none",
	CustomerToken:  "customer",
	AnonymousToken: "anonymous",
	PlainToken:     "plain",
}

func (s TokenState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TokenState(%d)", int(s))
}

// ParseTokenState is the inverse of TokenState.String.
func ParseTokenState(name string) (TokenState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return NoToken, fmt.Errorf("unknown token state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s TokenState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TokenState) UnmarshalText(text []byte) error {
	parsed, err := ParseTokenState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ExpiryMargin is subtracted from every server-reported lifetime to absorb
// clock skew and request latency.
const ExpiryMargin = 10 * time.Minute

// Record is the token state owned by the manager and mirrored into the Store.
// Empty strings and a zero ValidUntil mean "absent".
type Record struct {
	AccessToken  string
	RefreshToken string
	ValidUntil   time.Time
	State        TokenState
}

// Valid reports whether the access token can be handed out at now.
func (r Record) Valid(now time.Time) bool {
	return r.AccessToken != "" && !r.ValidUntil.IsZero() && r.ValidUntil.After(now)
}

// HasRefreshToken reports whether a refresh grant is possible.
func (r Record) HasRefreshToken() bool {
	return r.RefreshToken != ""
}

// normalize repairs a record loaded from storage so that the state invariants
// hold: NoToken iff there is no access token, and refresh tokens only exist
// for customer and anonymous sessions.
func (r Record) normalize() Record {
	if r.AccessToken == "" && r.RefreshToken == "" {
		return Record{}
	}
	if r.State == NoToken || r.State == PlainToken {
		// A refresh token without a session state cannot be used safely.
		r.RefreshToken = ""
		if r.State == NoToken {
			return Record{}
		}
	}
	if r.AccessToken == "" {
		r.ValidUntil = time.Time{}
	}
	return r
}

// validUntil computes the local expiry for a token with the given lifetime.
func validUntil(now time.Time, expiresIn int64) time.Time {
	return now.Add(time.Duration(expiresIn)*time.Second - ExpiryMargin)
}
