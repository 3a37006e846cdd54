package authsdk

import (
	"net/http"
	"net/url"
)

// ============================================================================
// Grant Types
// ============================================================================

// GrantType is the OAuth2 grant_type parameter of a token request.
type GrantType string

const (
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// Exchange describes a single token request. The caller decides the endpoint,
// the form parameters and the headers (usually basic client authentication);
// the gateway only performs the POST and parses what comes back.
type Exchange struct {
	GrantType GrantType
	URL       string
	Params    url.Values
	Header    http.Header
}

// ============================================================================
// Wire Types
// ============================================================================

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
// This is used internally for parsing HTTP error responses.
// Client code should use the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	// Error is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents a successful token endpoint response.
//
// AccessToken and ExpiresIn are required; Exchange returns ErrMalformedResponse
// when either is missing so a TokenResponse is always usable.
type TokenResponse struct {
	// AccessToken is the bearer token used to authenticate API requests
	AccessToken string `json:"access_token"`

	// RefreshToken is only issued for customer and anonymous session grants
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is "Bearer" for every grant this SDK performs
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in"`

	// Scope is the space-delimited list of scopes granted to this token
	Scope string `json:"scope,omitempty"`
}

// tokenPayload mirrors TokenResponse with the required fields as pointers so
// a missing field can be told apart from a zero value.
type tokenPayload struct {
	AccessToken  *string  `json:"access_token"`
	ExpiresIn    *float64 `json:"expires_in"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        string   `json:"scope"`
}
