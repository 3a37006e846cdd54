package authsdk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// BasicAuth returns the value of an Authorization header carrying HTTP basic
// client credentials.
func BasicAuth(clientID, clientSecret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret))
}

// decodeTokenResponse parses a 2xx token response body. The access token and
// its lifetime are required.
func decodeTokenResponse(body []byte) (*TokenResponse, error) {
	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if payload.AccessToken == nil || *payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	if payload.ExpiresIn == nil {
		return nil, fmt.Errorf("%w: missing expires_in", ErrMalformedResponse)
	}

	return &TokenResponse{
		AccessToken:  *payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		ExpiresIn:    int64(*payload.ExpiresIn),
		Scope:        payload.Scope,
	}, nil
}
