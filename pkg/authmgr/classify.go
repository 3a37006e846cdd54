package authmgr

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
)

// outcome is the manager's judgment of a gateway result.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRejected
	outcomeTransient
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRejected:
		return "rejected"
	default:
		return "transient"
	}
}

// classify maps a gateway result onto success, fatal rejection or transient
// failure. Only a structured OAuth2 error with a status above 299 is fatal;
// anything else that is not a usable token is transient.
func classify(resp *authsdk.TokenResponse, err error) (outcome, *AuthError) {
	if err == nil {
		if resp == nil || resp.AccessToken == "" {
			return outcomeTransient, &AuthError{Kind: NetworkFailure, Err: authsdk.ErrMalformedResponse}
		}
		return outcomeSuccess, nil
	}

	var oauthErr *authsdk.OAuth2Error
	if errors.As(err, &oauthErr) && oauthErr.StatusCode >= http.StatusMultipleChoices {
		return outcomeRejected, &AuthError{
			Kind:        AuthRejected,
			StatusCode:  oauthErr.StatusCode,
			Code:        oauthErr.Code,
			Description: oauthErr.Description,
			Err:         err,
		}
	}

	return outcomeTransient, &AuthError{Kind: NetworkFailure, Err: err}
}
