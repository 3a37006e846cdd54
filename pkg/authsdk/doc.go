/*
Package authsdk is the HTTP gateway for OAuth2 token requests.

# Overview

An SDKClient POSTs a single form-encoded token request and turns the reply
into one of three outcomes:

  - a *TokenResponse carrying access_token, expires_in and optionally
    refresh_token and scope
  - an *OAuth2Error when the server answered with a status above 299 and a
    JSON body holding "error" and optionally "error_description"
  - any other error: transport failures, timeouts, a *StatusError for an
    unstructured error page, or ErrMalformedResponse for a 2xx body that is
    not a usable token

The client holds no token state and makes no judgment about whether a
failure is fatal. Which grant to request, and what to do with the outcome,
belongs to the caller (see package authmgr).

# Usage

	client := authsdk.NewSDKClient(
		authsdk.WithRateLimit(rate.Every(time.Second), 5),
		authsdk.WithLogger(logger),
	)

	resp, err := client.Exchange(ctx, authsdk.Exchange{
		GrantType: authsdk.GrantClientCredentials,
		URL:       "https://auth.example.com/oauth/token",
		Params: url.Values{
			"grant_type": {"client_credentials"},
			"scope":      {"manage_project:demo"},
		},
		Header: http.Header{
			"Authorization": {authsdk.BasicAuth(clientID, clientSecret)},
		},
	})

Every request carries a fresh X-Request-ID which is also attached to the
debug log lines for that exchange. Token values are never logged.
*/
package authsdk
