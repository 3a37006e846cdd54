package authmgr

import (
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
)

// grantKind is one of the four token requests the manager can issue.
type grantKind int

const (
	grantPassword grantKind = iota
	grantAnonymousSession
	grantPlain
	grantRefresh
)

func (g grantKind) String() string {
	switch g {
	case grantPassword:
		return "password"
	case grantAnonymousSession:
		return "anonymous_session"
	case grantPlain:
		return "client_credentials"
	case grantRefresh:
		return "refresh_token"
	default:
		return "unknown"
	}
}

// resultState is the state a successful grant moves the manager into.
// A refresh keeps whatever session it refreshed.
func (g grantKind) resultState(current TokenState) TokenState {
	switch g {
	case grantPassword:
		return CustomerToken
	case grantAnonymousSession:
		return AnonymousToken
	case grantPlain:
		return PlainToken
	default:
		return current
	}
}

// keepsRefreshToken reports whether a refresh token may be stored after this
// grant. Plain client-credentials tokens never carry one.
func (g grantKind) keepsRefreshToken() bool {
	return g != grantPlain
}

func tokenURL(s Settings) string {
	return s.AuthURL + "oauth/token"
}

func anonymousTokenURL(s Settings) string {
	return s.AuthURL + "oauth/" + url.PathEscape(s.ProjectKey) + "/anonymous/token"
}

func clientHeader(s Settings) http.Header {
	h := make(http.Header)
	h.Set("Authorization", authsdk.BasicAuth(s.ClientID, s.ClientSecret))
	return h
}

func passwordExchange(s Settings, username, password string) authsdk.Exchange {
	return authsdk.Exchange{
		GrantType: authsdk.GrantPassword,
		URL:       tokenURL(s),
		Params: url.Values{
			"grant_type": {string(authsdk.GrantPassword)},
			"scope":      {s.Scope},
			"username":   {username},
			"password":   {password},
		},
		Header: clientHeader(s),
	}
}

func anonymousSessionExchange(s Settings, anonymousID string) authsdk.Exchange {
	params := url.Values{
		"grant_type": {string(authsdk.GrantClientCredentials)},
		"scope":      {s.Scope},
	}
	if anonymousID != "" {
		params.Set("anonymous_id", anonymousID)
	}
	return authsdk.Exchange{
		GrantType: authsdk.GrantClientCredentials,
		URL:       anonymousTokenURL(s),
		Params:    params,
		Header:    clientHeader(s),
	}
}

func plainExchange(s Settings) authsdk.Exchange {
	return authsdk.Exchange{
		GrantType: authsdk.GrantClientCredentials,
		URL:       tokenURL(s),
		Params: url.Values{
			"grant_type": {string(authsdk.GrantClientCredentials)},
			"scope":      {s.Scope},
		},
		Header: clientHeader(s),
	}
}

func refreshExchange(s Settings, refreshToken string) authsdk.Exchange {
	return authsdk.Exchange{
		GrantType: authsdk.GrantRefreshToken,
		URL:       tokenURL(s),
		Params: url.Values{
			"grant_type":    {string(authsdk.GrantRefreshToken)},
			"refresh_token": {refreshToken},
		},
		Header: clientHeader(s),
	}
}
