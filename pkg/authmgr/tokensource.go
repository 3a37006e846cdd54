package authmgr

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Token returns the current valid token as an oauth2.Token. Expiry is the
// manager's local validity bound, already shortened by ExpiryMargin.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	rec, err := call(ctx, m.w, m.ensure)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: rec.AccessToken,
		TokenType:   "Bearer",
		Expiry:      rec.ValidUntil,
	}, nil
}

// TokenSource adapts the manager to oauth2.TokenSource. The source does no
// caching of its own; every call goes through the manager, which answers from
// its cache while the token is valid. Wrapping it in oauth2.ReuseTokenSource
// (as oauth2.NewClient does) would keep serving a token after Login or Logout
// replaced it, so use Client for an authorizing http.Client.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	return ts.m.Token(ts.ctx)
}

// Client returns an http.Client that asks the manager for the current token
// on every request. A nil base uses http.DefaultTransport.
func (m *Manager) Client(ctx context.Context, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: m.TokenSource(ctx),
			Base:   base,
		},
	}
}

// Authorize sets the bearer Authorization header on req.
func (m *Manager) Authorize(ctx context.Context, req *http.Request) error {
	token, err := m.EnsureToken(ctx)
	if err != nil {
		return fmt.Errorf("authorize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
