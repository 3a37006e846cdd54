// Package authsdktest provides an in-process OAuth2 authorization server
// for exercising token clients. It implements the password,
// client_credentials and refresh_token grants on /oauth/token and anonymous
// sessions on /oauth/{projectKey}/anonymous/token.
package authsdktest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
	"github.com/aussiebroadwan/tokenkeeper/pkg/cryptox"
	"github.com/aussiebroadwan/tokenkeeper/pkg/httpx"
	"github.com/aussiebroadwan/tokenkeeper/pkg/idx"
	"github.com/aussiebroadwan/tokenkeeper/pkg/jwtx"
	"github.com/aussiebroadwan/tokenkeeper/pkg/slogx"
)

// DefaultAccessTTL is the lifetime reported in expires_in.
const DefaultAccessTTL = 48 * time.Hour

const issuer = "tokenkeeper-fake-auth"

// Call is one token request as received by the server.
type Call struct {
	Path       string
	ProjectKey string // set for anonymous session requests
	ClientID   string
	GrantType  string
	Form       url.Values
	RequestID  string
	ReceivedAt time.Time
}

// session is what a refresh token stands for.
type session struct {
	subject     string
	scope       string
	anonymousID string
}

// failure is a scripted answer for the next request.
type failure struct {
	oauth     *authsdk.OAuth2Error
	drop      bool
	malformed bool
}

// FakeAuth is an http.Handler implementing the token endpoints.
type FakeAuth struct {
	mu           sync.Mutex
	clients      map[string]string // client id -> hashed secret
	users        map[string]user
	sessions     map[string]session // refresh token -> session
	anonymousIDs map[string]struct{}
	calls        []Call
	failures     []failure

	signer    *jwtx.EdDSASigner
	accessTTL time.Duration
	rateLimit *httpx.RateLimitConfig
	logger    *slog.Logger
	handler   http.Handler
}

type user struct {
	id   idx.ID
	hash string
}

// Option configures a FakeAuth.
type Option func(*FakeAuth) error

// WithClient registers API client credentials.
func WithClient(id, secret string) Option {
	return func(f *FakeAuth) error {
		hash, err := cryptox.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("hash client secret: %w", err)
		}
		f.clients[id] = hash
		return nil
	}
}

// WithUser registers a customer that can log in with the password grant.
func WithUser(username, password string) Option {
	return func(f *FakeAuth) error {
		hash, err := cryptox.HashSecret(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		f.users[username] = user{id: idx.New(), hash: hash}
		return nil
	}
}

// WithAccessTTL sets the access-token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(f *FakeAuth) error {
		if ttl <= 0 {
			return errors.New("access ttl must be positive")
		}
		f.accessTTL = ttl
		return nil
	}
}

// WithRateLimit limits token requests per client id.
func WithRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(f *FakeAuth) error {
		f.rateLimit = &cfg
		return nil
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FakeAuth) error {
		f.logger = logger
		return nil
	}
}

// New builds a FakeAuth. Without WithClient no request can authenticate.
func New(opts ...Option) (*FakeAuth, error) {
	signer, err := jwtx.NewEdDSASigner("fake-"+idx.New().String(), issuer)
	if err != nil {
		return nil, err
	}

	f := &FakeAuth{
		clients:      make(map[string]string),
		users:        make(map[string]user),
		sessions:     make(map[string]session),
		anonymousIDs: make(map[string]struct{}),
		signer:       signer,
		accessTTL:    DefaultAccessTTL,
		logger:       slogx.Discard(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("authsdktest: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", f.handleToken)
	mux.HandleFunc("POST /oauth/{projectKey}/anonymous/token", f.handleAnonymousToken)

	mws := []httpx.Middleware{slogx.HTTPMiddleware(f.logger)}
	if f.rateLimit != nil {
		mws = append(mws, httpx.RateLimitMiddleware(*f.rateLimit, httpx.ClientIDKeyExtractor))
	}
	f.handler = httpx.Chain(mux, mws...)

	return f, nil
}

func (f *FakeAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.handler.ServeHTTP(w, r)
}

// Server is a FakeAuth listening on a local httptest server.
type Server struct {
	*FakeAuth

	// URL is the auth base URL, ending in a slash.
	URL string
}

// NewServer starts a FakeAuth that is shut down when tb finishes.
func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	f, err := New(opts...)
	if err != nil {
		tb.Fatalf("authsdktest: %v", err)
	}
	srv := httptest.NewServer(f)
	tb.Cleanup(srv.Close)

	return &Server{FakeAuth: f, URL: srv.URL + "/"}
}

// ============================================================================
// Scripting and inspection
// ============================================================================

// RejectNext makes the next request fail with an OAuth2 error body.
func (f *FakeAuth) RejectNext(status int, code, description string) {
	f.script(failure{oauth: authsdk.NewOAuth2Error(status, code, description)})
}

// DropNext makes the server close the connection on the next request
// without answering.
func (f *FakeAuth) DropNext() {
	f.script(failure{drop: true})
}

// MalformNext makes the next request succeed with a body that is not a
// token response.
func (f *FakeAuth) MalformNext() {
	f.script(failure{malformed: true})
}

func (f *FakeAuth) script(fl failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, fl)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (f *FakeAuth) RevokeRefreshTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.sessions)
}

// Calls returns the requests received so far.
func (f *FakeAuth) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// GrantTypes returns the grant of each request so far, with anonymous
// session requests reported as "anonymous_session".
func (f *FakeAuth) GrantTypes() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.GrantType
		if c.ProjectKey != "" {
			out[i] = "anonymous_session"
		}
	}
	return out
}

// Verify checks an access token issued by this server and returns its claims.
func (f *FakeAuth) Verify(accessToken string) (jwtx.Claims, error) {
	return f.signer.Verify(accessToken)
}

// ============================================================================
// Handlers
// ============================================================================

func (f *FakeAuth) handleToken(w http.ResponseWriter, r *http.Request) {
	clientID, form, ok := f.begin(w, r, "")
	if !ok {
		return
	}

	switch grant := form.Get("grant_type"); authsdk.GrantType(grant) {
	case authsdk.GrantPassword:
		f.passwordGrant(w, r, form)
	case authsdk.GrantClientCredentials:
		f.issue(w, r, clientID, form.Get("scope"), grant, "", false)
	case authsdk.GrantRefreshToken:
		f.refreshGrant(w, r, form)
	case "":
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "grant_type is required")
	default:
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeUnsupportedGrantType, "unsupported grant type: "+grant)
	}
}

func (f *FakeAuth) handleAnonymousToken(w http.ResponseWriter, r *http.Request) {
	projectKey := r.PathValue("projectKey")
	_, form, ok := f.begin(w, r, projectKey)
	if !ok {
		return
	}

	if form.Get("grant_type") != string(authsdk.GrantClientCredentials) {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeUnsupportedGrantType, "anonymous sessions require client_credentials")
		return
	}

	anonymousID := form.Get("anonymous_id")
	f.mu.Lock()
	if anonymousID == "" {
		anonymousID = idx.New().String()
	}
	_, taken := f.anonymousIDs[anonymousID]
	if !taken {
		f.anonymousIDs[anonymousID] = struct{}{}
	}
	f.mu.Unlock()

	if taken {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "anonymous_id is already in use")
		return
	}

	f.issue(w, r, "anon:"+anonymousID, form.Get("scope"), "anonymous_session", anonymousID, true)
}

// begin records the call, applies scripted failures and authenticates the
// client. It reports false when the response has already been written.
func (f *FakeAuth) begin(w http.ResponseWriter, r *http.Request, projectKey string) (string, url.Values, bool) {
	log := slogx.FromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "malformed form body")
		return "", nil, false
	}
	clientID, secret, hasAuth := r.BasicAuth()

	f.mu.Lock()
	f.calls = append(f.calls, Call{
		Path:       r.URL.Path,
		ProjectKey: projectKey,
		ClientID:   clientID,
		GrantType:  r.PostForm.Get("grant_type"),
		Form:       r.PostForm,
		RequestID:  r.Header.Get("X-Request-ID"),
		ReceivedAt: time.Now(),
	})
	var fl *failure
	if len(f.failures) > 0 {
		fl = &f.failures[0]
		f.failures = f.failures[1:]
	}
	hash, known := f.clients[clientID]
	f.mu.Unlock()

	if fl != nil {
		switch {
		case fl.oauth != nil:
			log.Info("scripted rejection", "code", fl.oauth.Code)
			fl.oauth.WriteError(w)
		case fl.malformed:
			log.Info("scripted malformed response")
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"token_type": "Bearer"})
		case fl.drop:
			log.Info("scripted connection drop")
			dropConnection(w)
		}
		return "", nil, false
	}

	if !hasAuth || !known || cryptox.VerifySecret(secret, hash) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="tokenkeeper"`)
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidClient, "client authentication failed")
		return "", nil, false
	}

	return clientID, r.PostForm, true
}

func (f *FakeAuth) passwordGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	username, password := form.Get("username"), form.Get("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "username and password are required")
		return
	}

	f.mu.Lock()
	u, ok := f.users[username]
	f.mu.Unlock()

	if !ok || cryptox.VerifySecret(password, u.hash) != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "Customer account with the given credentials not found.")
		return
	}

	f.issue(w, r, u.id.String(), form.Get("scope"), string(authsdk.GrantPassword), "", true)
}

func (f *FakeAuth) refreshGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	token := form.Get("refresh_token")
	if token == "" {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "refresh_token is required")
		return
	}

	f.mu.Lock()
	s, ok := f.sessions[token]
	f.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "The refresh token was not found. It may have expired.")
		return
	}

	// The refresh token stays valid and is not returned again.
	access, err := f.sign(s.subject, s.scope, string(authsdk.GrantRefreshToken), s.anonymousID)
	if err != nil {
		f.serverError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(f.accessTTL / time.Second),
		Scope:       s.scope,
	})
}

// issue mints an access token, plus a refresh token for session grants.
func (f *FakeAuth) issue(w http.ResponseWriter, r *http.Request, subject, scope, grant, anonymousID string, withRefresh bool) {
	scope = strings.Join(httpx.ParseSpaceDelimitedFields(scope), " ")
	if scope == "" {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidScope, "scope is required")
		return
	}

	access, err := f.sign(subject, scope, grant, anonymousID)
	if err != nil {
		f.serverError(w, r, err)
		return
	}

	resp := authsdk.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(f.accessTTL / time.Second),
		Scope:       scope,
	}

	if withRefresh {
		refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			f.serverError(w, r, err)
			return
		}
		f.mu.Lock()
		f.sessions[refresh] = session{subject: subject, scope: scope, anonymousID: anonymousID}
		f.mu.Unlock()
		resp.RefreshToken = refresh
	}

	slogx.FromContext(r.Context()).Info("token issued",
		"grant", grant,
		"subject", subject,
		"token_fp", cryptox.FingerprintToken(access)[:12],
	)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (f *FakeAuth) sign(subject, scope, grant, anonymousID string) (string, error) {
	claims := jwtx.NewAccessClaims(subject, scope, grant, issuer, f.accessTTL, time.Now().UTC())
	claims.AnonymousID = anonymousID
	return f.signer.Sign(claims)
}

func (f *FakeAuth) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slogx.FromContext(r.Context()).Error("token issue failed", "error", err)
	writeError(w, http.StatusInternalServerError, authsdk.ErrorCodeServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	authsdk.NewOAuth2Error(status, code, description).WriteError(w)
}

// dropConnection closes the underlying connection without a response.
func dropConnection(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		// Without hijacking the closest thing is an unusable response.
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	_ = conn.Close()
}
