package authmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
	"github.com/aussiebroadwan/tokenkeeper/pkg/slogx"
)

var errTransport = errors.New("dial tcp: connection refused")

// ----------------------------------------------------------------------------
// Gateway
// ----------------------------------------------------------------------------

type result struct {
	resp *authsdk.TokenResponse
	err  error
}

// fakeGateway answers exchanges from a script and falls back to issuing
// numbered tokens. Session grants get a refresh token.
type fakeGateway struct {
	mu     sync.Mutex
	calls  []authsdk.Exchange
	script []result

	// When block is set, Exchange waits for it to close or for ctx to end.
	block   chan struct{}
	started chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{}
}

func (g *fakeGateway) Exchange(ctx context.Context, ex authsdk.Exchange) (*authsdk.TokenResponse, error) {
	g.mu.Lock()
	g.calls = append(g.calls, ex)
	n := len(g.calls)
	var next *result
	if len(g.script) > 0 {
		next = &g.script[0]
		g.script = g.script[1:]
	}
	block, started := g.block, g.started
	g.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if next != nil {
		return next.resp, next.err
	}
	return issued(n, ex), nil
}

func issued(n int, ex authsdk.Exchange) *authsdk.TokenResponse {
	resp := &authsdk.TokenResponse{
		AccessToken: fmt.Sprintf("access-%d", n),
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Scope:       ex.Params.Get("scope"),
	}
	if ex.GrantType == authsdk.GrantPassword || strings.Contains(ex.URL, "/anonymous/") {
		resp.RefreshToken = fmt.Sprintf("refresh-%d", n)
	}
	return resp
}

func (g *fakeGateway) respond(results ...result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, results...)
}

func (g *fakeGateway) reject(status int, code string) {
	g.respond(result{err: authsdk.NewOAuth2Error(status, code, "rejected by test")})
}

func (g *fakeGateway) fail(err error) {
	g.respond(result{err: err})
}

// hold makes exchanges block until the returned release func is called.
func (g *fakeGateway) hold() (started <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.block = make(chan struct{})
	g.started = make(chan struct{}, 16)
	block := g.block
	var once sync.Once
	return g.started, func() { once.Do(func() { close(block) }) }
}

func (g *fakeGateway) Calls() []authsdk.Exchange {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]authsdk.Exchange(nil), g.calls...)
}

// grants describes each call as the grant the manager meant to issue.
func (g *fakeGateway) grants() []string {
	var out []string
	for _, ex := range g.Calls() {
		switch {
		case strings.Contains(ex.URL, "/anonymous/"):
			out = append(out, "anonymous_session")
		default:
			out = append(out, ex.Params.Get("grant_type"))
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Store
// ----------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	clears  int

	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Load(_ context.Context, projectKey string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Record{}, s.loadErr
	}
	return s.records[projectKey], nil
}

func (s *memStore) Save(_ context.Context, projectKey string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[projectKey] = rec
	return nil
}

func (s *memStore) Clear(_ context.Context, projectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	delete(s.records, projectKey)
	return nil
}

func (s *memStore) get(projectKey string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[projectKey]
	return rec, ok
}

func (s *memStore) put(projectKey string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[projectKey] = rec
}

// ----------------------------------------------------------------------------
// Clock and settings
// ----------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mutableSettings struct {
	mu  sync.Mutex
	s   Settings
	err error
}

func (m *mutableSettings) Settings() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, m.err
}

func (m *mutableSettings) update(fn func(*Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
}

func testSettings() Settings {
	return Settings{
		AuthURL:      "https://auth.example.com",
		ProjectKey:   "shop",
		ClientID:     "web",
		ClientSecret: "secret",
		Scope:        "read write",
	}
}

// ----------------------------------------------------------------------------
// Harness
// ----------------------------------------------------------------------------

type harness struct {
	m        *Manager
	gateway  *fakeGateway
	store    *memStore
	clock    *fakeClock
	settings *mutableSettings
}

func newHarness(t *testing.T, s Settings, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, s, newMemStore(), opts...)
}

func newHarnessWithStore(t *testing.T, s Settings, store *memStore, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		gateway:  newFakeGateway(),
		store:    store,
		clock:    newFakeClock(),
		settings: &mutableSettings{s: s},
	}

	opts = append([]Option{
		WithLogger(slogx.Discard()),
		WithClock(h.clock.Now),
	}, opts...)

	m, err := New(h.settings, h.store, h.gateway, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	h.m = m
	return h
}

func (h *harness) snapshot(t *testing.T) Record {
	t.Helper()
	rec, err := h.m.Snapshot(context.Background())
	require.NoError(t, err)
	return rec
}
