package authmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
	"github.com/aussiebroadwan/tokenkeeper/pkg/cryptox"
)

const (
	// DefaultExchangeTimeout bounds a single grant or refresh exchange so the
	// worker always moves on, even if the transport never answers.
	DefaultExchangeTimeout = 30 * time.Second

	// DefaultQueueSize is the number of operations that can wait behind the
	// running one before submitters block.
	DefaultQueueSize = 64
)

// Manager acquires, caches, refreshes and invalidates bearer tokens for one
// project at a time. Every operation runs on a single worker goroutine in
// submission order, so at most one exchange is in flight and no two
// operations observe a half-updated record.
type Manager struct {
	settings SettingsSource
	store    Store
	gateway  Gateway

	logger          *slog.Logger
	now             func() time.Time
	exchangeTimeout time.Duration
	queueSize       int
	registerer      prometheus.Registerer
	metrics         *metrics

	w *worker

	// Fields below are owned by the worker goroutine.
	rec         Record
	project     string
	useSession  bool
	anonymousID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Failures of background reacquisition are only
// reported here.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithExchangeTimeout bounds each exchange. Non-positive values are ignored.
func WithExchangeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.exchangeTimeout = d
		}
	}
}

// WithQueueSize sets how many operations may be queued.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithRegisterer registers the manager's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registerer = reg
	}
}

// New creates a Manager and schedules loading the persisted record for the
// configured project. Construction does not fail on invalid configuration;
// operations report ConfigurationInvalid until it is fixed.
func New(settings SettingsSource, store Store, gateway Gateway, opts ...Option) (*Manager, error) {
	if settings == nil {
		return nil, errors.New("authmgr: settings source is required")
	}
	if store == nil {
		return nil, errors.New("authmgr: store is required")
	}
	if gateway == nil {
		return nil, errors.New("authmgr: gateway is required")
	}

	m := &Manager{
		settings:        settings,
		store:           store,
		gateway:         gateway,
		logger:          slog.Default(),
		now:             time.Now,
		exchangeTimeout: DefaultExchangeTimeout,
		queueSize:       DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "authmgr")
	m.metrics = newMetrics(m.registerer)
	m.w = newWorker(m.queueSize)

	err := m.w.submit(context.Background(), func(ctx context.Context) {
		if err := m.reload(ctx); err != nil {
			m.logger.Warn("initial token record load failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Close stops the worker. An exchange in flight is cancelled and reported to
// its caller as a NetworkFailure; later operations return ErrClosed.
func (m *Manager) Close() error {
	m.w.close()
	return nil
}

// ============================================================================
// Public operations
// ============================================================================

// EnsureToken returns a valid access token, from the cache when possible and
// otherwise after exactly one grant or refresh exchange.
func (m *Manager) EnsureToken(ctx context.Context) (string, error) {
	rec, err := call(ctx, m.w, m.ensure)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// Login exchanges customer credentials for a customer session. Unless the
// manager holds a plain token, the current credentials are cleared first so
// sessions never mix.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	_, err := call(ctx, m.w, func(ctx context.Context) (struct{}, error) {
		s, err := m.prepare(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if m.rec.State != PlainToken {
			m.clear(ctx)
		}
		_, err = m.exchange(ctx, s, grantPassword, passwordExchange(s, username, password))
		return struct{}{}, err
	})
	return err
}

// Logout clears the record and returns. A fresh anonymous or plain token is
// then acquired before any later operation runs; failures of that attempt
// are only logged.
func (m *Manager) Logout(ctx context.Context) error {
	_, err := call(ctx, m.w, func(ctx context.Context) (struct{}, error) {
		m.logout(ctx)
		return struct{}{}, nil
	})
	return err
}

// ObtainAnonymous overrides the configured session mode until the next
// configuration reload, drops any existing credentials and fetches a new
// token. anonymousID, when not empty, is sent with an anonymous session grant.
func (m *Manager) ObtainAnonymous(ctx context.Context, useSession bool, anonymousID string) error {
	_, err := call(ctx, m.w, func(ctx context.Context) (struct{}, error) {
		if _, err := m.prepare(ctx); err != nil {
			return struct{}{}, err
		}
		m.anonymousID = anonymousID
		m.useSession = useSession
		m.clear(ctx)
		_, err := m.ensure(ctx)
		return struct{}{}, err
	})
	return err
}

// OnConfigurationChanged reloads the record for the configured project and
// re-reads the session mode. A record that contradicts the mode (an
// anonymous session with sessions off, or a plain token with sessions on)
// triggers a logout followed by reacquisition.
func (m *Manager) OnConfigurationChanged(ctx context.Context) error {
	_, err := call(ctx, m.w, func(ctx context.Context) (struct{}, error) {
		err := m.reload(ctx)
		if (m.rec.State == AnonymousToken && !m.useSession) ||
			(m.rec.State == PlainToken && m.useSession) {
			m.logger.Info("token state does not match session mode, logging out",
				"state", m.rec.State, "anonymous_session", m.useSession)
			m.logout(ctx)
		}
		return struct{}{}, err
	})
	return err
}

// Snapshot returns a copy of the current record.
func (m *Manager) Snapshot(ctx context.Context) (Record, error) {
	return call(ctx, m.w, func(context.Context) (Record, error) {
		return m.rec, nil
	})
}

// State returns the current token state.
func (m *Manager) State(ctx context.Context) (TokenState, error) {
	rec, err := m.Snapshot(ctx)
	return rec.State, err
}

// ============================================================================
// Worker-side state machine
// ============================================================================

func (m *Manager) currentSettings() (Settings, error) {
	s, err := m.settings.Settings()
	if err != nil {
		return Settings{}, configurationError(err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, configurationError(err)
	}
	return s.normalized(), nil
}

// prepare resolves the settings for an operation and switches to the
// configured project if it changed without a reload.
func (m *Manager) prepare(ctx context.Context) (Settings, error) {
	s, err := m.currentSettings()
	if err != nil {
		m.logger.Error("cannot obtain access token without valid configuration", "error", err)
		return Settings{}, err
	}
	if s.ProjectKey != m.project {
		if err := m.load(ctx, s); err != nil {
			m.logger.Warn("token record load failed", "project", s.ProjectKey, "error", err)
		}
	}
	return s, nil
}

func (m *Manager) reload(ctx context.Context) error {
	s, err := m.currentSettings()
	if err != nil {
		m.rec = Record{}
		m.project = ""
		m.metrics.setState(NoToken)
		return err
	}
	return m.load(ctx, s)
}

func (m *Manager) load(ctx context.Context, s Settings) error {
	m.project = s.ProjectKey
	m.useSession = s.AnonymousSession
	m.anonymousID = s.AnonymousID

	rec, err := m.store.Load(ctx, s.ProjectKey)
	if err != nil {
		m.rec = Record{}
		m.metrics.setState(NoToken)
		return fmt.Errorf("load token record for project %s: %w", s.ProjectKey, err)
	}
	m.rec = rec.normalize()
	m.metrics.setState(m.rec.State)

	m.logger.Info("token record loaded", "project", s.ProjectKey, "state", m.rec.State)
	return nil
}

func (m *Manager) ensure(ctx context.Context) (Record, error) {
	s, err := m.prepare(ctx)
	if err != nil {
		return Record{}, err
	}

	if m.rec.Valid(m.now()) {
		if !m.rec.HasRefreshToken() && m.rec.State != PlainToken {
			// A session token that cannot be refreshed behaves like a plain one.
			m.rec.State = PlainToken
			m.persist(ctx, s)
		}
		m.metrics.cacheHit()
		m.logger.Debug("using cached token", "project", s.ProjectKey, "state", m.rec.State)
		return m.rec, nil
	}

	m.rec.AccessToken = ""
	m.rec.ValidUntil = time.Time{}

	if m.rec.HasRefreshToken() {
		return m.exchange(ctx, s, grantRefresh, refreshExchange(s, m.rec.RefreshToken))
	}
	if m.useSession {
		return m.exchange(ctx, s, grantAnonymousSession, anonymousSessionExchange(s, m.anonymousID))
	}
	return m.exchange(ctx, s, grantPlain, plainExchange(s))
}

// exchange issues one grant and applies the classified outcome to the record.
func (m *Manager) exchange(ctx context.Context, s Settings, g grantKind, ex authsdk.Exchange) (Record, error) {
	log := m.logger.With("project", s.ProjectKey, "grant", g.String())
	log.Info("requesting token")

	exCtx, cancel := context.WithTimeout(ctx, m.exchangeTimeout)
	resp, err := m.gateway.Exchange(exCtx, ex)
	cancel()

	result, authErr := classify(resp, err)
	m.metrics.exchange(g, result)

	switch result {
	case outcomeSuccess:
		rec := Record{
			AccessToken: resp.AccessToken,
			ValidUntil:  validUntil(m.now(), resp.ExpiresIn),
			State:       g.resultState(m.rec.State),
		}
		if g.keepsRefreshToken() {
			rec.RefreshToken = m.rec.RefreshToken
			if resp.RefreshToken != "" {
				rec.RefreshToken = resp.RefreshToken
			}
		}
		m.anonymousID = ""
		m.rec = rec
		m.persist(ctx, s)

		log.Info("token obtained",
			"state", rec.State,
			"valid_until", rec.ValidUntil,
			"token_fp", fingerprint(rec.AccessToken),
		)
		return rec, nil

	case outcomeRejected:
		// The grant itself is dead (e.g. a revoked refresh token); retrying
		// it can never succeed.
		log.Warn("token request rejected",
			"status", authErr.StatusCode,
			"code", authErr.Code,
			"description", authErr.Description,
		)
		m.clear(ctx)
		return Record{}, authErr

	default:
		// The persisted record stays as it is. The working record is reset
		// so the next request starts a fresh acquisition.
		log.Warn("token request failed", "error", err)
		m.rec = Record{}
		m.metrics.setState(NoToken)
		return Record{}, authErr
	}
}

func (m *Manager) logout(ctx context.Context) {
	m.clear(ctx)
	m.logger.Debug("getting new anonymous access token after logout")
	m.w.then(func(ctx context.Context) {
		if _, err := m.ensure(ctx); err != nil {
			m.logger.Error("could not obtain auth token", "error", err)
		}
	})
}

func (m *Manager) persist(ctx context.Context, s Settings) {
	if err := m.store.Save(ctx, s.ProjectKey, m.rec); err != nil {
		m.logger.Error("failed to persist token record", "project", s.ProjectKey, "error", err)
	}
	m.metrics.setState(m.rec.State)
}

func (m *Manager) clear(ctx context.Context) {
	m.rec = Record{}
	m.metrics.setState(NoToken)
	if m.project == "" {
		return
	}
	if err := m.store.Clear(ctx, m.project); err != nil {
		m.logger.Error("failed to clear token record", "project", m.project, "error", err)
	}
}

// fingerprint identifies a token in logs without revealing it.
func fingerprint(token string) string {
	fp := cryptox.FingerprintToken(token)
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}
