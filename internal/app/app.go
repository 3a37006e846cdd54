package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/tokenkeeper/internal/config"
	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk"
	"github.com/aussiebroadwan/tokenkeeper/pkg/cryptox"
	"github.com/aussiebroadwan/tokenkeeper/pkg/slogx"
	"github.com/aussiebroadwan/tokenkeeper/pkg/tokenstore"
	"github.com/aussiebroadwan/tokenkeeper/pkg/tokenstore/sqlite"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires configuration, the token store, the gateway and the
// token manager together.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sqlite.Store // nil with the memory store
	store    authmgr.Store
	gateway  *authsdk.SDKClient
	registry *prometheus.Registry
	manager  *authmgr.Manager
}

// Option configures an Application.
type Option func(*Application)

// WithLogger skips building a logger from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(app *Application) {
		app.logger = logger
	}
}

// New builds the Application. The manager starts loading the stored record
// for the current project straight away.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	app := &Application{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}

	env := cfg.Env()
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "tokenkeeper",
			Version: BuildVersion,
			Env:     env.Env,
			Level:   env.LogLevel,
			Format:  env.LogFormat,
		})
	}

	if err := app.initStore(env); err != nil {
		return nil, err
	}
	app.initGateway(env)

	app.registry = prometheus.NewRegistry()
	manager, err := authmgr.New(cfg, app.store, app.gateway,
		authmgr.WithLogger(app.logger),
		authmgr.WithExchangeTimeout(env.ExchangeTimeout),
		authmgr.WithRegisterer(app.registry),
	)
	if err != nil {
		_ = app.closeStore()
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	app.manager = manager

	return app, nil
}

func (app *Application) initStore(env config.Env) error {
	switch env.Store {
	case "memory":
		app.store = tokenstore.NewMemory()
	default:
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", app.cfg.DatabasePath())
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to open token database: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.db = db
		app.store = db
		app.logger.Debug("token database ready", "path", app.cfg.DatabasePath())
	}

	if env.Seal {
		sealer, err := cryptox.LoadSealer(env.MasterKeyPath)
		if err != nil {
			_ = app.closeStore()
			return fmt.Errorf("failed to load master key: %w", err)
		}
		app.store = tokenstore.NewSealed(app.store, sealer)
	}
	return nil
}

func (app *Application) initGateway(env config.Env) {
	opts := []authsdk.ClientOption{
		authsdk.WithLogger(app.logger.With("component", "authsdk")),
		authsdk.WithHTTPClient(&http.Client{Timeout: env.ExchangeTimeout}),
	}
	if env.GrantRate > 0 {
		opts = append(opts, authsdk.WithRateLimit(rate.Limit(env.GrantRate), env.GrantBurst))
	}
	app.gateway = authsdk.NewSDKClient(opts...)
}

func (app *Application) Config() *config.Config {
	return app.cfg
}

func (app *Application) Logger() *slog.Logger {
	return app.logger
}

func (app *Application) Manager() *authmgr.Manager {
	return app.manager
}

// Registry holds the manager's metrics.
func (app *Application) Registry() *prometheus.Registry {
	return app.registry
}

// UseProject switches the current project and lets the manager load its
// record.
func (app *Application) UseProject(ctx context.Context, name string) error {
	if err := app.cfg.Use(name); err != nil {
		return err
	}
	return app.manager.OnConfigurationChanged(ctx)
}

// Reconfigure re-reads the config file and applies it to the manager.
func (app *Application) Reconfigure(ctx context.Context) error {
	if err := app.cfg.Reload(); err != nil {
		return err
	}
	return app.manager.OnConfigurationChanged(ctx)
}

// HTTPClient returns a client that authorizes every request with the
// manager's current token.
func (app *Application) HTTPClient(ctx context.Context) *http.Client {
	return app.manager.Client(ctx, nil)
}

// Close stops the manager and releases the store.
func (app *Application) Close() error {
	return errors.Join(app.manager.Close(), app.closeStore())
}

func (app *Application) closeStore() error {
	if app.db == nil {
		return nil
	}
	return app.db.Close()
}
