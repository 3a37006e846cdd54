package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
)

// Project is one set of API client credentials in the config file.
type Project struct {
	AuthURL      string `yaml:"auth-url"`
	APIURL       string `yaml:"api-url,omitempty"`
	ProjectKey   string `yaml:"project-key,omitempty"` // defaults to the entry name
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret,omitempty"`
	Scope        string `yaml:"scope"`

	AnonymousSession bool   `yaml:"anonymous-session,omitempty"`
	AnonymousID      string `yaml:"anonymous-id,omitempty"`
}

// File is the on-disk layout, similar to a kubeconfig with projects
// instead of contexts.
type File struct {
	CurrentProject string              `yaml:"current-project"`
	Projects       map[string]*Project `yaml:"projects"`
}

// Env holds process settings read from TOKENKEEPER_* variables.
type Env struct {
	ConfigPath   string `env:"TOKENKEEPER_CONFIG"`
	Project      string `env:"TOKENKEEPER_PROJECT"`
	ClientSecret string `env:"TOKENKEEPER_CLIENT_SECRET"`

	Env       string `env:"TOKENKEEPER_ENV, default=prod"`
	LogLevel  string `env:"TOKENKEEPER_LOG_LEVEL, default=warn"`
	LogFormat string `env:"TOKENKEEPER_LOG_FORMAT, default=text"`

	// Store selects the token record store: "sqlite" (default) or "memory".
	Store        string `env:"TOKENKEEPER_STORE, default=sqlite"`
	DatabaseFile string `env:"TOKENKEEPER_DATABASE_FILE"`

	// Seal encrypts stored tokens with the master key from MasterKeyPath or
	// TOKENKEEPER_MASTER_KEY.
	Seal          bool   `env:"TOKENKEEPER_SEAL, default=false"`
	MasterKeyPath string `env:"TOKENKEEPER_MASTER_KEY_PATH"`

	ExchangeTimeout time.Duration `env:"TOKENKEEPER_EXCHANGE_TIMEOUT, default=30s"`
	GrantRate       float64       `env:"TOKENKEEPER_GRANT_RATE, default=2"`
	GrantBurst      int           `env:"TOKENKEEPER_GRANT_BURST, default=5"`
}

// Validate checks the process settings.
func (e Env) Validate() error {
	var errs []error
	switch e.Store {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("TOKENKEEPER_STORE must be sqlite or memory, got %q", e.Store))
	}
	if e.GrantRate < 0 {
		errs = append(errs, errors.New("TOKENKEEPER_GRANT_RATE must not be negative"))
	}
	if e.GrantRate > 0 && e.GrantBurst < 1 {
		errs = append(errs, errors.New("TOKENKEEPER_GRANT_BURST must be at least 1"))
	}
	if e.ExchangeTimeout <= 0 {
		errs = append(errs, errors.New("TOKENKEEPER_EXCHANGE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

var (
	ErrNoProject      = errors.New("no project selected")
	ErrUnknownProject = errors.New("unknown project")
)

// Config combines the config file with environment overrides. It is safe
// for concurrent use and implements authmgr.SettingsSource.
type Config struct {
	path string

	mu   sync.RWMutex
	env  Env
	file File
}

var _ authmgr.SettingsSource = (*Config)(nil)

// DefaultPath is where the config file lives unless overridden.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "tokenkeeper", "config.yaml"), nil
}

// Load reads the environment and then the config file. path wins over
// TOKENKEEPER_CONFIG, which wins over DefaultPath. A missing file is an
// empty configuration.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, nil) // load from OS environment
}

func load(ctx context.Context, path string, lookup envconfig.Lookuper) (*Config, error) {
	var env Env
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if path == "" {
		path = env.ConfigPath
	}
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	c := &Config{path: path, env: env}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the config file.
func (c *Config) Reload() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", c.path, err)
	}
	if f.Projects == nil {
		f.Projects = make(map[string]*Project)
	}

	c.mu.Lock()
	c.file = f
	c.mu.Unlock()
	return nil
}

// Path returns the config file location.
func (c *Config) Path() string { return c.path }

// Env returns the process settings.
func (c *Config) Env() Env {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.env
}

// DatabasePath is the SQLite file, next to the config file by default.
func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.env.DatabaseFile != "" {
		return c.env.DatabaseFile
	}
	return filepath.Join(filepath.Dir(c.path), "tokens.db")
}

// Current returns the name of the selected project. TOKENKEEPER_PROJECT
// overrides the file until Use is called.
func (c *Config) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current()
}

func (c *Config) current() string {
	if c.env.Project != "" {
		return c.env.Project
	}
	return c.file.CurrentProject
}

// Projects returns the configured project names, sorted.
func (c *Config) Projects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.file.Projects))
	for name := range c.file.Projects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Project returns a copy of the named project.
func (c *Config) Project(name string) (Project, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.file.Projects[name]
	if !ok || p == nil {
		return Project{}, fmt.Errorf("%w %q", ErrUnknownProject, name)
	}
	return *p, nil
}

// Settings implements authmgr.SettingsSource for the selected project.
func (c *Config) Settings() (authmgr.Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := c.current()
	if name == "" {
		return authmgr.Settings{}, ErrNoProject
	}
	p, ok := c.file.Projects[name]
	if !ok || p == nil {
		return authmgr.Settings{}, fmt.Errorf("%w %q", ErrUnknownProject, name)
	}

	s := authmgr.Settings{
		AuthURL:          p.AuthURL,
		APIURL:           p.APIURL,
		ProjectKey:       p.ProjectKey,
		ClientID:         p.ClientID,
		ClientSecret:     p.ClientSecret,
		Scope:            p.Scope,
		AnonymousSession: p.AnonymousSession,
		AnonymousID:      p.AnonymousID,
	}
	if s.ProjectKey == "" {
		s.ProjectKey = name
	}
	if c.env.ClientSecret != "" {
		s.ClientSecret = c.env.ClientSecret
	}
	return s, nil
}

// Use selects a project and writes the choice to the config file. It
// also drops a TOKENKEEPER_PROJECT override for the rest of the process.
func (c *Config) Use(name string) error {
	c.mu.Lock()
	if _, ok := c.file.Projects[name]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w %q", ErrUnknownProject, name)
	}
	prev, prevEnv := c.file.CurrentProject, c.env.Project
	c.file.CurrentProject = name
	c.env.Project = ""
	c.mu.Unlock()

	if err := c.Save(); err != nil {
		c.mu.Lock()
		c.file.CurrentProject, c.env.Project = prev, prevEnv
		c.mu.Unlock()
		return err
	}
	return nil
}

// SetProject adds or replaces a project and saves the file. The first
// project added becomes the current one.
func (c *Config) SetProject(name string, p Project) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("project name is required")
	}

	c.mu.Lock()
	c.file.Projects[name] = &p
	if c.file.CurrentProject == "" {
		c.file.CurrentProject = name
	}
	c.mu.Unlock()

	return c.Save()
}

// Save writes the config file atomically with owner-only permissions, as
// it may hold client secrets.
func (c *Config) Save() error {
	c.mu.RLock()
	data, err := yaml.Marshal(&c.file)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}
