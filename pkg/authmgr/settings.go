package authmgr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Settings is the session configuration the manager reads on every operation.
type Settings struct {
	// AuthURL is the base URL of the auth server, e.g. https://auth.example.com/.
	AuthURL string
	// APIURL is the base URL of the resource API. The manager does not use
	// it; consumers building requests do.
	APIURL string

	ProjectKey   string
	ClientID     string
	ClientSecret string
	Scope        string

	// AnonymousSession selects refreshable anonymous sessions over plain
	// client-credentials tokens when no customer is logged in.
	AnonymousSession bool
	// AnonymousID is sent as anonymous_id with the next anonymous session grant.
	AnonymousID string
}

// Validate reports every missing or malformed field.
func (s Settings) Validate() error {
	var errs []error

	if s.AuthURL == "" {
		errs = append(errs, errors.New("auth url is required"))
	} else if u, err := url.Parse(s.AuthURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("auth url %q is not an absolute url", s.AuthURL))
	}
	if s.ProjectKey == "" {
		errs = append(errs, errors.New("project key is required"))
	}
	if s.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if s.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	if s.Scope == "" {
		errs = append(errs, errors.New("scope is required"))
	}

	return errors.Join(errs...)
}

// normalized returns s with AuthURL ending in a slash so endpoint paths can
// be appended directly.
func (s Settings) normalized() Settings {
	if s.AuthURL != "" && !strings.HasSuffix(s.AuthURL, "/") {
		s.AuthURL += "/"
	}
	return s
}

// SettingsSource supplies the current Settings. It is consulted at the start
// of every manager operation.
type SettingsSource interface {
	Settings() (Settings, error)
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings Settings

// Settings implements SettingsSource.
func (s StaticSettings) Settings() (Settings, error) {
	return Settings(s), nil
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() (Settings, error)

// Settings implements SettingsSource.
func (f SettingsFunc) Settings() (Settings, error) {
	return f()
}
