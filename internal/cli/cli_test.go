package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenkeeper/internal/app"
	"github.com/aussiebroadwan/tokenkeeper/internal/config"
	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk/authsdktest"
)

type harness struct {
	t          *testing.T
	configPath string
	stdin      string
}

// newHarness isolates the CLI from the user's config and environment.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TOKENKEEPER_CONFIG", "")
	t.Setenv("TOKENKEEPER_PROJECT", "")
	t.Setenv("TOKENKEEPER_CLIENT_SECRET", "")
	t.Setenv("TOKENKEEPER_STORE", "sqlite")
	t.Setenv("TOKENKEEPER_SEAL", "false")
	t.Setenv("TOKENKEEPER_DATABASE_FILE", filepath.Join(dir, "tokens.db"))
	return &harness{t: t, configPath: filepath.Join(dir, "config.yaml")}
}

func (h *harness) run(args ...string) (string, error) {
	return h.runContext(context.Background(), args...)
}

func (h *harness) runContext(ctx context.Context, args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(h.stdin))
	cmd.SetArgs(append([]string{"--config", h.configPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "authctl %s", strings.Join(args, " "))
	return out
}

func (h *harness) addProject(name, authURL string, extra ...string) {
	h.t.Helper()
	args := []string{"projects", "add", name,
		"--auth-url", authURL,
		"--client-id", "web",
		"--client-secret", "secret",
		"--scope", "read write",
	}
	h.mustRun(append(args, extra...)...)
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, app.BuildVersion+"\n", h.mustRun("version"))
}

func TestProjectsAddListUse(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "No projects configured\n", h.mustRun("projects"))

	h.addProject("dev", "https://auth.dev.example.com/")
	h.addProject("prod", "https://auth.example.com/", "--project-key", "shop", "--anonymous-session")

	out := h.mustRun("projects")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^\*\s+dev\s+dev\s+https://auth.dev.example.com/\s+no$`, lines[1])
	assert.Regexp(t, `^\s+prod\s+shop\s+https://auth.example.com/\s+yes$`, lines[2])

	assert.Equal(t, "Switched to project \"prod\"\n", h.mustRun("use", "prod"))
	out = h.mustRun("projects")
	assert.Regexp(t, `(?m)^\*\s+prod`, out)

	_, err := h.run("use", "staging")
	require.ErrorIs(t, err, config.ErrUnknownProject)
}

func TestProjectsAddRequiresFlags(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("projects", "add", "dev", "--auth-url", "https://auth.example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client-id")
}

func TestTokenPersistsAcrossInvocations(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t, authsdktest.WithClient("web", "secret"))
	h.addProject("dev", srv.URL)

	first := strings.TrimSpace(h.mustRun("token"))
	claims, err := srv.Verify(first)
	require.NoError(t, err)
	assert.Equal(t, "read write", claims.Scope)

	second := strings.TrimSpace(h.mustRun("token"))
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"client_credentials"}, srv.GrantTypes())

	out := h.mustRun("status")
	assert.Regexp(t, `Project:\s+dev`, out)
	assert.Regexp(t, `State:\s+plain`, out)
	assert.Regexp(t, `Refresh token:\s+no`, out)
	assert.Regexp(t, `Scope:\s+read write`, out)
	assert.Regexp(t, `Grant:\s+client_credentials`, out)
}

func TestTokenWithoutProject(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("token")
	require.ErrorIs(t, err, authmgr.ErrConfigurationInvalid)
	assert.Contains(t, err.Error(), "authctl projects")
}

func TestLoginLogout(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t,
		authsdktest.WithClient("web", "secret"),
		authsdktest.WithUser("alice", "wonderland"),
	)
	h.addProject("dev", srv.URL, "--anonymous-session")

	out := h.mustRun("login", "-u", "alice", "-p", "wonderland")
	assert.Contains(t, out, "Logged in as alice")

	out = h.mustRun("status")
	assert.Regexp(t, `State:\s+customer`, out)
	assert.Regexp(t, `Refresh token:\s+yes`, out)

	out = h.mustRun("logout")
	assert.Equal(t, "Logged out\nToken state: anonymous\n", out)
	assert.Equal(t, []string{"password", "anonymous_session"}, srv.GrantTypes())
}

func TestLoginPromptsForMissingCredentials(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t,
		authsdktest.WithClient("web", "secret"),
		authsdktest.WithUser("alice", "wonderland"),
	)
	h.addProject("dev", srv.URL)

	h.stdin = "alice\nwonderland\n"
	out := h.mustRun("login")
	assert.Contains(t, out, "Logged in as alice")

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].Form.Get("username"))
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t,
		authsdktest.WithClient("web", "secret"),
		authsdktest.WithUser("alice", "wonderland"),
	)
	h.addProject("dev", srv.URL)

	_, err := h.run("login", "-u", "alice", "-p", "looking-glass")
	require.ErrorIs(t, err, authmgr.ErrAuthRejected)
	assert.Contains(t, err.Error(), "invalid_grant")

	out := h.mustRun("status")
	assert.Regexp(t, `State:\s+none`, out)
}

func TestAnonymousSession(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t, authsdktest.WithClient("web", "secret"))
	h.addProject("dev", srv.URL)

	out := h.mustRun("anonymous", "--session", "--anonymous-id", "visitor-42")
	assert.Equal(t, "Token state: anonymous\n", out)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "dev", calls[0].ProjectKey)
	assert.Equal(t, "visitor-42", calls[0].Form.Get("anonymous_id"))

	out = h.mustRun("status")
	assert.Regexp(t, `Anonymous id:\s+visitor-42`, out)

	_, err := h.run("anonymous", "--anonymous-id", "visitor-43")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--session")
}

func TestStatusMetrics(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t, authsdktest.WithClient("web", "secret"))
	h.addProject("dev", srv.URL)
	h.mustRun("token")

	out := h.mustRun("status", "--metrics")
	assert.Contains(t, out, `tokenkeeper_token_state{state="plain"} 1`)
}

func TestGet(t *testing.T) {
	h := newHarness(t)
	srv := authsdktest.NewServer(t, authsdktest.WithClient("web", "secret"))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := srv.Verify(token); err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v1/products" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"products":[]}`))
	}))
	t.Cleanup(api.Close)

	h.addProject("dev", srv.URL, "--api-url", api.URL+"/v1")

	assert.Equal(t, `{"products":[]}`, h.mustRun("get", "/products"))

	_, err := h.run("get", "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestServeFake(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("serve-fake")
	require.Error(t, err)

	_, err = h.run("serve-fake", "--client", "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name:secret")

	// An ended context shuts the server down right after it starts.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := h.runContext(ctx, "serve-fake", "--addr", "127.0.0.1:0", "--client", "web:secret", "--user", "alice:wonderland")
	require.NoError(t, err)
	assert.Regexp(t, `^Fake auth server listening on http://127\.0\.0\.1:\d+/\n$`, out)
}

func TestResolveAPIPath(t *testing.T) {
	tests := []struct {
		name    string
		apiURL  string
		path    string
		want    string
		wantErr bool
	}{
		{"relative", "https://api.example.com", "products", "https://api.example.com/products", false},
		{"leading slash keeps base path", "https://api.example.com/v1", "/products", "https://api.example.com/v1/products", false},
		{"trailing slash", "https://api.example.com/v1/", "products?limit=5", "https://api.example.com/v1/products?limit=5", false},
		{"no api url", "", "products", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveAPIPath(tt.apiURL, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitPair(t *testing.T) {
	id, secret, err := splitPair("web:s3cr:et")
	require.NoError(t, err)
	assert.Equal(t, "web", id)
	assert.Equal(t, "s3cr:et", secret)

	for _, bad := range []string{"web", ":secret", "web:"} {
		_, _, err := splitPair(bad)
		assert.Error(t, err, bad)
	}
}
