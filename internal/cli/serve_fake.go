package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authsdk/authsdktest"
	"github.com/aussiebroadwan/tokenkeeper/pkg/httpx"
)

const shutdownGracePeriod = 5 * time.Second

func newServeFakeCommand() *cobra.Command {
	var (
		addr      string
		clients   []string
		users     []string
		accessTTL time.Duration
		rateLimit int
		burst     int
	)

	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run a local OAuth2 authorization server for development",
		Long: `Run an in-memory OAuth2 authorization server that implements the password,
client_credentials and refresh_token grants and anonymous sessions. Tokens
are signed with a key generated at startup and are lost on exit.`,
		Example: `  authctl serve-fake --client web:secret --user alice:wonderland
  authctl projects add local --auth-url http://127.0.0.1:8089/ --client-id web --client-secret secret --scope "read write"`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsAnnotation: needsNothing},
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			if len(clients) == 0 {
				return errors.New("at least one --client is required")
			}

			opts := []authsdktest.Option{
				authsdktest.WithLogger(cc.Logger.With("component", "fake-auth")),
				authsdktest.WithAccessTTL(accessTTL),
			}
			for _, pair := range clients {
				id, secret, err := splitPair(pair)
				if err != nil {
					return fmt.Errorf("--client: %w", err)
				}
				opts = append(opts, authsdktest.WithClient(id, secret))
			}
			for _, pair := range users {
				name, password, err := splitPair(pair)
				if err != nil {
					return fmt.Errorf("--user: %w", err)
				}
				opts = append(opts, authsdktest.WithUser(name, password))
			}
			if rateLimit > 0 {
				opts = append(opts, authsdktest.WithRateLimit(httpx.RateLimitConfig{
					RequestsPerWindow: rateLimit,
					Window:            time.Minute,
					Burst:             burst,
				}))
			}

			fake, err := authsdktest.New(opts...)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			server := &http.Server{
				Handler:           fake,
				ReadHeaderTimeout: 10 * time.Second,
			}

			return serve(cmd, cc, server, ln)
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "Listen address")
	cmd.Flags().StringArrayVar(&clients, "client", nil, "API client as id:secret (repeatable)")
	cmd.Flags().StringArrayVar(&users, "user", nil, "Customer as username:password (repeatable)")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", authsdktest.DefaultAccessTTL, "Access token lifetime")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Token requests per minute per client (0 disables)")
	cmd.Flags().IntVar(&burst, "burst", 5, "Rate limit burst")

	return cmd
}

// serve runs server on ln until the command context ends, then shuts it down
// gracefully.
func serve(cmd *cobra.Command, cc *CliContext, server *http.Server, ln net.Listener) error {
	baseURL := fmt.Sprintf("http://%s/", ln.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "Fake auth server listening on %s\n", baseURL)
	cc.Logger.Info("fake auth server starting", "addr", ln.Addr().String())

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
		cc.Logger.Info("shutting down fake auth server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		cc.Logger.Error("graceful server shutdown failed", "error", err)
		if err := server.Close(); err != nil {
			cc.Logger.Error("error closing server", "error", err)
		}
		return err
	}

	cc.Logger.Info("fake auth server stopped")
	return nil
}

func splitPair(pair string) (string, string, error) {
	left, right, ok := strings.Cut(pair, ":")
	if !ok || left == "" || right == "" {
		return "", "", fmt.Errorf("expected name:secret, got %q", pair)
	}
	return left, right, nil
}
