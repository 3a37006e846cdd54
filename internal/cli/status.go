package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/tokenkeeper/pkg/jwtx"
)

const timeLayout = time.RFC3339

func newStatusCommand() *cobra.Command {
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the token held for the current project",
		Long: `Show the token held for the current project without contacting the
auth server. Claims are decoded from the access token but not verified.`,
		Args: cobra.NoArgs,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			rec, err := cc.App.Manager().Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			project := cc.Config.Current()
			if project == "" {
				project = "(none)"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Project:\t%s\n", project)
			fmt.Fprintf(w, "State:\t%s\n", rec.State)
			if !rec.ValidUntil.IsZero() {
				fmt.Fprintf(w, "Valid until:\t%s\n", rec.ValidUntil.Local().Format(timeLayout))
			}
			fmt.Fprintf(w, "Refresh token:\t%s\n", yesNo(rec.HasRefreshToken()))

			if rec.AccessToken != "" {
				claims, err := jwtx.Inspect(rec.AccessToken)
				if err != nil {
					cc.Logger.Debug("could not decode access token", "error", err)
					fmt.Fprintf(w, "Token:\topaque\n")
				} else {
					fmt.Fprintf(w, "Subject:\t%s\n", claims.Subject)
					fmt.Fprintf(w, "Scope:\t%s\n", claims.Scope)
					if claims.Grant != "" {
						fmt.Fprintf(w, "Grant:\t%s\n", claims.Grant)
					}
					if claims.AnonymousID != "" {
						fmt.Fprintf(w, "Anonymous id:\t%s\n", claims.AnonymousID)
					}
					if claims.ExpiresAt != nil {
						fmt.Fprintf(w, "Expires at:\t%s\n", claims.ExpiresAt.Local().Format(timeLayout))
					}
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !showMetrics {
				return nil
			}
			families, err := cc.App.Registry().Gather()
			if err != nil {
				return fmt.Errorf("failed to gather metrics: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
					return err
				}
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Also print the token manager metrics")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Send an authorized GET request to the project's API",
		Long: `Send a GET request to PATH, resolved against the current project's api-url,
with the current access token as bearer credentials. The response body is
written to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			settings, err := cc.Config.Settings()
			if err != nil {
				return err
			}
			target, err := resolveAPIPath(settings.APIURL, args[0])
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := cc.App.HTTPClient(cmd.Context()).Do(req)
			if err != nil {
				return withHint(unwrapURLError(err))
			}
			defer resp.Body.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("GET %s: %s", target, resp.Status)
			}
			return nil
		}),
	}
}

func resolveAPIPath(apiURL, path string) (string, error) {
	if apiURL == "" {
		return "", errors.New("the current project has no api-url")
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api-url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// unwrapURLError strips the *url.Error the http client wraps token source
// failures in, which would otherwise repeat the request URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
