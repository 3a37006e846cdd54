package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
)

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token for the current project",
		Long: `Print a valid access token for the current project.

The cached token is used while it is valid. Otherwise it is refreshed, or a
new anonymous or client-credentials token is requested.`,
		Args: cobra.NoArgs,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			token, err := cc.App.Manager().EnsureToken(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
}

func newLoginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as a customer",
		Long: `Exchange a customer's username and password for a customer session.

Any anonymous session is discarded first. Missing credentials are prompted for.`,
		Args: cobra.NoArgs,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			var err error
			if username == "" || password == "" {
				username, password, err = promptCredentials(cmd, username, password)
				if err != nil {
					return err
				}
			}

			manager := cc.App.Manager()
			if err := manager.Login(cmd.Context(), username, password); err != nil {
				return withHint(err)
			}
			rec, err := manager.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (token valid until %s)\n",
				username, rec.ValidUntil.Local().Format(timeLayout))
			return nil
		}),
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Customer username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Customer password (prompted if omitted)")

	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the current session and fall back to an anonymous token",
		Args:  cobra.NoArgs,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			manager := cc.App.Manager()
			if err := manager.Logout(cmd.Context()); err != nil {
				return err
			}

			// Queued behind the reacquisition, so this reports its result.
			state, err := manager.State(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Logged out")
			if state == authmgr.NoToken {
				fmt.Fprintln(out, "No replacement token could be obtained; run 'authctl token' to retry")
				return nil
			}
			fmt.Fprintf(out, "Token state: %s\n", state)
			return nil
		}),
	}
}

func newAnonymousCommand() *cobra.Command {
	var (
		session     bool
		anonymousID string
	)

	cmd := &cobra.Command{
		Use:   "anonymous",
		Short: "Drop the current credentials and obtain an anonymous token",
		Long: `Drop the current credentials and obtain an anonymous token.

With --session the token belongs to a refreshable anonymous session, which can
be tied to a caller-chosen --anonymous-id. Without it a plain
client-credentials token is requested. The choice lasts until the
configuration is reloaded.`,
		Args: cobra.NoArgs,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			if anonymousID != "" && !session {
				return errors.New("--anonymous-id requires --session")
			}

			manager := cc.App.Manager()
			if err := manager.ObtainAnonymous(cmd.Context(), session, anonymousID); err != nil {
				return withHint(err)
			}
			state, err := manager.State(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Token state: %s\n", state)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&session, "session", false, "Request a refreshable anonymous session")
	cmd.Flags().StringVar(&anonymousID, "anonymous-id", "", "Anonymous id to attach to the session")

	return cmd
}

// withHint adds a next step to errors the user can act on.
func withHint(err error) error {
	switch authmgr.KindOf(err) {
	case authmgr.AuthRejected:
		return fmt.Errorf("%w\nThe stored credentials were discarded; run 'authctl login' or 'authctl token' to start over", err)
	case authmgr.ConfigurationInvalid:
		return fmt.Errorf("%w\nCheck the current project with 'authctl projects'", err)
	default:
		return err
	}
}

// promptCredentials asks for whatever is missing. The password is read
// without echo when stdin is a terminal.
func promptCredentials(cmd *cobra.Command, username, password string) (string, string, error) {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.ErrOrStderr()

	if username == "" {
		fmt.Fprint(out, "Username: ")
		line, err := readLine(in)
		if err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
		username = line
	}

	if password == "" {
		fmt.Fprint(out, "Password: ")
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out) // newline after password input
			if err != nil {
				return "", "", fmt.Errorf("failed to read password: %w", err)
			}
			password = string(b)
		} else {
			line, err := readLine(in)
			if err != nil {
				return "", "", fmt.Errorf("failed to read password: %w", err)
			}
			password = line
		}
	}

	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}
	return username, password, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
