package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/tokenkeeper/internal/config"
)

var configOnly = map[string]string{needsAnnotation: needsConfig}

// use command
func newUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "use PROJECT",
		Short:       "Switch to a different project",
		Args:        cobra.ExactArgs(1),
		Annotations: configOnly,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			if err := cc.Config.Use(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to project %q\n", args[0])
			return nil
		}),
	}
}

func newProjectsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "projects",
		Short:       "List configured projects",
		Args:        cobra.NoArgs,
		Annotations: configOnly,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			names := cc.Config.Projects()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects configured")
				return nil
			}

			current := cc.Config.Current()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tNAME\tPROJECT KEY\tAUTH URL\tANONYMOUS SESSION")
			for _, name := range names {
				p, err := cc.Config.Project(name)
				if err != nil {
					return err
				}
				marker := " "
				if name == current {
					marker = "*"
				}
				key := p.ProjectKey
				if key == "" {
					key = name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					marker, name, key, p.AuthURL, yesNo(p.AnonymousSession))
			}
			return w.Flush()
		}),
	}

	cmd.AddCommand(newProjectsAddCommand())

	return cmd
}

func newProjectsAddCommand() *cobra.Command {
	var p config.Project

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add or replace a project",
		Long: `Add or replace a project. The first project added becomes the current one.

The client secret may be left out of the file and supplied through
TOKENKEEPER_CLIENT_SECRET instead.`,
		Args:        cobra.ExactArgs(1),
		Annotations: configOnly,
		RunE: withContext(func(cmd *cobra.Command, cc *CliContext, args []string) error {
			if err := cc.Config.SetProject(args[0], p); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %q added/updated\n", args[0])
			return nil
		}),
	}

	cmd.Flags().StringVar(&p.AuthURL, "auth-url", "", "Auth server base URL")
	cmd.Flags().StringVar(&p.APIURL, "api-url", "", "API base URL")
	cmd.Flags().StringVar(&p.ProjectKey, "project-key", "", "Project key (defaults to NAME)")
	cmd.Flags().StringVar(&p.ClientID, "client-id", "", "API client id")
	cmd.Flags().StringVar(&p.ClientSecret, "client-secret", "", "API client secret")
	cmd.Flags().StringVar(&p.Scope, "scope", "", "Space-delimited scopes to request")
	cmd.Flags().BoolVar(&p.AnonymousSession, "anonymous-session", false, "Use refreshable anonymous sessions")
	cmd.Flags().StringVar(&p.AnonymousID, "anonymous-id", "", "Anonymous id for the next anonymous session")
	_ = cmd.MarkFlagRequired("auth-url")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}
