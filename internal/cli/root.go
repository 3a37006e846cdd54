package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/tokenkeeper/internal/app"
	"github.com/aussiebroadwan/tokenkeeper/internal/config"
	"github.com/aussiebroadwan/tokenkeeper/pkg/slogx"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// needsAnnotation tells the root command how much setup a subcommand wants.
// Commands without it get the full application.
const needsAnnotation = "tokenkeeper/needs"

const (
	needsNothing = "nothing"
	needsConfig  = "config"
)

// CliContext holds what subcommands share.
type CliContext struct {
	Config *config.Config
	App    *app.Application
	Logger *slog.Logger
}

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	var (
		opts rootOptions
		cc   CliContext
	)

	rootCmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Obtain and manage OAuth tokens for API projects",
		Long:          `authctl keeps one bearer token per configured project, refreshing or re-acquiring it as needed.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // main.go prints the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			needs := cmd.Annotations[needsAnnotation]
			if needs == needsNothing {
				cc.Logger = opts.logger(cmd, config.Env{})
				cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &cc))
				return nil
			}

			cfg, err := config.Load(cmd.Context(), opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cc.Config = cfg
			cc.Logger = opts.logger(cmd, cfg.Env())
			cc.Logger.Debug("CLI started", "command", cmd.Name(), "config", cfg.Path())

			if needs != needsConfig {
				application, err := app.New(cfg, app.WithLogger(cc.Logger))
				if err != nil {
					return err
				}
				cc.App = application
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &cc))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return cc.close()
		},
	}

	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newLogoutCommand())
	rootCmd.AddCommand(newAnonymousCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newUseCommand())
	rootCmd.AddCommand(newProjectsCommand())
	rootCmd.AddCommand(newServeFakeCommand())
	rootCmd.AddCommand(newVersionCommand())

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Config file (default $TOKENKEEPER_CONFIG or the user config directory)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level (debug, info, warn, error); overrides TOKENKEEPER_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "",
		"Log format (text, json); overrides TOKENKEEPER_LOG_FORMAT")

	return rootCmd
}

// logger builds the process logger. Flags win over the environment.
func (o rootOptions) logger(cmd *cobra.Command, env config.Env) *slog.Logger {
	level, format := env.LogLevel, env.LogFormat
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	if level == "" {
		level = "warn"
	}
	if format == "" {
		format = "text"
	}

	return slogx.New(slogx.Config{
		Service: "authctl",
		Version: app.BuildVersion,
		Env:     env.Env,
		Level:   level,
		Format:  format,
		Output:  cmd.ErrOrStderr(),
	}).With("component", "cli")
}

// close releases the application. Safe to call more than once.
func (cc *CliContext) close() error {
	if cc.App == nil {
		return nil
	}
	application := cc.App
	cc.App = nil
	return application.Close()
}

// withContext adapts a command body to cobra's RunE. Cobra skips the post-run
// hooks when RunE fails, so the application is closed here on error.
func withContext(fn func(cmd *cobra.Command, cc *CliContext, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cc, ok := cmd.Context().Value(cliContextKey).(*CliContext)
		if !ok || cc == nil {
			return errors.New("command context not initialised")
		}
		if err := fn(cmd, cc, args); err != nil {
			_ = cc.close()
			return err
		}
		return nil
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsAnnotation: needsNothing},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), app.BuildVersion)
			return nil
		},
	}
}
