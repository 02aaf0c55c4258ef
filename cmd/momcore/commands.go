package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/momcore/internal/auth"
	"github.com/nerrad567/momcore/internal/infrastructure/config"
)

// options carries command-line overrides into run.
type options struct {
	configPath string
	role       string // overrides session.role when set
	user       string // overrides session.user when set
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "momcore",
		Short: "Messaging-coordination core over a pub/sub broker",
		Long: `momcore runs one coordination session against an MQTT broker.

The role comes from session.role in the config file unless a subcommand
selects it. Environment variables MOMCORE_SECTION_KEY override file values.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configPathDefault(),
		"config file (env MOMCORE_CONFIG)")

	manager := &cobra.Command{
		Use:   "manager",
		Short: "Run the manager session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.role = config.RoleManager
			return run(cmd.Context(), *opts)
		},
	}

	user := &cobra.Command{
		Use:   "user",
		Short: "Run a user session, logging in when a name is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.role = config.RoleUser
			return run(cmd.Context(), *opts)
		},
	}
	user.Flags().StringVarP(&opts.user, "name", "n", "", "user name to log in as (default session.user)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "momcore %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	root.AddCommand(manager, user, versionCmd, newTokenCmd(opts))
	return root
}

// newTokenCmd mints an API bearer token from the configured secret.
func newTokenCmd(opts *options) *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the HTTP API",
		Long: `token signs an API token with security.jwt.secret.

Viewer tokens may read state and watch the event feed. Operator tokens may
also change the directory and drive the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set")
			}
			if ttl <= 0 {
				ttl = cfg.GetAccessTokenTTL()
			}

			token, err := auth.IssueToken(subject, auth.Scope(scope), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject, recorded in API logs")
	cmd.Flags().StringVar(&scope, "scope", string(auth.ScopeViewer), `"viewer" or "operator"`)
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	return cmd
}

// configPathDefault uses MOMCORE_CONFIG if set, otherwise the default path.
func configPathDefault() string {
	if path := os.Getenv("MOMCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
