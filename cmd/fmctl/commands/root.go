// Package commands implements the fmctl CLI.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/filemanager/internal/config"
	"github.com/fruitsalade/filemanager/internal/credentials"
	"github.com/fruitsalade/filemanager/internal/logging"
)

// Global flags, overriding the environment when set.
type globalFlags struct {
	usersDir string
	siteDir  string
	backend  string
	logLevel string
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "fmctl",
		Short: "Manage file manager accounts",
		Long: `fmctl creates and checks file manager accounts against the configured
credential store. Configuration comes from the same environment variables
the server reads; flags override them.

Use "fmctl [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.usersDir, "users-dir", "", "credential directory (overrides USERS_DIR)")
	root.PersistentFlags().StringVar(&g.siteDir, "site-dir", "", "site base directory (overrides SITE_DIR)")
	root.PersistentFlags().StringVar(&g.backend, "backend", "", "credential backend: file or postgres (overrides CREDENTIAL_BACKEND)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newUserCmd(g))
	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// openStore loads configuration, applies flag overrides and opens the
// credential store.
func (g *globalFlags) openStore(ctx context.Context) (*credentials.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.usersDir != "" {
		cfg.UsersDir = g.usersDir
	}
	if g.siteDir != "" {
		cfg.SiteDir = g.siteDir
	}
	if g.backend != "" {
		cfg.CredentialBackend = g.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Init(logging.Config{
		Level:      g.logLevel,
		Format:     "console",
		OutputPath: "stderr",
	}); err != nil {
		return nil, err
	}
	return credentials.Open(ctx, cfg)
}
