// Command grantctl queries grants, syncs sources and checks drafts from the
// terminal, using the same configuration as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/auth"
	"github.com/david/grant-desk/internal/backend"
	"github.com/david/grant-desk/internal/config"
	"github.com/david/grant-desk/internal/db"
	"github.com/david/grant-desk/internal/grants"
	"github.com/david/grant-desk/internal/logging"
)

// cli carries what every subcommand needs once the root command has loaded
// the configuration.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	app := &cli{v: config.New()}
	root := &cobra.Command{
		Use:           "grantctl",
		Short:         "Grant discovery and application tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return app.init()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if app.logger != nil {
				_ = app.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default: ./grantdesk.yaml or $HOME/.config/grantdesk/grantdesk.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "log format (console, json)")
	_ = app.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = app.v.BindPFlag("log_format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(grantsCmd(app))
	root.AddCommand(sourcesCmd(app))
	root.AddCommand(runsCmd(app))
	root.AddCommand(tokenCmd(app))
	root.AddCommand(analyzeCmd(app))
	return root
}

func (a *cli) init() error {
	cfg, err := config.Read(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// grantService builds the tiered grants service against the configured
// backend. It is the only part of the CLI that needs backend.base_url.
func (a *cli) grantService() (*grants.Service, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	creds, _ := auth.UpstreamCredentials(a.cfg.Backend)
	upstream, err := backend.New(backend.Config{BaseURL: a.cfg.Backend.BaseURL, Timeout: a.cfg.Backend.Timeout}, creds, a.logger)
	if err != nil {
		return nil, err
	}
	return grants.NewService(grants.Deps{
		Coordinator: grants.NewCoordinator(a.cfg.Backend, creds, a.logger),
		Upstream:    upstream,
		Logger:      a.logger,
	}), nil
}

func (a *cli) database(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.ApplyMigrations(ctx, pool, a.logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return pool, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
