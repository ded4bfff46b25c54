package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"subburn/internal/config"
	"subburn/internal/ledger"
	"subburn/internal/logging"
)

// appContext lazily loads configuration and shared collaborators so that
// commands like "plans" never touch the filesystem.
type appContext struct {
	configPath *string

	cfg    *config.Config
	logger *slog.Logger
}

func newAppContext(configPath *string) *appContext {
	return &appContext{configPath: configPath}
}

func (a *appContext) ensure() (*config.Config, *slog.Logger, error) {
	if a.cfg != nil {
		return a.cfg, a.logger, nil
	}
	path := *a.configPath
	if path == "" {
		path = os.Getenv("SUBBURN_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, err
	}
	a.cfg = cfg
	a.logger = logger
	return cfg, logger, nil
}

// openLedger prepares directories and opens the usage ledger. The caller
// owns the returned store and must Close it.
func (a *appContext) openLedger() (*ledger.Store, *config.Config, *slog.Logger, error) {
	cfg, logger, err := a.ensure()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, nil, err
	}
	store, err := ledger.Open(ledger.Options{
		Dir:                 cfg.Paths.LedgerDir,
		FreeConversions:     cfg.Ledger.FreeConversions,
		ReferralBonusTokens: cfg.Ledger.ReferralBonusTokens,
		Logger:              logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return store, cfg, logger, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newAppContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "subburn",
		Short:         "Subtitle, enhance and upscale videos against a per-user usage ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newAccountCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newPlansCommand())

	return rootCmd
}
