// Package cmd defines and implements the CLI commands for the feedpoller
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/app"
	"github.com/JakeFAU/feedpoller/internal/config"
	"github.com/JakeFAU/feedpoller/internal/logging"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "feedpoller",
		Short: "A conditional poller for large RSS/Atom feed catalogs.",
		Long: `feedpoller polls every feed in a catalog with conditional GET requests
(If-Modified-Since / If-None-Match), follows redirects, records permanent
moves, and stores one artifact per feed for a downstream parser.`,
		SilenceUsage: true,

		// Loads configuration and installs the process logger before any
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if _, err := logging.Init(cfg.Logging.Development); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logging.L().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/feedpoller, $HOME/.feedpoller)")

	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logging.L().Fatal("command execution failed", zap.Error(err))
	}
}
