package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedpoller/internal/api"
	"github.com/JakeFAU/feedpoller/internal/logging"
)

// newPollCmd creates the 'poll' subcommand, which performs exactly one run.
func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Poll every feed once",
		Long: `Lists the configured feeds, fetches each one conditionally with bounded
concurrency, and writes one artifact per feed. SIGINT or SIGTERM stops
dispatching new feeds and lets in-flight fetches finish.`,
		Args: cobra.NoArgs,
		RunE: runPollCommand,
	}
}

func runPollCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	logger := logging.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logBanner(logger, cfg.Poller.UserAgent)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		srv := api.NewServer(a.Runs, logger.Named("api"))
		logger.Info("starting metrics server", zap.String("addr", cfg.Metrics.Addr))
		go func() {
			done <- srv.ListenAndServe(srvCtx, cfg.Metrics.Addr)
		}()
		defer func() {
			cancel()
			if err := <-done; err != nil {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
	}

	summary, err := a.Run(ctx)
	if err != nil {
		return err
	}
	if summary.Skipped > 0 {
		logger.Warn("run interrupted before every feed was dispatched", zap.Int("skipped", summary.Skipped))
	}
	return nil
}

// logBanner logs the user agent underlined with dashes.
func logBanner(logger *zap.Logger, userAgent string) {
	logger.Info(userAgent)
	logger.Info(strings.Repeat("-", len(userAgent)))
}
