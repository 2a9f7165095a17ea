package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rohmanhakim/site-archiver/internal/config"
	"github.com/rohmanhakim/site-archiver/internal/scheduler"
	"github.com/rohmanhakim/site-archiver/pkg/fileutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl a site and write the archive to disk.",
	Example: `  site-archiver crawl --url https://example.com --max-pages 20 --output site.zip
  site-archiver crawl --config-file site-archiver.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := InitConfigWithError()
		if err != nil {
			return err
		}
		root, ok := cfg.StartURL()
		if !ok {
			return fmt.Errorf("%w: --url is required (or startUrl in the config file)", config.ErrInvalidConfig)
		}

		logger, err := newLogger()
		if err != nil {
			return fmt.Errorf("could not create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runCrawl(ctx, cmd, cfg, root.String(), logger)
	},
}

func init() {
	crawlCmd.Flags().StringVar(&startURL, "url", "", "start page of the site to archive")
	crawlCmd.Flags().StringVar(&outputPath, "output", "", "path of the zip archive to write")
}

func runCrawl(ctx context.Context, cmd *cobra.Command, cfg config.Config, root string, logger *zap.Logger) error {
	s := scheduler.NewScheduler(cfg, logger, prometheus.NewRegistry())

	logger.Info("crawl started",
		zap.String("url", root),
		zap.Int("max_pages", cfg.MaxPages()),
	)
	execution, err := s.Crawl(ctx, root, cfg.MaxPages())
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
		return err
	}

	for _, w := range execution.Warnings() {
		logger.Warn("crawl warning",
			zap.String("kind", string(w.Kind)),
			zap.String("page", w.PageURL),
			zap.String("reference", w.Reference),
			zap.String("message", w.Message),
		)
	}

	if writeErr := fileutil.WriteFile(cfg.OutputPath(), execution.Archive()); writeErr != nil {
		logger.Error("could not write archive", zap.String("path", cfg.OutputPath()), zap.Error(writeErr))
		return writeErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Archived %d pages and %d assets to %s (%d warnings)\n",
		execution.PagesArchived(),
		execution.AssetsArchived(),
		cfg.OutputPath(),
		len(execution.Warnings()),
	)
	return nil
}
