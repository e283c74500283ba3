package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

const cleanupInterval = time.Hour

func newCleanupCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove snapshots older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(ctx)
			if hours > 0 {
				cfg.Snapshot.RetentionHours = hours
			}
			logger := loggerFromContext(ctx)

			app, err := NewApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			deleted, err := app.Cleanup(ctx, time.Now())
			if err != nil {
				return err
			}
			logger.Infof("removed %d snapshots", deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "retention-hours", 0, "retention window in hours (overrides config)")
	return cmd
}

// sweep runs Cleanup now and then every interval until ctx is done.
func sweep(ctx context.Context, app *App, interval time.Duration, logger *log.Logger) {
	if app.Config.Snapshot.Retention() <= 0 {
		return
	}
	run := func() {
		deleted, err := app.Cleanup(ctx, time.Now())
		if err != nil {
			logger.Errorf("cleanup: %v", err)
			return
		}
		if deleted > 0 {
			logger.Infof("cleanup: removed %d snapshots", deleted)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
