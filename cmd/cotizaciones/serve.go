package main

import (
	"context"
	"os"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	snapshothttp "github.com/goliatone/go-cotizaciones/adapters/http"
	"github.com/goliatone/go-cotizaciones/cmd/cotizaciones/config"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the snapshot HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			if port != "" {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := loggerFromContext(ctx)

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Errorf("close: %v", err)
		}
	}()

	handler, err := app.Handler()
	if err != nil {
		return err
	}
	srv := snapshothttp.NewApp(handler,
		recover.New(),
		logger.New(logger.Config{
			Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
			Output: os.Stderr,
		}),
	)

	go sweep(ctx, app, cleanupInterval, log)

	addr := cfg.Server.Addr()
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on http://%s", addr)
		log.Infof("snapshot API: http://%s%s", addr, cfg.Server.BasePath)
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	return srv.ShutdownWithTimeout(cfg.Server.ShutdownWait())
}
