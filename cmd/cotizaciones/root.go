package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/goliatone/go-cotizaciones/cmd/cotizaciones/config"
	"github.com/spf13/cobra"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	configKey
)

func newRootCmd() *cobra.Command {
	var (
		verbose    bool
		configPath string
	)

	root := &cobra.Command{
		Use:          "cotizaciones",
		Short:        "Quotation snapshot service",
		Long:         "cotizaciones renders the #cotizacion-print element of quotation pages to JPEG downloads.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, levelFor(cfg.Log.Level, verbose))
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			cmd.SetContext(context.WithValue(ctx, loggerKey, logger))
			return nil
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("cotizaciones %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCleanupCmd())
	return root
}

func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}

func configFromContext(ctx context.Context) config.Config {
	if cfg, ok := ctx.Value(configKey).(config.Config); ok {
		return cfg
	}
	return config.Defaults()
}
