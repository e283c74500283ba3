package main

import (
	"context"

	trackerbun "github.com/goliatone/go-cotizaciones/adapters/tracker/bun"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the snapshot tracker table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configFromContext(cmd.Context()).Database.DSN)
		},
	}
}

func runMigrate(ctx context.Context, dsn string) error {
	db, err := openDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := trackerbun.NewTracker(db).Migrate(ctx); err != nil {
		return err
	}
	loggerFromContext(ctx).Infof("tracker table ready (%s)", dsn)
	return nil
}
