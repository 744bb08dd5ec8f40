package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/subsync/internal/app"
	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/storage/postgres"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Store.Driver != config.StorePostgres {
				return fmt.Errorf("migrate requires store.driver=postgres, got %q", cfg.Store.Driver)
			}

			a, err := app.New(cmd.Context(), cfg,
				app.WithLogger(app.NewLogger(cfg.Log)),
				app.WithLedger(noLedger{}),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			return migrateStore(cmd.Context(), a)
		},
	}
}

func migrateStore(ctx context.Context, a *app.App) error {
	store, ok := a.Store.(*postgres.Storage)
	if !ok {
		a.Logger.Info().Str("store", a.Config.Store.Driver).Msg("store has no migrations")
		return nil
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	version, err := store.MigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	a.Logger.Info().Int64("version", version).Msg("migrations applied")
	return nil
}
