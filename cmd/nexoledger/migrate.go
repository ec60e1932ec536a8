package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/config"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/persistence"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|status>",
		Short:     "Apply or roll back SQL migrations",
		Long:      "up applies all pending migrations, down rolls back the last one, status lists pending ones.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logger := observability.NewLoggerWithConfig("migrate", cfg.LogConfig())

			db, err := sql.Open("postgres", cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger)

			switch args[0] {
			case "up":
				if err := migrator.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
			case "down":
				if err := migrator.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
			case "status":
				pending, err := migrator.Pending(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, p := range pending {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				logger.Info().Int("pending", len(pending)).Msg("migration status")
			}
			return nil
		},
	}
}
