package main

import (
	"errors"
	"fmt"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/config"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the call store and audit tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			if cfg.UseMemoryStore() {
				return errors.New("migrate needs DB_HOST")
			}
			log := logger.New(cfg.App.Env)

			db, err := utils.OpenPostgres(cmd.Context(), "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
			if err != nil {
				return fmt.Errorf("postgres init: %w", err)
			}
			defer db.Close()

			if err := calls.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			if err := audit.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info("schema applied", "db", cfg.DB.Name)
			return nil
		},
	}
}
