package main

import (
	"github.com/spf13/cobra"

	"payments-service/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if err := db.RunMigrations(cfg.Database.ConnString()); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
}
