package main

import (
	"fmt"

	"stockpos/internal/config"
	"stockpos/internal/infra"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// bootDB loads config and opens the database connection.
func bootDB() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return cfg, db, nil
}

// stockctl migrate
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schema and drop legacy stock triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := bootDB()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Running migrations…")
		if err := infra.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date.")
		return nil
	},
}
