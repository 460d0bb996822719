package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ibrahimkeyboad/payflow/internal/adapter/storage"
	"github.com/ibrahimkeyboad/payflow/internal/core/config"
	"github.com/ibrahimkeyboad/payflow/internal/core/logging"
)

func migrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded schema migrations to DATABASE_URL.

Examples:
  payflow migrate
  payflow migrate --down`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required to migrate")
			}

			logger, err := logging.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return storage.Migrate(cfg.DatabaseURL, down, logger)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration instead of applying them")
	return cmd
}
