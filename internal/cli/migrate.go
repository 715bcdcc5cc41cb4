package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/refset/supportqueue/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.DatabaseURL == "" {
			return errors.New("store.database_url (or DATABASE_URL) is required")
		}
		s, err := postgres.Open(cmd.Context(), cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	},
}
