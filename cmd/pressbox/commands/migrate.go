package commands

import (
	"github.com/spf13/cobra"

	"github.com/gridironlabs/pressbox/db"
	"github.com/gridironlabs/pressbox/errors"
	"github.com/gridironlabs/pressbox/logger"
)

// MigrateCmd applies pending database migrations
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Named("migrate")

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		conn, err := db.Open(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(conn, log); err != nil {
			return errors.Wrap(err, "migrations failed")
		}
		return nil
	},
}
