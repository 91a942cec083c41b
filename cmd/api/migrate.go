package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables if they do not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.db.Close()

		if err := a.migrate(cmd.Context()); err != nil {
			return err
		}
		sugar.Infow("schema ensured", "driver", cfg.Database.Driver)
		return nil
	},
}
