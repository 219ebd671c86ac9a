package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aisha-bot/aisha-backend/internal/repo"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(*cobra.Command, []string) error {
			db, closeDB, err := a.openDB()
			if err != nil {
				return err
			}
			defer closeDB()
			if err := repo.AutoMigrate(db); err != nil {
				return errors.Wrap(err, "migrate")
			}
			log.Info().Str("driver", a.cfg.DB.Driver).Msg("schema up to date")
			return nil
		},
	}
}
