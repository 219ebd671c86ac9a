package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/aisha-bot/aisha-backend/internal/messaging"
	"github.com/aisha-bot/aisha-backend/internal/repo"
	"github.com/aisha-bot/aisha-backend/internal/services"
)

func newReconcileCmd(a *app) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resend owed notifications once and print a report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, closeDB, err := a.openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			tg, err := messaging.NewTelegram(a.cfg.Telegram)
			if err != nil {
				return err
			}
			notifier := services.NewNotifierService(db, repo.JobShim{}, repo.UserShim{}, tg,
				services.NewMessages(a.cfg.Notifier.DefaultLocale))
			if batch <= 0 {
				batch = a.cfg.Notifier.ReconcileBatch
			}

			report, err := a.newReconciler(notifier, batch).Run(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "reconcile")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "jobs per run (default RECONCILE_BATCH)")
	return cmd
}
