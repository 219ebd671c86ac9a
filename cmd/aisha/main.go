// Command aisha runs the Aisha Telegram bot backend.
//
// One binary, several processes:
//
//	aisha serve      HTTP API: provider webhook, session facade, job registration
//	aisha worker     consumes queued job-status webhooks and reconciles owed notifications
//	aisha bot        long-polls Telegram and drives the avatar conversation
//	aisha migrate    creates or updates the database schema
//	aisha reconcile  resends owed notifications once and exits
//
// Configuration comes from the environment; a .env file in the working
// directory is loaded first when present.
//
//	@title						Aisha API
//	@version					1.0
//	@description				Job-status webhooks, conversational sessions and job registration for the Aisha Telegram bot.
//	@BasePath					/
//	@securityDefinitions.apikey	WebhookSecret
//	@in							header
//	@name						X-Webhook-Secret
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(version).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("aisha exited with error")
		stop()
		os.Exit(1)
	}
}
