package main

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aisha-bot/aisha-backend/internal/config"
	"github.com/aisha-bot/aisha-backend/internal/events"
	httpapi "github.com/aisha-bot/aisha-backend/internal/http"
	"github.com/aisha-bot/aisha-backend/internal/http/handlers"
	"github.com/aisha-bot/aisha-backend/internal/messaging"
	"github.com/aisha-bot/aisha-backend/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (webhook, sessions, jobs, probes)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	stopTracing, err := a.tracing(ctx, "serve")
	if err != nil {
		return err
	}
	defer stopTracing()

	db, closeDB, err := a.openDB()
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := session.NewRedisStoreFromConfig(a.cfg.Redis, a.cfg.Session)
	if err != nil {
		return errors.Wrap(err, "session store")
	}
	defer store.Close()

	deps := httpapi.Deps{
		DB:       db,
		Sessions: store,
		Checks: map[string]handlers.ReadinessCheck{
			"db":    dbCheck(db),
			"redis": store.Ping,
		},
	}

	switch a.cfg.Events.Mode {
	case config.EventsModeStream:
		pub, err := events.NewRedisPublisher(store.Client(), events.NewZerologAdapter(log.Logger))
		if err != nil {
			return err
		}
		defer closePublisher(pub)
		deps.Queue = &events.JobStatusQueue{Publisher: pub, Topic: a.cfg.Events.JobStatusTopic}
		log.Info().Str("topic", a.cfg.Events.JobStatusTopic).Msg("webhooks are queued for workers")
	default:
		tg, err := messaging.NewTelegram(a.cfg.Telegram)
		if err != nil {
			return err
		}
		deps.Messenger = tg
		log.Info().Msg("webhooks are delivered inline")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, a.cfg)

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, a.newServer(a.cfg.Port, r))
	return g.Wait()
}

func closePublisher(pub message.Publisher) {
	if err := pub.Close(); err != nil {
		log.Warn().Err(err).Msg("close publisher")
	}
}
