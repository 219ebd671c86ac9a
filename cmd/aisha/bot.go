package main

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aisha-bot/aisha-backend/internal/bot"
	"github.com/aisha-bot/aisha-backend/internal/config"
	"github.com/aisha-bot/aisha-backend/internal/events"
	httpapi "github.com/aisha-bot/aisha-backend/internal/http"
	"github.com/aisha-bot/aisha-backend/internal/http/handlers"
	"github.com/aisha-bot/aisha-backend/internal/repo"
	"github.com/aisha-bot/aisha-backend/internal/services"
	"github.com/aisha-bot/aisha-backend/internal/session"
)

func newBotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Long-poll Telegram and run the avatar conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.bot(cmd.Context())
		},
	}
}

func (a *app) bot(ctx context.Context) error {
	stopTracing, err := a.tracing(ctx, "bot")
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

	pub, err := a.avatarPublisher(ctx, store)
	if err != nil {
		return err
	}
	defer closePublisher(pub)

	b, err := bot.NewBot(a.cfg.Telegram)
	if err != nil {
		return errors.Wrap(err, "telegram bot")
	}
	botID := a.cfg.Telegram.BotID
	if botID == 0 && b.Me != nil {
		botID = b.Me.ID
	}

	flow := bot.NewFlow(botID, store,
		services.NewUserService(db, repo.UserShim{}),
		&events.AvatarPublisher{Publisher: pub, Topic: a.cfg.Events.AvatarTopic},
	)
	bot.Register(b, flow)

	ops := gin.New()
	httpapi.RegisterOpsRoutes(ops, map[string]handlers.ReadinessCheck{
		"db":    dbCheck(db),
		"redis": store.Ping,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int64("bot_id", botID).Msg("telegram poller started")
		b.Start()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		b.Stop()
		log.Info().Msg("telegram poller stopped")
		return nil
	})
	serveHTTP(gctx, g, a.newServer(a.cfg.OpsPort, ops))
	return g.Wait()
}

// avatarPublisher publishes to the Redis stream in stream mode. In inline
// mode no submitter consumes the stream, so requests go to an in-process
// channel and are only logged.
func (a *app) avatarPublisher(ctx context.Context, store *session.RedisStore) (message.Publisher, error) {
	wlog := events.NewZerologAdapter(log.Logger)
	if a.cfg.Events.Mode == config.EventsModeStream {
		return events.NewRedisPublisher(store.Client(), wlog)
	}

	ch := events.NewInMemory(wlog)
	msgs, err := ch.Subscribe(ctx, a.cfg.Events.AvatarTopic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe avatar topic")
	}
	go func() {
		for msg := range msgs {
			log.Warn().
				Str("topic", a.cfg.Events.AvatarTopic).
				Str("message_id", msg.UUID).
				RawJSON("payload", msg.Payload).
				Msg("avatar request not forwarded: events mode is inline")
			msg.Ack()
		}
	}()
	return ch, nil
}
