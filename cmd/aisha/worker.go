package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aisha-bot/aisha-backend/internal/events"
	httpapi "github.com/aisha-bot/aisha-backend/internal/http"
	"github.com/aisha-bot/aisha-backend/internal/http/handlers"
	"github.com/aisha-bot/aisha-backend/internal/messaging"
	"github.com/aisha-bot/aisha-backend/internal/repo"
	"github.com/aisha-bot/aisha-backend/internal/services"
	"github.com/aisha-bot/aisha-backend/internal/session"
)

type workerOptions struct {
	maxRetries     int
	reconcileEvery time.Duration
}

func newWorkerCmd(a *app) *cobra.Command {
	var opts workerOptions
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued job-status webhooks and reconcile owed notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.worker(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 3, "in-process retries before a message goes to the poison topic")
	cmd.Flags().DurationVar(&opts.reconcileEvery, "reconcile-every", time.Minute, "reconciliation interval (0 disables)")
	return cmd
}

func (a *app) worker(ctx context.Context, opts workerOptions) error {
	stopTracing, err := a.tracing(ctx, "worker")
	if err != nil {
		return err
	}
	defer stopTracing()

	db, closeDB, err := a.openDB()
	if err != nil {
		return err
	}
	defer closeDB()

	client, err := session.NewRedisClient(a.cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	tg, err := messaging.NewTelegram(a.cfg.Telegram)
	if err != nil {
		return err
	}
	notifier := services.NewNotifierService(db, repo.JobShim{}, repo.UserShim{}, tg,
		services.NewMessages(a.cfg.Notifier.DefaultLocale))

	topic := a.cfg.Events.JobStatusTopic
	group := a.cfg.Events.ConsumerGroup
	if err := events.EnsureGroupAtTail(ctx, client, topic, group); err != nil {
		return err
	}

	wlog := events.NewZerologAdapter(log.Logger)
	sub, err := events.NewRedisSubscriber(client, group, a.cfg.Events.Consumer, wlog)
	if err != nil {
		return err
	}
	pub, err := events.NewRedisPublisher(client, wlog)
	if err != nil {
		return err
	}
	defer closePublisher(pub)

	router, err := events.NewRouter(wlog, events.RouterOptions{
		MaxRetries:      opts.maxRetries,
		PoisonPublisher: pub,
		PoisonTopic:     topic + ".poison",
	})
	if err != nil {
		return err
	}
	router.AddNoPublisherHandler("job-status-notifier", topic, sub, events.JobStatusHandler(notifier, a.cfg.Notifier.Timeout))

	ops := gin.New()
	httpapi.RegisterOpsRoutes(ops, map[string]handlers.ReadinessCheck{
		"db":    dbCheck(db),
		"redis": redisCheck(client),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := router.Run(gctx); err != nil {
			return errors.Wrap(err, "event router")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return router.Close()
	})
	if opts.reconcileEvery > 0 {
		rec := a.newReconciler(notifier, a.cfg.Notifier.ReconcileBatch)
		g.Go(func() error {
			reconcileLoop(gctx, rec, opts.reconcileEvery)
			return nil
		})
	}
	serveHTTP(gctx, g, a.newServer(a.cfg.OpsPort, ops))
	return g.Wait()
}

// reconcileLoop runs rec every interval until ctx is done. Failed runs are
// logged and retried on the next tick.
func reconcileLoop(ctx context.Context, rec *services.Reconciler, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report, err := rec.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msg("reconcile run failed")
				continue
			}
			if report.Scanned > 0 {
				log.Info().
					Int("scanned", report.Scanned).
					Int("sent", report.Sent).
					Int("skipped", report.Skipped).
					Int("contended", report.Contended).
					Int("abandoned", report.Abandoned).
					Int("failed", report.Failed).
					Msg("reconcile run finished")
			}
		}
	}
}

func redisCheck(client redis.UniversalClient) handlers.ReadinessCheck {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// newReconciler applies the RECONCILE_* settings. Each job gets the same
// deadline as a webhook delivery.
func (a *app) newReconciler(n *services.NotifierService, batch int) *services.Reconciler {
	rec := services.NewReconciler(n, a.cfg.Notifier.ReconcileGrace, batch)
	rec.Lease = a.cfg.Notifier.ReconcileLease
	rec.MaxAttempts = a.cfg.Notifier.ReconcileMaxAttempts
	rec.Timeout = a.cfg.Notifier.Timeout
	return rec
}
