package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-hub/outbox-poller/internal/poller"
	"notification-hub/shared/pkg/app"
	"notification-hub/shared/pkg/bootstrap"
	"notification-hub/shared/pkg/config"
	"notification-hub/shared/pkg/logger"
	"notification-hub/shared/pkg/messaging"
)

func main() {
	cfg := config.MustLoad()
	log := logger.MustNew(cfg.Env, "outbox-poller")
	logger.SetGlobal(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("outbox-poller stopped", zap.Error(err))
	}
	log.Info("outbox-poller stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	st, err := bootstrap.OpenStore(ctx, cfg, app.EventLogger(log), log)
	if err != nil {
		return err
	}
	defer st.Close()

	broker, err := bootstrap.OpenBroker(ctx, cfg, "outbox-poller", log)
	if err != nil {
		return err
	}
	defer broker.Close()

	svc := app.NewService(st.Factory, broker.Publisher, messaging.DefaultRouter(),
		app.WithLogger(log),
		app.WithMaxRetries(cfg.MaxRetries),
	)
	now := func() time.Time { return time.Now().UTC() }

	loops := []poller.Loop{{
		Name:     "reconcile",
		Interval: cfg.ReconcileInterval,
		Run:      poller.ReconcileFunc(svc, cfg.ReconcileGrace, now),
		Log:      log,
	}}
	if broker.Delays != nil {
		loops = append(loops, poller.Loop{
			Name:     "delay-pump",
			Interval: cfg.PumpInterval,
			Run:      poller.PumpFunc(broker.Delays, broker.Publisher, cfg.PumpBatch, now),
			Drain:    true,
			Log:      log,
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		log.Info("loop started", zap.String("loop", l.Name), zap.Duration("interval", l.Interval))
		g.Go(func() error { return bootstrap.IgnoreCanceled(l.Start(ctx)) })
	}
	return g.Wait()
}
