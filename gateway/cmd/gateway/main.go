package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-hub/gateway/internal/httpapi"
	"notification-hub/shared/pkg/app"
	"notification-hub/shared/pkg/bootstrap"
	"notification-hub/shared/pkg/config"
	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/logger"
	"notification-hub/shared/pkg/messaging"
	"notification-hub/shared/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.MustLoad()
	log := logger.MustNew(cfg.Env, "gateway")
	logger.SetGlobal(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("gateway stopped", zap.Error(err))
	}
	log.Info("gateway stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	st, err := bootstrap.OpenStore(ctx, cfg, app.EventLogger(log), log)
	if err != nil {
		return err
	}
	defer st.Close()

	broker, err := bootstrap.OpenBroker(ctx, cfg, "gateway", log)
	if err != nil {
		return err
	}
	defer broker.Close()

	router := messaging.DefaultRouter()
	svc := app.NewService(st.Factory, broker.Publisher, router,
		app.WithLogger(log),
		app.WithMaxRetries(cfg.MaxRetries),
	)

	// A memory broker only reaches consumers in this process, so the channel
	// workers run here too.
	var workers []*worker.Worker
	if cfg.Broker == config.BrokerMemory {
		senders := worker.StubRegistry(cfg.WorkerDeliveryDelay, log)
		for _, ch := range domain.Channels {
			w, err := worker.New(ch, router, senders, broker.Consumer, broker.Publisher, log)
			if err != nil {
				return err
			}
			workers = append(workers, w)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(svc, log)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return bootstrap.IgnoreCanceled(broker.Consumer.Consume(ctx, messaging.QueueStatus, svc.StatusHandler(broker.Publisher)))
	})
	for _, w := range workers {
		g.Go(func() error { return bootstrap.IgnoreCanceled(w.Run(ctx)) })
	}

	return g.Wait()
}
