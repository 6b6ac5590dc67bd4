package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/config"
	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/logger"
	"notification-hub/shared/pkg/worker"
)

func main() {
	cfg := config.MustLoad()
	log := logger.MustNew(cfg.Env, "inapp-service")
	logger.SetGlobal(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.RunService(ctx, cfg, domain.ChannelInApp, log); err != nil {
		log.Fatal("inapp-service stopped", zap.Error(err))
	}
	log.Info("inapp-service stopped")
}
