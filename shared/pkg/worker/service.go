package worker

import (
	"context"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/bootstrap"
	"notification-hub/shared/pkg/config"
	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
)

// RunService connects to the configured broker and runs the worker for
// channel with the stub senders until ctx is done.
func RunService(ctx context.Context, cfg config.Config, channel domain.Channel, log *zap.Logger) error {
	broker, err := bootstrap.OpenBroker(ctx, cfg, channel.String()+"-service", log)
	if err != nil {
		return err
	}
	defer broker.Close()

	w, err := New(channel, messaging.DefaultRouter(), StubRegistry(cfg.WorkerDeliveryDelay, log), broker.Consumer, broker.Publisher, log)
	if err != nil {
		return err
	}
	return bootstrap.IgnoreCanceled(w.Run(ctx))
}
