// Package poller runs the periodic sweeps that keep messages moving: the
// delayed-message pump and the pending-notification reconciliation.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/app"
	"notification-hub/shared/pkg/messaging"
)

// Func does one unit of work and reports how many items it handled.
type Func func(ctx context.Context) (int, error)

// Loop calls Run until ctx is done. A pass waits Interval before the next one
// and a failed pass backs off. With Drain set, a pass that handled items is
// followed immediately by the next.
type Loop struct {
	Name     string
	Interval time.Duration
	Run      Func
	Drain    bool
	Log      *zap.Logger

	backoff func(attempt int) time.Duration
}

func (l Loop) Start(ctx context.Context) error {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("loop", l.Name))
	backoff := l.backoff
	if backoff == nil {
		backoff = messaging.Backoff
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := l.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := backoff(attempt)
			attempt++
			log.Warn("pass failed", zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		attempt = 0
		if n > 0 {
			log.Info("pass handled items", zap.Int("count", n))
			if l.Drain {
				continue
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pumper moves due messages from a delay store onto the broker.
type Pumper interface {
	Pump(ctx context.Context, p messaging.Publisher, now time.Time, limit int) (int, error)
}

// PumpFunc publishes up to limit due delayed messages per pass.
func PumpFunc(delays Pumper, pub messaging.Publisher, limit int, now func() time.Time) Func {
	return func(ctx context.Context) (int, error) {
		return delays.Pump(ctx, pub, now(), limit)
	}
}

// Reconciler re-dispatches pending notifications the broker never received.
type Reconciler interface {
	ReconcilePending(ctx context.Context, before time.Time) (int, error)
}

var _ Reconciler = (*app.Service)(nil)

// ReconcileFunc sweeps notifications still pending grace after their due time.
func ReconcileFunc(r Reconciler, grace time.Duration, now func() time.Time) Func {
	return func(ctx context.Context) (int, error) {
		return r.ReconcilePending(ctx, now().Add(-grace))
	}
}
