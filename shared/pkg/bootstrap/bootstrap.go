// Package bootstrap builds the store and broker every process shares from
// configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notification-hub/shared/pkg/config"
	"notification-hub/shared/pkg/db"
	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
	"notification-hub/shared/pkg/store"
	"notification-hub/shared/pkg/store/memstore"
)

// Store is an opened unit-of-work factory and its cleanup.
type Store struct {
	Factory domain.UnitOfWorkFactory
	close   func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore connects to Postgres and migrates the schema, or returns an
// in-memory store when cfg.Store is memory.
func OpenStore(ctx context.Context, cfg config.Config, handler domain.EventHandler, log *zap.Logger) (*Store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return &Store{Factory: memstore.New(handler, log)}, nil
	}

	gdb, err := db.Open(ctx, cfg.DBDSN, log)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		Factory: store.NewFactory(gdb, handler, log),
		close:   func() error { return db.Close(gdb) },
	}, nil
}

// Broker bundles the publisher, the consumer and, for Kafka and SQS, the
// Redis delay store behind them.
type Broker struct {
	Publisher messaging.Publisher
	Consumer  messaging.Consumer
	Delays    *messaging.RedisDelayStore

	closers []func() error
}

// Close releases every client in reverse order of creation.
func (b *Broker) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenBroker connects to the configured broker. service names the consumer
// group so each process type consumes its own copy of a topic.
func OpenBroker(ctx context.Context, cfg config.Config, service string, log *zap.Logger) (*Broker, error) {
	b := &Broker{}
	switch cfg.Broker {
	case config.BrokerMemory:
		log.Warn("using in-memory broker, messages stay inside this process")
		mem := messaging.NewMemoryPublisher(log)
		b.Publisher, b.Consumer = mem, mem
		b.closers = append(b.closers, mem.Close)
		return b, nil

	case config.BrokerKafka, config.BrokerSQS:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		b.Delays = messaging.NewRedisDelayStore(rdb, "")

		if err := b.openClients(ctx, cfg, service, log); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}

func (b *Broker) openClients(ctx context.Context, cfg config.Config, service string, log *zap.Logger) error {
	if cfg.Broker == config.BrokerSQS {
		client, err := messaging.NewSQSClient(ctx, cfg.AWSEndpoint)
		if err != nil {
			return err
		}
		b.Publisher = messaging.NewSQSPublisher(client, cfg.SQSQueuePrefix, b.Delays, log)
		b.Consumer = messaging.NewSQSConsumer(client, cfg.SQSQueuePrefix, log)
		return nil
	}

	pub, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, b.Delays, log)
	if err != nil {
		return err
	}
	b.Publisher = pub
	b.closers = append(b.closers, pub.Close)

	cons, err := messaging.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID+"-"+service, log)
	if err != nil {
		return err
	}
	b.Consumer = cons
	b.closers = append(b.closers, cons.Close)
	return nil
}

// IgnoreCanceled treats a loop stopped by shutdown as a clean exit.
func IgnoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
