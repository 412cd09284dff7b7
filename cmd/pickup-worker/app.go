package main

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupBox/config"
	"github.com/BearBump/PickupBox/internal/broker/kafka"
	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/services/notifier"
	"github.com/BearBump/PickupBox/internal/storage/memstore"
	"github.com/BearBump/PickupBox/internal/storage/pgstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type consumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (store notifier.Store, closeFn func(), err error)
	newConsumer func(cfg *config.Config, topic, group string) (c consumer, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (notifier.Store, func(), error) {
			if strings.EqualFold(cfg.PickupBox.Store, "memory") {
				return memstore.New().WithSeed(), nil, nil
			}
			st, err := pgstore.New(cfg.PostgresConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic, group string) (consumer, func()) {
			c := kafka.NewConsumer(cfg.KafkaBrokers(), topic, group)
			return c, func() { _ = c.Close() }
		},
	}
}

// workerStats counts handled records. It is shared with the HTTP server.
type workerStats struct {
	consumed  atomic.Int64
	failed    atomic.Int64
	lastError atomic.Value // string
	lastAt    atomic.Int64 // unix millis
}

type workerStatsSnapshot struct {
	Consumed   int64  `json:"consumed"`
	Failed     int64  `json:"failed"`
	LastError  string `json:"lastError,omitempty"`
	LastAtUnix int64  `json:"lastAtUnixMillis,omitempty"`
}

func (s *workerStats) Snapshot() workerStatsSnapshot {
	out := workerStatsSnapshot{
		Consumed:   s.consumed.Load(),
		Failed:     s.failed.Load(),
		LastAtUnix: s.lastAt.Load(),
	}
	if v, ok := s.lastError.Load().(string); ok {
		out.LastError = v
	}
	return out
}

func workerTopic(cfg *config.Config) string {
	if cfg.Kafka.StatusChangedTopicName != "" {
		return cfg.Kafka.StatusChangedTopicName
	}
	return messages.TopicRequestStatusChanged
}

func workerGroup(cfg *config.Config) string {
	if cfg.PickupBox.KafkaConsumerGroup != "" {
		return cfg.PickupBox.KafkaConsumerGroup
	}
	return "pickup-worker"
}

// RunPickupWorker consumes request status events and stores the resulting
// notifications until ctx is done or the consumer fails.
func RunPickupWorker(ctx context.Context, cfg *config.Config, f workerFactories, stats *workerStats) error {
	if stats == nil {
		stats = &workerStats{}
	}
	topic := workerTopic(cfg)
	group := workerGroup(cfg)

	store, closeStore, err := f.newStorage(cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	if closeStore != nil {
		defer closeStore()
	}

	c, closeConsumer := f.newConsumer(cfg, topic, group)
	if closeConsumer != nil {
		defer closeConsumer()
	}

	svc := notifier.New(store)
	log.Info().Str("topic", topic).Str("group", group).Msg("pickup-worker consuming")

	return c.Consume(ctx, func(key, value []byte) error {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		stats.lastAt.Store(time.Now().UnixMilli())
		if err := svc.HandleMessage(hctx, value); err != nil {
			stats.failed.Add(1)
			stats.lastError.Store(err.Error())
			log.Error().Err(err).Str("key", string(key)).Msg("handle status event")
			return err
		}
		stats.consumed.Add(1)
		return nil
	})
}
