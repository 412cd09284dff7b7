package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one record. An error that survives the retries stops
// consumption without committing, so the record is redelivered after restart.
type Handler func(key, value []byte) error

type Consumer struct {
	r messageReader

	attempts int
	backoff  time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxWait:           500 * time.Millisecond,
		StartOffset:       kafka.FirstOffset,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, attempts: 3, backoff: 200 * time.Millisecond}
}

// WithRetry sets how many times a failing record is handled before Consume
// gives up, and the pause between tries (doubled each time).
func (c *Consumer) WithRetry(attempts int, backoff time.Duration) *Consumer {
	if attempts > 0 {
		c.attempts = attempts
	}
	if backoff >= 0 {
		c.backoff = backoff
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done, a fetch fails or a record keeps failing.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler Handler) error {
	wait := c.backoff
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = handler(msg.Key, msg.Value); err == nil {
			return nil
		}
		log.Warn().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Int("attempt", attempt).
			Msg("kafka handler failed")
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return errors.Wrapf(err, "handle message at offset %d", msg.Offset)
}
