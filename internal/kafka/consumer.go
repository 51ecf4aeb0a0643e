package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/logger"
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
	// MaxAttempts bounds redelivery of a message whose handler keeps failing.
	MaxAttempts int
}

// Consumer feeds push events from a Kafka topic into a dispatcher, one message
// at a time, so events of one order are applied in arrival order.
type Consumer struct {
	r           *kafka.Reader
	dispatch    events.Dispatcher
	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(cfg ConsumerConfig, d events.Dispatcher) *Consumer {
	brokers := strings.Split(cfg.Brokers, ",")
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.LastOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka consumer configured", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)
	return &Consumer{
		r:           r,
		dispatch:    d,
		maxAttempts: cfg.MaxAttempts,
		backoff:     300 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.r.Close()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka fetch error", "err", err)
			sleep(ctx, c.backoff)
			continue
		}
		c.handle(ctx, m)

		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka commit failed", "err", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	env, err := fromMessage(m)
	if err != nil {
		logger.Warn("kafka invalid envelope. skip and commit", "offset", m.Offset, "err", err)
		return
	}

	for attempt := 1; ; attempt++ {
		err = c.dispatch.Dispatch(ctx, env)
		if err == nil {
			logger.Debug("kafka event applied", "event", env.Event, "partition", m.Partition, "offset", m.Offset)
			return
		}
		if !events.Retryable(err) || attempt >= c.maxAttempts || ctx.Err() != nil {
			logger.Warn("kafka event dropped", "event", env.Event, "offset", m.Offset, "attempts", attempt, "err", err)
			return
		}
		logger.Warn("kafka event failed, will retry", "event", env.Event, "attempt", attempt, "err", err)
		sleep(ctx, c.backoff)
	}
}

// fromMessage decodes the envelope. A bare payload with an "event" header is
// accepted too.
func fromMessage(m kafka.Message) (events.Envelope, error) {
	env, err := events.Decode(m.Value)
	if err == nil {
		return env, nil
	}
	if name := header(m, headerEvent); name != "" {
		return events.Envelope{Event: name, Payload: m.Value, OccurredAt: m.Time.UnixMilli()}, nil
	}
	return events.Envelope{}, err
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
