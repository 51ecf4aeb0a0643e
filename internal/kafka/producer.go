package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/veerananda/billgenie-sync/internal/events"
)

const headerEvent = "event"

type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokersSTR, topic string) *Producer {
	brokers := strings.Split(brokersSTR, ",")

	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// Publish writes env keyed by order id so one order's events share a partition.
func (p *Producer) Publish(ctx context.Context, key string, env events.Envelope) error {
	m, err := toMessage(key, env)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}

func toMessage(key string, env events.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: headerEvent, Value: []byte(env.Event)},
		},
	}, nil
}
