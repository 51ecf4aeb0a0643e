package rabbitmq

import (
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veerananda/billgenie-sync/internal/events"
)

const headerOrderKey = "order_key"

func toPublishing(key string, env events.Envelope) (amqp.Publishing, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.UnixMilli(env.OccurredAt).UTC(),
		AppId:        env.Source,
		Type:         env.Event,
		Headers:      amqp.Table{headerOrderKey: key},
		Body:         b,
	}, nil
}

// fromDelivery decodes the envelope. A bare payload is accepted when the
// routing key names the event.
func fromDelivery(d amqp.Delivery) (events.Envelope, error) {
	env, err := events.Decode(d.Body)
	if err == nil {
		return env, nil
	}
	if d.RoutingKey != "" && json.Valid(d.Body) {
		return events.Envelope{
			Event:      d.RoutingKey,
			Payload:    d.Body,
			OccurredAt: d.Timestamp.UnixMilli(),
			Source:     d.AppId,
		}, nil
	}
	return events.Envelope{}, err
}

type verdict int

const (
	ack verdict = iota
	requeue
	drop
)

// settle picks the acknowledgement for a handled delivery. A transient
// failure gets one redelivery.
func settle(err error, redelivered bool) verdict {
	switch {
	case err == nil:
		return ack
	case events.Retryable(err) && !redelivered:
		return requeue
	default:
		return drop
	}
}
