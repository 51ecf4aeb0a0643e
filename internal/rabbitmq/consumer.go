package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/logger"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Consumer binds a queue to every push event and feeds deliveries to a
// dispatcher one at a time. A lost channel or connection is re-established
// with backoff.
type Consumer struct {
	client   *Client
	queue    string
	dispatch events.Dispatcher

	session func(ctx context.Context) (bool, error)
	delay   func(attempt int) time.Duration
}

func NewConsumer(c *Client, queue string, d events.Dispatcher) *Consumer {
	cons := &Consumer{client: c, queue: queue, dispatch: d, delay: reconnectDelay}
	cons.session = cons.consume
	return cons
}

// reconnectDelay doubles from reconnectBase per failed attempt up to reconnectMax.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase
	for i := 1; i < attempt && d < reconnectMax; i++ {
		d *= 2
	}
	if d > reconnectMax {
		d = reconnectMax
	}
	return d
}

func (c *Consumer) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", c.queue, err)
	}
	for _, ev := range []string{events.OrderCreated, events.OrderUpdated, events.OrderStatusChanged} {
		if err := ch.QueueBind(c.queue, ev, c.client.exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s/%s: %w", c.queue, ev, err)
		}
	}
	// one in flight keeps per-order ordering
	return ch.Qos(1, 0, false)
}

// Run consumes until ctx is cancelled. Broker failures are logged and
// retried; they never end Run.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			attempt = 0
		}
		attempt++
		wait := c.delay(attempt)
		logger.Warn("rabbitmq consumer interrupted, reconnecting", "queue", c.queue, "err", err, "attempt", attempt, "in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// consume runs one session on a fresh channel. It reports whether the
// session got as far as consuming.
func (c *Consumer) consume(ctx context.Context) (bool, error) {
	ch, err := c.client.channel()
	if err != nil {
		return false, err
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		return false, err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	logger.Info("rabbitmq consumer started", "queue", c.queue, "exchange", c.client.exchange)
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case e := <-closed:
			if e != nil {
				return true, fmt.Errorf("amqp channel closed: %d %s", e.Code, e.Reason)
			}
			return true, errors.New("amqp channel closed")
		case d, ok := <-msgs:
			if !ok {
				return true, errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	env, err := fromDelivery(d)
	if err == nil {
		err = c.dispatch.Dispatch(ctx, env)
	}

	switch settle(err, d.Redelivered) {
	case ack:
		logger.Debug("rabbitmq event applied", "event", env.Event, "tag", d.DeliveryTag)
		_ = d.Ack(false)
	case requeue:
		logger.Warn("rabbitmq event failed, requeue", "routing_key", d.RoutingKey, "err", err)
		_ = d.Nack(false, true)
	case drop:
		logger.Warn("rabbitmq event dropped", "routing_key", d.RoutingKey, "err", err)
		_ = d.Nack(false, false)
	}
}
