package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/logger"
)

const exchangeKind = "topic"

// Client holds one connection with a publishing channel in confirm mode.
// A closed connection is re-dialled on next use.
type Client struct {
	url      string
	exchange string

	mu   sync.Mutex // guards conn and ch; confirms are matched in publish order
	conn *amqp.Connection
	ch   *amqp.Channel
	acks <-chan amqp.Confirmation
}

func Dial(url, exchange string) (*Client, error) {
	c := &Client{url: url, exchange: exchange}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials and prepares the publishing channel. Callers hold mu or own c.
func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.acks = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

func (c *Client) ensureLocked() error {
	if c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed() {
		return nil
	}
	c.closeLocked()
	if err := c.connect(); err != nil {
		return err
	}
	logger.Info("rabbitmq reconnected", "exchange", c.exchange)
	return nil
}

// channel opens a fresh channel for a consumer, reconnecting first if needed.
func (c *Client) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("consume channel: %w", err)
	}
	return ch, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Publish sends env with its event name as routing key and waits for the
// broker to confirm it.
func (c *Client) Publish(ctx context.Context, key string, env events.Envelope) error {
	msg, err := toPublishing(key, env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	if err := c.ch.PublishWithContext(ctx, c.exchange, env.Event, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	select {
	case conf := <-c.acks:
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}
