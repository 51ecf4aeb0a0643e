package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veerananda/billgenie-sync/internal/domain"
)

const (
	OrderCreated       = "order_created"
	OrderUpdated       = "order_updated"
	OrderStatusChanged = "order_status_changed"
)

var (
	ErrNoSubscribers   = errors.New("no subscribers for event")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// Envelope is what travels over the push channel, whatever the transport.
type Envelope struct {
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt int64           `json:"occurred_at"`
	Source     string          `json:"source,omitempty"`
}

func NewEnvelope(event string, payload any, source string) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{
		Event:      event,
		Payload:    b,
		OccurredAt: time.Now().UnixMilli(),
		Source:     source,
	}, nil
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%v: %w", err, ErrInvalidEnvelope)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("no event name: %w", ErrInvalidEnvelope)
	}
	return env, nil
}

// Dispatcher is what transports feed decoded envelopes into.
type Dispatcher interface {
	Dispatch(ctx context.Context, env Envelope) error
}

// Retryable reports whether redelivering the same message could succeed.
// Undecodable or unroutable messages never will.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidEnvelope) &&
		!errors.Is(err, ErrNoSubscribers) &&
		!errors.Is(err, domain.ErrMalformedOrder)
}

type Handler func(ctx context.Context, payload json.RawMessage) error

// Publisher sends envelopes out over a push transport.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

// Bus fans envelopes out to handlers subscribed by event name. Dispatch runs
// handlers synchronously on the caller's goroutine, so arrival order is kept.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]Handler
	next uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]Handler)}
}

// Subscribe registers h for event and returns the matching unsubscribe func.
func (b *Bus) Subscribe(event string, h Handler) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	if b.subs[event] == nil {
		b.subs[event] = make(map[uint64]Handler)
	}
	b.subs[event][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[event], id)
		if len(b.subs[event]) == 0 {
			delete(b.subs, event)
		}
	}
}

func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Dispatch hands env to every subscriber of its event in subscription order.
// All handlers run; their errors are joined.
func (b *Bus) Dispatch(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	set := b.subs[env.Event]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%s: %w", env.Event, ErrNoSubscribers)
	}

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, env.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
