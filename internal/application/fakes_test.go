package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
)

var errOffline = errors.New("network unreachable")

type fakeRemote struct {
	mu       sync.Mutex
	orders   []domain.RemoteOrder
	listErr  error
	writeErr error

	lists      int
	itemCalls  []string
	groupCalls []string
	created    []string
	cancelled  []string
	completed  []string
}

func (f *fakeRemote) ListOrders(ctx context.Context) ([]domain.RemoteOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.RemoteOrder, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeRemote) UpdateOrderItemStatus(ctx context.Context, orderID, itemID string, status domain.ItemStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls = append(f.itemCalls, fmt.Sprintf("%s/%s=%s", orderID, itemID, status))
	return f.writeErr
}

func (f *fakeRemote) UpdateOrderItemsByGroupKey(ctx context.Context, orderID, groupKey string, status domain.ItemStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls = append(f.groupCalls, fmt.Sprintf("%s/%s=%s", orderID, groupKey, status))
	return f.writeErr
}

func (f *fakeRemote) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return f.writeErr
}

func (f *fakeRemote) CreateOrder(ctx context.Context, o domain.RemoteOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, o.ID)
	return f.writeErr
}

func (f *fakeRemote) CompleteOrder(ctx context.Context, orderID string, finalAmount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, orderID)
	return f.writeErr
}

func (f *fakeRemote) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

type memCache struct {
	mu      sync.Mutex
	orders  []domain.Order
	readErr error
	writes  int
}

func (c *memCache) ReadOrders(ctx context.Context) ([]domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	out := make([]domain.Order, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (c *memCache) WriteOrders(ctx context.Context, orders []domain.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.orders = make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		c.orders = append(c.orders, o.Clone())
	}
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc    *OrdersService
	remote *fakeRemote
	cache  *memCache
	pub    *recordingPublisher
	clock  *testClock
}

func newHarness(selfService bool) *harness {
	clk := &testClock{t: time.Date(2026, 10, 15, 12, 0, 0, 0, time.Local)}
	h := &harness{
		remote: &fakeRemote{},
		cache:  &memCache{},
		pub:    &recordingPublisher{},
		clock:  clk,
	}
	h.svc = NewOrdersService(orderstore.New(clk.Now), h.remote, h.cache, h.pub, Options{
		SelfService: selfService,
		ExpiryGrace: time.Minute,
		Source:      "test-pos",
		Now:         clk.Now,
	})
	return h
}

func (h *harness) nowMs() int64 { return h.clock.Now().UnixMilli() }

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }
func intp64(n int64) *int64 { return &n }
func f64p(f float64) *float64 {
	return &f
}

func remoteItem(id, name string, qty int, status domain.ItemStatus, menu string) domain.RemoteItem {
	return domain.RemoteItem{ID: id, Name: name, Quantity: qty, Price: 10, Status: string(status), MenuID: menu}
}

func dineIn(id string, created int64, items ...domain.RemoteItem) domain.RemoteOrder {
	return domain.RemoteOrder{
		ID:           id,
		TableID:      strp("T1"),
		CustomerName: "Table guest",
		CreatedAt:    created,
		TotalAmount:  100,
		Items:        items,
	}
}

func selfServe(id string, number int, created int64, items ...domain.RemoteItem) domain.RemoteOrder {
	return domain.RemoteOrder{
		ID:           id,
		CustomerName: "Self Service",
		CreatedAt:    created,
		TotalAmount:  100,
		OrderNumber:  intp(number),
		Items:        items,
	}
}

func mustTransform(r domain.RemoteOrder) domain.Order {
	o, err := domain.Transform(r)
	if err != nil {
		panic(err)
	}
	return o
}
