package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/events"
)

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func dispatch(t *testing.T, bus *events.Bus, event string, v any) error {
	t.Helper()
	return bus.Dispatch(context.Background(), events.Envelope{Event: event, Payload: payload(t, v)})
}

func newProcessor(h *harness) (*EventProcessor, *events.Bus) {
	bus := events.NewBus()
	p := NewEventProcessor(h.svc)
	p.Subscribe(bus)
	return p, bus
}

func TestHandleCreated_InsertsOnceAndIgnoresDuplicates(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	r := dineIn("o1", h.nowMs(), remoteItem("a", "Tea", 1, domain.ItemPending, ""))

	require.NoError(t, dispatch(t, bus, events.OrderCreated, r))
	v := h.svc.Store().Version()

	dup := r
	dup.Items = []domain.RemoteItem{remoteItem("a", "Tea", 1, domain.ItemServed, "")}
	require.NoError(t, dispatch(t, bus, events.OrderCreated, dup))

	assert.Equal(t, v, h.svc.Store().Version())
	got, ok := h.svc.Get("o1")
	require.True(t, ok)
	assert.Equal(t, domain.ItemPending, got.Items[0].Status)
	assert.Len(t, h.cache.orders, 1)
}

func TestHandleCreated_MalformedIsReported(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)

	err := dispatch(t, bus, events.OrderCreated, dineIn("o1", h.nowMs()))
	assert.True(t, errors.Is(err, domain.ErrMalformedOrder))
	assert.Zero(t, h.svc.Store().Len())
}

func TestHandleStatusChanged_Idempotent(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	h.svc.Store().Upsert(mustTransform(dineIn("o1", h.nowMs(),
		remoteItem("a", "Tea", 1, domain.ItemPending, ""),
		remoteItem("b", "Tea", 1, domain.ItemPending, ""),
	)))
	ev := domain.StatusChange{OrderID: "o1", ItemID: "a", Status: "cooking"}

	require.NoError(t, dispatch(t, bus, events.OrderStatusChanged, ev))
	first := h.svc.List()
	v := h.svc.Store().Version()

	require.NoError(t, dispatch(t, bus, events.OrderStatusChanged, ev))
	assert.Equal(t, first, h.svc.List())
	assert.Equal(t, v, h.svc.Store().Version())
	assert.Equal(t, domain.ItemCooking, first[0].Items[0].Status)
	assert.Equal(t, domain.ItemPending, first[0].Items[1].Status)
}

func TestHandleStatusChanged_NeverRegresses(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	h.svc.Store().Upsert(mustTransform(dineIn("o1", h.nowMs(), remoteItem("a", "Tea", 1, domain.ItemReady, ""))))

	require.NoError(t, dispatch(t, bus, events.OrderStatusChanged, domain.StatusChange{OrderID: "o1", ItemID: "a", Status: "cooking"}))
	got, _ := h.svc.Get("o1")
	assert.Equal(t, domain.ItemReady, got.Items[0].Status)
}

func TestHandleStatusChanged_GroupEvent(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	h.svc.Store().Upsert(mustTransform(dineIn("o1", h.nowMs(),
		remoteItem("a", "Dosa", 1, domain.ItemPending, "m1"),
		remoteItem("b", "Dosa", 1, domain.ItemCooking, "m1"),
		remoteItem("c", "Dosa", 1, domain.ItemServed, "m1"),
		remoteItem("d", "Tea", 1, domain.ItemPending, "m2"),
	)))

	require.NoError(t, dispatch(t, bus, events.OrderStatusChanged, domain.StatusChange{OrderID: "o1", MenuID: "m1", Status: "ready"}))
	got, _ := h.svc.Get("o1")
	assert.Equal(t, domain.ItemReady, got.Items[0].Status)
	assert.Equal(t, domain.ItemReady, got.Items[1].Status)
	assert.Equal(t, domain.ItemServed, got.Items[2].Status)
	assert.Equal(t, domain.ItemPending, got.Items[3].Status)
}

func TestHandleStatusChanged_BadPayloads(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	h.svc.Store().Upsert(mustTransform(dineIn("o1", h.nowMs(), remoteItem("a", "Tea", 1, domain.ItemPending, ""))))

	err := dispatch(t, bus, events.OrderStatusChanged, domain.StatusChange{OrderID: "o1", ItemID: "a", Status: "burnt"})
	assert.True(t, errors.Is(err, domain.ErrMalformedOrder))

	err = dispatch(t, bus, events.OrderStatusChanged, domain.StatusChange{OrderID: "o1", Status: "ready"})
	assert.True(t, errors.Is(err, domain.ErrMalformedOrder))

	require.NoError(t, dispatch(t, bus, events.OrderStatusChanged, domain.StatusChange{OrderID: "o1", ItemID: "zz", Status: "ready"}),
		"unknown item is not an error")
}

func TestHandleStatusChanged_UnknownOrderReconciles(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	h.remote.orders = []domain.RemoteOrder{dineIn("o9", h.nowMs(), remoteItem("a", "Tea", 1, domain.ItemCooking, ""))}

	require.NoError(t, dispatch(t, bus, events.OrderStatusChanged, domain.StatusChange{OrderID: "o9", ItemID: "a", Status: "cooking"}))
	assert.Equal(t, 1, h.remote.lists)
	_, ok := h.svc.Get("o9")
	assert.True(t, ok)
}

func TestHandleUpdated_DiffsItemsWithoutOverwriting(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	created := h.nowMs()
	h.svc.Store().Upsert(mustTransform(dineIn("o1", created,
		remoteItem("a", "Tea", 1, domain.ItemReady, ""),
		remoteItem("b", "Idli", 2, domain.ItemPending, ""),
	)))

	upd := dineIn("o1", created,
		remoteItem("a", "Tea", 1, domain.ItemCooking, ""),
		remoteItem("b", "Idli", 2, domain.ItemCooking, ""),
		remoteItem("c", "Vada", 1, domain.ItemPending, ""),
	)
	upd.TotalAmount = 140
	require.NoError(t, dispatch(t, bus, events.OrderUpdated, upd))

	got, _ := h.svc.Get("o1")
	require.Len(t, got.Items, 3)
	assert.Equal(t, domain.ItemReady, got.Items[0].Status, "local ahead of payload is kept")
	assert.Equal(t, domain.ItemCooking, got.Items[1].Status)
	assert.Equal(t, "c", got.Items[2].ID)
	assert.Equal(t, 140.0, got.Total)
}

func TestHandleUpdated_CompletesSelfServiceOrder(t *testing.T) {
	h := newHarness(true)
	_, bus := newProcessor(h)
	r := selfServe("s1", 4, h.nowMs(), remoteItem("a", "Tea", 1, domain.ItemServed, ""))
	h.svc.Store().Upsert(mustTransform(r))

	r.Status = "completed"
	r.FinalAmount = f64p(88)
	r.CompletedAt = intp64(h.nowMs() - 30_000)
	require.NoError(t, dispatch(t, bus, events.OrderUpdated, r))

	got, _ := h.svc.Get("s1")
	assert.Equal(t, domain.OrderCompleted, got.Status)
	require.NotNil(t, got.FinalAmount)
	assert.Equal(t, 88.0, *got.FinalAmount)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, *r.CompletedAt+60_000, *got.ExpiresAt, "window runs from the server's completion time")
}

func TestHandleUpdated_UnknownOrderTriggersReconciliation(t *testing.T) {
	h := newHarness(false)
	_, bus := newProcessor(h)
	r := dineIn("o1", h.nowMs(), remoteItem("a", "Tea", 1, domain.ItemPending, ""))
	h.remote.orders = []domain.RemoteOrder{r}

	require.NoError(t, dispatch(t, bus, events.OrderUpdated, r))
	assert.Equal(t, 1, h.remote.lists)
	_, ok := h.svc.Get("o1")
	assert.True(t, ok)
}

func TestEventProcessor_Close(t *testing.T) {
	h := newHarness(false)
	p, bus := newProcessor(h)
	assert.Equal(t, 1, bus.Subscribers(events.OrderCreated))

	p.Close()
	assert.Zero(t, bus.Subscribers(events.OrderCreated))
	assert.Zero(t, bus.Subscribers(events.OrderUpdated))
	assert.Zero(t, bus.Subscribers(events.OrderStatusChanged))
}
