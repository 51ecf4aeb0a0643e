package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/logger"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
)

var ErrInvalidOrder = errors.New("invalid order")

type Options struct {
	// SelfService narrows the working set to orders created today.
	SelfService bool
	// ExpiryGrace is how long a completed self-service order stays visible.
	ExpiryGrace time.Duration
	// MinFetchInterval throttles non-forced reconciliation requests.
	MinFetchInterval time.Duration
	// MaxRetryAttempts bounds replays of unconfirmed mutations.
	MaxRetryAttempts int
	// Source tags events published by this device.
	Source string
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.ExpiryGrace <= 0 {
		o.ExpiryGrace = 2 * time.Minute
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 5
	}
	if o.Source == "" {
		o.Source = "pos-" + uuid.NewString()[:8]
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type OrdersService struct {
	store  *orderstore.Store
	remote RemoteService
	cache  LocalCache
	pub    events.Publisher
	opts   Options

	fetches singleflight.Group
}

// NewOrdersService wires the sync core. cache and pub may be nil.
func NewOrdersService(store *orderstore.Store, remote RemoteService, cache LocalCache, pub events.Publisher, opts Options) *OrdersService {
	opts.setDefaults()
	return &OrdersService{
		store:  store,
		remote: remote,
		cache:  cache,
		pub:    pub,
		opts:   opts,
	}
}

func (s *OrdersService) Store() *orderstore.Store { return s.store }

func (s *OrdersService) now() time.Time { return s.opts.Now() }

func (s *OrdersService) List() []domain.Order {
	return s.store.List()
}

func (s *OrdersService) Get(id string) (domain.Order, bool) {
	return s.store.Get(id)
}

func (s *OrdersService) Pending() []orderstore.Mutation {
	return s.store.Pending()
}

func (s *OrdersService) KitchenView() KitchenView {
	return BuildKitchenView(s.store.List())
}

// RestoreCache seeds the store from the local cache so views work before the
// first fetch completes.
func (s *OrdersService) RestoreCache(ctx context.Context) int {
	if s.cache == nil {
		return 0
	}
	orders, err := s.cache.ReadOrders(ctx)
	if err != nil {
		logger.Warn("restore cache failed; starting empty", "err", err)
		return 0
	}
	now := s.now()
	n := 0
	for _, o := range orders {
		if s.opts.SelfService && !o.CreatedOn(now) {
			continue
		}
		s.store.Upsert(o)
		n++
	}
	logger.Info("cache restored", "orders", n)
	return n
}

// WriteResult describes an optimistic local write and whether the remote
// service has acknowledged it.
type WriteResult struct {
	OrderID    string            `json:"order_id"`
	Changed    []string          `json:"changed,omitempty"`
	Target     domain.ItemStatus `json:"target,omitempty"`
	MutationID uuid.UUID         `json:"mutation_id,omitempty"`
	Confirmed  bool              `json:"confirmed"`
	Error      string            `json:"error,omitempty"`
}

// RequestItemTransition advances one item, or its whole menu group when
// groupKey is set, to the next status.
func (s *OrdersService) RequestItemTransition(ctx context.Context, orderID, itemID, groupKey string) (WriteResult, error) {
	return s.transition(ctx, orderID, domain.ItemSelector{ItemID: itemID, GroupKey: groupKey})
}

// AdvanceGroup advances every item of a menu group sitting at from. An empty
// from picks the least advanced status present in the group.
func (s *OrdersService) AdvanceGroup(ctx context.Context, orderID, groupKey string, from domain.ItemStatus) (WriteResult, error) {
	if groupKey == "" {
		return WriteResult{}, domain.ErrEmptySelector
	}
	return s.transition(ctx, orderID, domain.ItemSelector{GroupKey: groupKey, From: from})
}

func (s *OrdersService) transition(ctx context.Context, orderID string, sel domain.ItemSelector) (WriteResult, error) {
	res := WriteResult{OrderID: orderID}

	changed, err := s.store.MutateItem(orderID, sel, "")
	if err != nil {
		return res, err
	}
	if len(changed) == 0 {
		res.Confirmed = true
		return res, nil
	}
	res.Changed = changed

	o, _ := s.store.Get(orderID)
	it, _ := o.Item(changed[0])
	res.Target = it.Status

	m := s.store.Track(orderstore.Mutation{
		Kind:     orderstore.KindItemStatus,
		OrderID:  orderID,
		ItemIDs:  changed,
		GroupKey: sel.GroupKey,
		Target:   res.Target,
	})
	res.MutationID = m.ID
	s.persist(ctx)

	err = s.pushItemStatus(ctx, o, sel.GroupKey, changed, res.Target)
	s.settle(m, err, &res)
	if err != nil {
		logger.Warn("remote item update failed; keeping local state",
			"order", orderID, "selector", sel.String(), "target", res.Target, "err", err)
		return res, nil
	}

	for _, id := range changed {
		s.publish(ctx, events.OrderStatusChanged, orderID, domain.StatusChange{
			OrderID: orderID,
			ItemID:  id,
			Status:  string(res.Target),
		})
	}
	return res, nil
}

// pushItemStatus uses the group endpoint only when the whole group moved;
// otherwise the server would drag along portions the kitchen left behind.
func (s *OrdersService) pushItemStatus(ctx context.Context, o domain.Order, groupKey string, changed []string, target domain.ItemStatus) error {
	if groupKey != "" && wholeGroup(o, groupKey, changed) {
		return s.remote.UpdateOrderItemsByGroupKey(ctx, o.ID, groupKey, target)
	}
	for _, id := range changed {
		if err := s.remote.UpdateOrderItemStatus(ctx, o.ID, id, target); err != nil {
			return err
		}
	}
	return nil
}

func wholeGroup(o domain.Order, groupKey string, changed []string) bool {
	set := make(map[string]bool, len(changed))
	for _, id := range changed {
		set[id] = true
	}
	for _, it := range o.Items {
		if it.MenuID == groupKey && !set[it.ID] {
			return false
		}
	}
	return true
}

type DraftItem struct {
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Vegetarian bool    `json:"vegetarian"`
	MenuID     string  `json:"menu_id,omitempty"`
}

type OrderDraft struct {
	TableRef      *string     `json:"table_ref,omitempty"`
	CustomerLabel string      `json:"customer_label"`
	SelfService   bool        `json:"self_service"`
	Items         []DraftItem `json:"items"`
}

func (d OrderDraft) validate() error {
	if len(d.Items) == 0 {
		return fmt.Errorf("order without items: %w", ErrInvalidOrder)
	}
	for i, it := range d.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("item %d has no name: %w", i, ErrInvalidOrder)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d quantity %d: %w", i, it.Quantity, ErrInvalidOrder)
		}
	}
	return nil
}

// CreateOrder synthesizes the order locally, inserts it before the remote
// call and keeps it even if the remote call fails.
func (s *OrdersService) CreateOrder(ctx context.Context, d OrderDraft) (domain.Order, WriteResult, error) {
	if err := d.validate(); err != nil {
		return domain.Order{}, WriteResult{}, err
	}
	now := s.now()

	o := domain.Order{
		ID:            uuid.NewString(),
		CustomerLabel: d.CustomerLabel,
		CreatedAt:     now.UnixMilli(),
		Status:        domain.OrderPending,
		Items:         make([]domain.OrderItem, 0, len(d.Items)),
	}
	if d.TableRef != nil && strings.TrimSpace(*d.TableRef) != "" {
		t := strings.TrimSpace(*d.TableRef)
		o.TableRef = &t
	}
	o.SelfService = domain.IsSelfServiceOrder(domain.RemoteOrder{
		TableID:       o.TableRef,
		CustomerName:  d.CustomerLabel,
		IsSelfService: &d.SelfService,
	}) || s.opts.SelfService
	for _, di := range d.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:              uuid.NewString(),
			Name:            strings.TrimSpace(di.Name),
			Price:           di.Price,
			Quantity:        di.Quantity,
			Vegetarian:      di.Vegetarian,
			Status:          domain.ItemPending,
			StatusChangedAt: o.CreatedAt,
			MenuID:          di.MenuID,
		})
		o.Total += di.Price * float64(di.Quantity)
	}
	if o.SelfService {
		n := s.nextOrderNumber(now)
		o.OrderNumber = &n
	}

	s.store.Insert(o)
	m := s.store.Track(orderstore.Mutation{Kind: orderstore.KindOrderCreate, OrderID: o.ID})
	res := WriteResult{OrderID: o.ID, MutationID: m.ID}
	s.persist(ctx)

	err := s.remote.CreateOrder(ctx, domain.ToRemote(o))
	s.settle(m, err, &res)
	if err != nil {
		logger.Warn("remote create failed; order kept locally", "order", o.ID, "err", err)
		return o, res, nil
	}
	s.publish(ctx, events.OrderCreated, o.ID, domain.ToRemote(o))
	return o, res, nil
}

// nextOrderNumber is a provisional per-day counter for self-service tickets.
func (s *OrdersService) nextOrderNumber(now time.Time) int {
	highest := 0
	for _, o := range s.store.List() {
		if o.OrderNumber != nil && o.CreatedOn(now) && *o.OrderNumber > highest {
			highest = *o.OrderNumber
		}
	}
	return highest + 1
}

// CompleteOrder records payment. Self-service orders start their expiry window.
func (s *OrdersService) CompleteOrder(ctx context.Context, orderID string, finalAmount float64) (WriteResult, error) {
	res := WriteResult{OrderID: orderID}
	now := s.now()
	changed := false
	err := s.store.MutateOrder(orderID, func(o *domain.Order) bool {
		if o.Status == domain.OrderCompleted {
			return false
		}
		o.Complete(finalAmount, now, s.opts.ExpiryGrace)
		changed = true
		return true
	})
	if err != nil {
		return res, err
	}
	if !changed {
		res.Confirmed = true
		return res, nil
	}

	m := s.store.Track(orderstore.Mutation{
		Kind:        orderstore.KindOrderComplete,
		OrderID:     orderID,
		FinalAmount: finalAmount,
	})
	res.MutationID = m.ID
	s.persist(ctx)

	err = s.remote.CompleteOrder(ctx, orderID, finalAmount)
	s.settle(m, err, &res)
	if err != nil {
		logger.Warn("remote complete failed; keeping local completion", "order", orderID, "err", err)
		return res, nil
	}
	if o, ok := s.store.Get(orderID); ok {
		s.publish(ctx, events.OrderUpdated, orderID, domain.ToRemote(o))
	}
	return res, nil
}

func (s *OrdersService) CancelOrder(ctx context.Context, orderID string) (WriteResult, error) {
	res := WriteResult{OrderID: orderID}
	if !s.store.Remove(orderID) {
		return res, fmt.Errorf("cancel %s: %w", orderID, orderstore.ErrOrderNotFound)
	}

	m := s.store.Track(orderstore.Mutation{Kind: orderstore.KindOrderCancel, OrderID: orderID})
	res.MutationID = m.ID
	s.persist(ctx)

	err := s.remote.CancelOrder(ctx, orderID)
	s.settle(m, err, &res)
	if err != nil {
		logger.Warn("remote cancel failed; order stays hidden locally", "order", orderID, "err", err)
	}
	return res, nil
}

func (s *OrdersService) settle(m orderstore.Mutation, err error, res *WriteResult) {
	if err != nil {
		s.store.Fail(m.ID, err)
		res.Error = err.Error()
		return
	}
	s.store.Confirm(m.ID)
	res.Confirmed = true
}

// persist makes the current store the new fallback of record.
func (s *OrdersService) persist(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.WriteOrders(ctx, s.store.List()); err != nil {
		logger.Warn("cache write failed", "err", err)
	}
}

func (s *OrdersService) publish(ctx context.Context, event, key string, payload any) {
	if s.pub == nil {
		return
	}
	env, err := events.NewEnvelope(event, payload, s.opts.Source)
	if err != nil {
		logger.Warn("event encode failed", "event", event, "err", err)
		return
	}
	if err := s.pub.Publish(ctx, key, env); err != nil {
		logger.Warn("event publish failed", "event", event, "key", key, "err", err)
	}
}
