package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/logger"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
)

type ReconcileSource string

const (
	SourceRemote    ReconcileSource = "remote"
	SourceCache     ReconcileSource = "cache"
	SourceSkipped   ReconcileSource = "skipped"
	SourceThrottled ReconcileSource = "throttled"
)

type ReconcileResult struct {
	Source    ReconcileSource `json:"source"`
	Orders    int             `json:"orders"`
	Malformed int             `json:"malformed"`
	Settled   int             `json:"settled"`
	Retried   int             `json:"retried"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RequestReconciliation merges a fresh snapshot into the store. Unforced
// requests arriving within MinFetchInterval of the last fetch are dropped and
// concurrent requests share one fetch. A failed fetch leaves the store as is.
func (s *OrdersService) RequestReconciliation(ctx context.Context, force bool) (ReconcileResult, error) {
	if !force && s.opts.MinFetchInterval > 0 {
		last := s.store.LastFetchedAt()
		if !last.IsZero() && s.now().Sub(last) < s.opts.MinFetchInterval {
			return ReconcileResult{Source: SourceThrottled, Orders: s.store.Len(), FetchedAt: last}, nil
		}
	}

	v, err, shared := s.fetches.Do("reconcile", func() (interface{}, error) {
		return s.reconcile(ctx)
	})
	if shared {
		logger.Debug("reconciliation shared with in-flight request")
	}
	res, _ := v.(ReconcileResult)
	return res, err
}

func (s *OrdersService) reconcile(ctx context.Context) (ReconcileResult, error) {
	res := ReconcileResult{Retried: s.retryPending(ctx)}

	raw, err := s.remote.ListOrders(ctx)
	if err != nil {
		logger.Warn("snapshot fetch failed; keeping current orders", "err", err)
		res.Source = SourceSkipped
		res.Orders = s.store.Len()
		return res, fmt.Errorf("list orders: %w", err)
	}

	incoming := make([]domain.Order, 0, len(raw))
	for _, r := range raw {
		o, err := domain.Transform(r)
		if err != nil {
			res.Malformed++
			logger.Warn("skipping malformed order", "id", r.ID, "err", err)
			continue
		}
		incoming = append(incoming, o)
	}

	now := s.now()

	if len(incoming) == 0 {
		cached := s.readCache(ctx)
		if len(cached) > 0 {
			next := s.dayFilter(cached, now)
			s.store.Replace(func([]domain.Order, []orderstore.Mutation) ([]domain.Order, []uuid.UUID) {
				return next, nil
			})
			res.Source = SourceCache
			res.Orders = len(next)
			res.FetchedAt = s.store.LastFetchedAt()
			logger.Info("empty snapshot; fell back to local cache", "orders", res.Orders)
			return res, nil
		}
	}

	s.store.Replace(func(local []domain.Order, pending []orderstore.Mutation) ([]domain.Order, []uuid.UUID) {
		next, settled := merge(local, incoming, pending, mergeOptions{now: now, grace: s.opts.ExpiryGrace})
		next = s.dayFilter(next, now)
		res.Orders = len(next)
		res.Settled = len(settled)
		return next, settled
	})
	res.Source = SourceRemote
	res.FetchedAt = s.store.LastFetchedAt()
	s.persist(ctx)

	logger.Info("reconciled", "orders", res.Orders, "malformed", res.Malformed, "settled", res.Settled)
	return res, nil
}

func (s *OrdersService) readCache(ctx context.Context) []domain.Order {
	if s.cache == nil {
		return nil
	}
	orders, err := s.cache.ReadOrders(ctx)
	if err != nil {
		logger.Warn("cache read failed; treating as empty", "err", err)
		return nil
	}
	return orders
}

// dayFilter keeps only today's orders when running a self-service profile.
func (s *OrdersService) dayFilter(orders []domain.Order, now time.Time) []domain.Order {
	if !s.opts.SelfService {
		return orders
	}
	out := orders[:0:0]
	for _, o := range orders {
		if o.CreatedOn(now) {
			out = append(out, o)
		}
	}
	return out
}

type mergeOptions struct {
	now   time.Time
	grace time.Duration
}

// merge resolves a snapshot against local state. Incoming values win except
// where a local marker or the completed-payment rule says otherwise.
func merge(local, incoming []domain.Order, pending []orderstore.Mutation, opts mergeOptions) ([]domain.Order, []uuid.UUID) {
	localByID := make(map[string]domain.Order, len(local))
	for _, o := range local {
		localByID[o.ID] = o
	}
	cancelled := make(map[string]bool)
	for _, m := range pending {
		if m.Kind == orderstore.KindOrderCancel {
			cancelled[m.OrderID] = true
		}
	}

	// Pair by id first so a number match can never steal an id match.
	matched := make(map[int]domain.Order, len(incoming))
	used := make(map[string]bool, len(local))
	for i, in := range incoming {
		if l, ok := localByID[in.ID]; ok {
			matched[i] = l
			used[l.ID] = true
		}
	}
	for i, in := range incoming {
		if _, ok := matched[i]; ok {
			continue
		}
		for _, l := range local {
			if used[l.ID] || !l.SameNumber(in) || !sameDay(l, in) {
				continue
			}
			matched[i] = l
			used[l.ID] = true
			break
		}
	}

	incomingByID := make(map[string]domain.Order, len(incoming))
	next := make([]domain.Order, 0, len(incoming))
	for i, in := range incoming {
		incomingByID[in.ID] = in
		if cancelled[in.ID] {
			continue
		}
		merged := in.Clone()
		if l, ok := matched[i]; ok {
			merged = resolveConflict(l, merged)
			merged = protectItems(l, merged, pending)
		}
		merged = ensureExpiry(merged, opts)
		if merged.Expired(opts.now) {
			// already swept, or would be on the next tick
			continue
		}
		next = append(next, merged)
	}

	present := make(map[string]bool, len(next))
	for _, o := range next {
		present[o.ID] = true
	}
	for _, m := range pending {
		if m.Kind != orderstore.KindOrderCreate || present[m.OrderID] {
			continue
		}
		if l, ok := localByID[m.OrderID]; ok && !used[l.ID] {
			next = append(next, l)
			present[l.ID] = true
		}
	}

	var settled []uuid.UUID
	for _, m := range pending {
		if caughtUp(m, incomingByID) {
			settled = append(settled, m.ID)
		}
	}
	return next, settled
}

// resolveConflict keeps a just-paid self-service order completed while the
// server still reports it pending.
func resolveConflict(l, in domain.Order) domain.Order {
	if l.SelfService && l.Status == domain.OrderCompleted && in.Status == domain.OrderPending {
		in.Status = domain.OrderCompleted
		in.FinalAmount = l.Clone().FinalAmount
		in.ExpiresAt = l.Clone().ExpiresAt
		in.CompletedAt = l.Clone().CompletedAt
		return in
	}
	if in.Status == domain.OrderCompleted && in.SelfService && in.ExpiresAt == nil && l.ExpiresAt != nil {
		exp := *l.ExpiresAt
		in.ExpiresAt = &exp
	}
	return in
}

// protectItems keeps item statuses the server has not caught up with while a
// local transition is still unconfirmed.
func protectItems(l, merged domain.Order, pending []orderstore.Mutation) domain.Order {
	for i := range merged.Items {
		it := &merged.Items[i]
		li, ok := l.Item(it.ID)
		if !ok || li.Status.Rank() <= it.Status.Rank() {
			continue
		}
		for _, m := range pending {
			if m.Covers(l.ID, it.ID) {
				it.Status = li.Status
				it.StatusChangedAt = li.StatusChangedAt
				break
			}
		}
	}
	return merged
}

// ensureExpiry anchors the grace window on the server's completion time so
// a swept order cannot be given a fresh window by a later snapshot.
func ensureExpiry(o domain.Order, opts mergeOptions) domain.Order {
	if o.Status != domain.OrderCompleted || !o.SelfService {
		o.ExpiresAt = nil
		return o
	}
	if o.ExpiresAt == nil {
		exp := o.ExpiryFrom(opts.now, opts.grace)
		o.ExpiresAt = &exp
	}
	return o
}

// caughtUp reports whether the snapshot already reflects the marker.
func caughtUp(m orderstore.Mutation, incoming map[string]domain.Order) bool {
	in, ok := incoming[m.OrderID]
	switch m.Kind {
	case orderstore.KindOrderCreate:
		return ok
	case orderstore.KindOrderCancel:
		return !ok
	case orderstore.KindOrderComplete:
		return ok && in.Status == domain.OrderCompleted
	case orderstore.KindItemStatus:
		if !ok {
			return false
		}
		for _, id := range m.ItemIDs {
			it, found := in.Item(id)
			if found && it.Status.Rank() < m.Target.Rank() {
				return false
			}
		}
		return true
	}
	return false
}

func sameDay(a, b domain.Order) bool {
	return a.CreatedOn(time.UnixMilli(b.CreatedAt))
}

// retryPending replays failed mutations before a fetch so the snapshot is
// more likely to include them. Markers past the attempt budget are dropped
// and the snapshot wins.
func (s *OrdersService) retryPending(ctx context.Context) int {
	retried := 0
	for _, m := range s.store.Pending() {
		if m.State != orderstore.ConfirmationFailed {
			continue
		}
		if m.Attempts >= s.opts.MaxRetryAttempts {
			logger.Warn("giving up on unconfirmed mutation", "id", m.ID, "kind", m.Kind, "order", m.OrderID, "attempts", m.Attempts)
			s.store.Confirm(m.ID)
			continue
		}
		retried++
		if err := s.replay(ctx, m); err != nil {
			s.store.Fail(m.ID, err)
			logger.Debug("replay failed", "id", m.ID, "kind", m.Kind, "err", err)
			continue
		}
		s.store.Confirm(m.ID)
	}
	return retried
}

func (s *OrdersService) replay(ctx context.Context, m orderstore.Mutation) error {
	switch m.Kind {
	case orderstore.KindOrderCreate:
		o, ok := s.store.Get(m.OrderID)
		if !ok {
			return nil
		}
		return s.remote.CreateOrder(ctx, domain.ToRemote(o))
	case orderstore.KindOrderCancel:
		return s.remote.CancelOrder(ctx, m.OrderID)
	case orderstore.KindOrderComplete:
		return s.remote.CompleteOrder(ctx, m.OrderID, m.FinalAmount)
	case orderstore.KindItemStatus:
		o, ok := s.store.Get(m.OrderID)
		if !ok {
			return nil
		}
		return s.pushItemStatus(ctx, o, m.GroupKey, m.ItemIDs, m.Target)
	}
	return fmt.Errorf("unknown mutation kind %q", m.Kind)
}

// RunPolling reconciles once immediately and then on every interval tick.
func (s *OrdersService) RunPolling(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.RequestReconciliation(ctx, false); err != nil {
			logger.Debug("poll reconciliation failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
