package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/events"
	"github.com/veerananda/billgenie-sync/internal/logger"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
)

// EventProcessor applies push events as targeted mutations. It never replaces
// the whole collection; a missing order falls back to a full reconciliation.
type EventProcessor struct {
	svc   *OrdersService
	unsub []func()
}

func NewEventProcessor(svc *OrdersService) *EventProcessor {
	return &EventProcessor{svc: svc}
}

func (p *EventProcessor) Subscribe(bus *events.Bus) {
	p.unsub = append(p.unsub,
		bus.Subscribe(events.OrderCreated, p.HandleCreated),
		bus.Subscribe(events.OrderUpdated, p.HandleUpdated),
		bus.Subscribe(events.OrderStatusChanged, p.HandleStatusChanged),
	)
}

func (p *EventProcessor) Close() {
	for _, u := range p.unsub {
		u()
	}
	p.unsub = nil
}

func (p *EventProcessor) HandleCreated(ctx context.Context, payload json.RawMessage) error {
	o, err := decodeOrder(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", events.OrderCreated, err)
	}
	svc := p.svc
	if svc.opts.SelfService && !o.CreatedOn(svc.now()) {
		logger.Debug("ignoring order created on another day", "order", o.ID)
		return nil
	}
	if !svc.store.Insert(o) {
		logger.Debug("duplicate order_created ignored", "order", o.ID)
		return nil
	}
	logger.Info("order inserted from push", "order", o.ID, "items", len(o.Items))
	svc.persist(ctx)
	return nil
}

func (p *EventProcessor) HandleStatusChanged(ctx context.Context, payload json.RawMessage) error {
	var sc domain.StatusChange
	if err := json.Unmarshal(payload, &sc); err != nil {
		return fmt.Errorf("%s: %v: %w", events.OrderStatusChanged, err, domain.ErrMalformedOrder)
	}
	target, err := domain.ParseItemStatus(sc.Status)
	if err != nil || sc.Status == "" {
		return fmt.Errorf("%s: bad status %q: %w", events.OrderStatusChanged, sc.Status, domain.ErrMalformedOrder)
	}
	svc := p.svc

	var changed []string
	switch {
	case sc.ItemID != "":
		changed, err = svc.store.MutateItem(sc.OrderID, domain.ItemSelector{ItemID: sc.ItemID}, target)
	case sc.MenuID != "":
		changed, err = p.advanceGroupTo(sc.OrderID, sc.MenuID, target)
	default:
		return fmt.Errorf("%s: no item or group: %w", events.OrderStatusChanged, domain.ErrMalformedOrder)
	}

	switch {
	case errors.Is(err, orderstore.ErrOrderNotFound):
		logger.Info("status change for unknown order; reconciling", "order", sc.OrderID)
		p.reconcile(ctx, false)
		return nil
	case errors.Is(err, domain.ErrItemNotFound):
		logger.Warn("status change for unknown item ignored", "order", sc.OrderID, "item", sc.ItemID, "group", sc.MenuID)
		return nil
	case err != nil:
		return err
	}

	if len(changed) > 0 {
		logger.Debug("status change applied", "order", sc.OrderID, "items", changed, "status", target)
		svc.persist(ctx)
	}
	return nil
}

// advanceGroupTo moves every portion of a menu group that is behind target.
func (p *EventProcessor) advanceGroupTo(orderID, groupKey string, target domain.ItemStatus) ([]string, error) {
	var changed []string
	at := p.svc.now().UnixMilli()
	found := false
	err := p.svc.store.MutateOrder(orderID, func(o *domain.Order) bool {
		for _, it := range o.Items {
			if it.MenuID != groupKey {
				continue
			}
			found = true
			ids, _ := o.ApplyTransition(domain.ItemSelector{ItemID: it.ID}, target, at)
			changed = append(changed, ids...)
		}
		return len(changed) > 0
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("order %s group %s: %w", orderID, groupKey, domain.ErrItemNotFound)
	}
	return changed, nil
}

// HandleUpdated diffs item statuses instead of overwriting the order, so
// local optimistic changes the payload has not caught up with survive.
func (p *EventProcessor) HandleUpdated(ctx context.Context, payload json.RawMessage) error {
	in, err := decodeOrder(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", events.OrderUpdated, err)
	}
	svc := p.svc

	if _, ok := svc.store.Get(in.ID); !ok {
		logger.Info("update for unknown order; reconciling", "order", in.ID)
		p.reconcile(ctx, true)
		return nil
	}

	now := svc.now()
	at := now.UnixMilli()
	changed := false
	err = svc.store.MutateOrder(in.ID, func(o *domain.Order) bool {
		for _, incoming := range in.Items {
			local, ok := o.Item(incoming.ID)
			if !ok {
				o.Items = append(o.Items, incoming)
				changed = true
				continue
			}
			if local.Status == incoming.Status {
				continue
			}
			ids, _ := o.ApplyTransition(domain.ItemSelector{ItemID: incoming.ID}, incoming.Status, at)
			if len(ids) > 0 {
				logger.Debug("item advanced by update", "order", o.ID, "item", incoming.ID,
					"steps", domain.StepsBetween(local.Status, incoming.Status))
				changed = true
			}
		}
		if in.Status == domain.OrderCompleted && o.Status != domain.OrderCompleted {
			final := in.Total
			if in.FinalAmount != nil {
				final = *in.FinalAmount
			}
			o.Complete(final, now, svc.opts.ExpiryGrace)
			if in.CompletedAt != nil {
				at := *in.CompletedAt
				o.CompletedAt = &at
				if o.ExpiresAt != nil {
					exp := o.ExpiryFrom(now, svc.opts.ExpiryGrace)
					o.ExpiresAt = &exp
				}
			}
			changed = true
		}
		if o.Total != in.Total || o.CustomerLabel != in.CustomerLabel {
			o.Total = in.Total
			o.CustomerLabel = in.CustomerLabel
			changed = true
		}
		return changed
	})
	if errors.Is(err, orderstore.ErrOrderNotFound) {
		// swept or cancelled between the lookup and the mutation
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		svc.persist(ctx)
	}
	return nil
}

func (p *EventProcessor) reconcile(ctx context.Context, force bool) {
	if _, err := p.svc.RequestReconciliation(ctx, force); err != nil {
		logger.Warn("fallback reconciliation failed", "err", err)
	}
}

func decodeOrder(payload json.RawMessage) (domain.Order, error) {
	var r domain.RemoteOrder
	if err := json.Unmarshal(payload, &r); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %v: %w", err, domain.ErrMalformedOrder)
	}
	return domain.Transform(r)
}
