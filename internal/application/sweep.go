package application

import (
	"context"
	"time"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/logger"
)

// Sweep evicts completed orders whose expiry has passed and, for a
// self-service profile, anything not created today.
func (s *OrdersService) Sweep(ctx context.Context) []string {
	now := s.now()
	removed := s.store.RemoveWhere(func(o domain.Order) bool {
		if o.Expired(now) {
			return true
		}
		return s.opts.SelfService && !o.CreatedOn(now)
	})
	if len(removed) > 0 {
		logger.Info("sweep evicted orders", "count", len(removed), "ids", removed)
		s.persist(ctx)
	}
	return removed
}

// RunSweeper sweeps once immediately, then every interval until ctx is done.
func (s *OrdersService) RunSweeper(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
