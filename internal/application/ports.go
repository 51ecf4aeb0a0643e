package application

import (
	"context"

	"github.com/veerananda/billgenie-sync/internal/domain"
)

// RemoteService is the authoritative backend.
type RemoteService interface {
	ListOrders(ctx context.Context) ([]domain.RemoteOrder, error)
	UpdateOrderItemStatus(ctx context.Context, orderID, itemID string, status domain.ItemStatus) error
	UpdateOrderItemsByGroupKey(ctx context.Context, orderID, groupKey string, status domain.ItemStatus) error
	CancelOrder(ctx context.Context, orderID string) error
	CreateOrder(ctx context.Context, order domain.RemoteOrder) error
	CompleteOrder(ctx context.Context, orderID string, finalAmount float64) error
}

// LocalCache is the durable fallback used while the remote service is unreachable.
// Read failures are treated by callers as an empty cache.
type LocalCache interface {
	ReadOrders(ctx context.Context) ([]domain.Order, error)
	WriteOrders(ctx context.Context, orders []domain.Order) error
}
