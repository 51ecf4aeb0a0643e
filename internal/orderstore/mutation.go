package orderstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/veerananda/billgenie-sync/internal/domain"
)

type MutationKind string

const (
	KindItemStatus    MutationKind = "item_status"
	KindOrderCreate   MutationKind = "order_create"
	KindOrderCancel   MutationKind = "order_cancel"
	KindOrderComplete MutationKind = "order_complete"
)

type Confirmation string

const (
	// AwaitingConfirmation: applied locally, remote call in flight.
	AwaitingConfirmation Confirmation = "awaiting"
	// ConfirmationFailed: remote call failed; the local state stays and a later
	// reconciliation retries or settles it.
	ConfirmationFailed Confirmation = "failed"
)

// Mutation marks a local change the remote service has not acknowledged yet.
type Mutation struct {
	ID          uuid.UUID         `json:"id"`
	Kind        MutationKind      `json:"kind"`
	OrderID     string            `json:"order_id"`
	ItemIDs     []string          `json:"item_ids,omitempty"`
	GroupKey    string            `json:"group_key,omitempty"`
	Target      domain.ItemStatus `json:"target,omitempty"`
	FinalAmount float64           `json:"final_amount,omitempty"`
	State       Confirmation      `json:"state"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (m Mutation) clone() Mutation {
	if m.ItemIDs != nil {
		ids := make([]string, len(m.ItemIDs))
		copy(ids, m.ItemIDs)
		m.ItemIDs = ids
	}
	return m
}

// Covers reports whether the marker protects the given item of an order.
func (m Mutation) Covers(orderID, itemID string) bool {
	if m.Kind != KindItemStatus || m.OrderID != orderID {
		return false
	}
	for _, id := range m.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}
