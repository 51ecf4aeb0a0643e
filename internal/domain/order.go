package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
)

// Order is the canonical shape held by the order store.
type Order struct {
	ID            string      `json:"id"`
	TableRef      *string     `json:"table_ref,omitempty"`
	CustomerLabel string      `json:"customer_label"`
	CreatedAt     int64       `json:"created_at"`
	Items         []OrderItem `json:"items"`
	Total         float64     `json:"total"`
	FinalAmount   *float64    `json:"final_amount,omitempty"`
	Status        OrderStatus `json:"status"`
	CompletedAt   *int64      `json:"completed_at,omitempty"`
	ExpiresAt     *int64      `json:"expires_at,omitempty"`
	SelfService   bool        `json:"self_service"`
	OrderNumber   *int        `json:"order_number,omitempty"`
}

type OrderItem struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Price           float64    `json:"price"`
	Quantity        int        `json:"quantity"`
	Vegetarian      bool       `json:"vegetarian"`
	Status          ItemStatus `json:"status"`
	StatusChangedAt int64      `json:"status_changed_at"`
	MenuID          string     `json:"menu_id,omitempty"`
}

// Clone returns a deep copy so callers never share slices or pointers with the store.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.TableRef != nil {
		v := *o.TableRef
		c.TableRef = &v
	}
	if o.FinalAmount != nil {
		v := *o.FinalAmount
		c.FinalAmount = &v
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		c.CompletedAt = &v
	}
	if o.ExpiresAt != nil {
		v := *o.ExpiresAt
		c.ExpiresAt = &v
	}
	if o.OrderNumber != nil {
		v := *o.OrderNumber
		c.OrderNumber = &v
	}
	return c
}

func (o Order) Item(id string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return OrderItem{}, false
}

// Expired reports whether a completed order's grace window has passed.
func (o Order) Expired(now time.Time) bool {
	return o.Status == OrderCompleted && o.ExpiresAt != nil && *o.ExpiresAt < now.UnixMilli()
}

// CreatedOn reports whether the order was created on the same local calendar day as now.
func (o Order) CreatedOn(now time.Time) bool {
	created := time.UnixMilli(o.CreatedAt).In(now.Location())
	y1, m1, d1 := created.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// SameNumber matches self-service orders that carry the same order number.
func (o Order) SameNumber(other Order) bool {
	return o.SelfService && other.SelfService &&
		o.OrderNumber != nil && other.OrderNumber != nil &&
		*o.OrderNumber == *other.OrderNumber
}

// Complete marks the order paid. Self-service orders get an expiry so the
// sweep can drop them after the receipt has been shown.
func (o *Order) Complete(finalAmount float64, now time.Time, grace time.Duration) {
	o.Status = OrderCompleted
	o.FinalAmount = &finalAmount
	at := now.UnixMilli()
	o.CompletedAt = &at
	o.ExpiresAt = nil
	if o.SelfService {
		exp := now.Add(grace).UnixMilli()
		o.ExpiresAt = &exp
	}
}

// ExpiryFrom is when a completed self-service order should leave the
// display: grace after completion, or after now when the completion time is
// unknown.
func (o Order) ExpiryFrom(now time.Time, grace time.Duration) int64 {
	if o.CompletedAt != nil {
		return time.UnixMilli(*o.CompletedAt).Add(grace).UnixMilli()
	}
	return now.Add(grace).UnixMilli()
}
