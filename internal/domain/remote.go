package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedOrder = errors.New("malformed order")

const (
	selfServiceTablePrefix = "self-service"
	selfServiceCustomer    = "Self Service"
)

// RemoteOrder is the record shape served by the remote service and carried
// by push events.
type RemoteOrder struct {
	ID            string       `json:"id"`
	TableID       *string      `json:"table_id,omitempty"`
	CustomerName  string       `json:"customer_name"`
	Items         []RemoteItem `json:"items"`
	TotalAmount   float64      `json:"total_amount"`
	FinalAmount   *float64     `json:"final_amount,omitempty"`
	Status        string       `json:"status"`
	CreatedAt     int64        `json:"created_at"`
	CompletedAt   *int64       `json:"completed_at,omitempty"`
	IsSelfService *bool        `json:"is_self_service,omitempty"`
	OrderNumber   *int         `json:"order_number,omitempty"`
}

type RemoteItem struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
	IsVegetarian    bool    `json:"is_vegetarian"`
	Status          string  `json:"status"`
	StatusChangedAt int64   `json:"status_changed_at,omitempty"`
	MenuID          string  `json:"menu_id,omitempty"`
}

// StatusChange is the payload of an order_status_changed event.
type StatusChange struct {
	OrderID string `json:"order_id"`
	ItemID  string `json:"item_id"`
	MenuID  string `json:"menu_id,omitempty"`
	Status  string `json:"status"`
}

// IsSelfServiceOrder applies the detection rules: explicit flag, absent or
// self-service table reference, or the self-service customer sentinel.
func IsSelfServiceOrder(r RemoteOrder) bool {
	if r.IsSelfService != nil && *r.IsSelfService {
		return true
	}
	if r.TableID == nil || strings.TrimSpace(*r.TableID) == "" {
		return true
	}
	if hasPrefixFold(strings.TrimSpace(*r.TableID), selfServiceTablePrefix) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.CustomerName), selfServiceCustomer)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch OrderStatus(raw) {
	case "", OrderPending:
		return OrderPending, nil
	case OrderCompleted:
		return OrderCompleted, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// Transform maps a raw remote record into the canonical Order.
func Transform(r RemoteOrder) (Order, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Order{}, fmt.Errorf("missing id: %w", ErrMalformedOrder)
	}
	if len(r.Items) == 0 {
		return Order{}, fmt.Errorf("order %s has no items: %w", r.ID, ErrMalformedOrder)
	}
	if r.CreatedAt <= 0 {
		return Order{}, fmt.Errorf("order %s has no creation time: %w", r.ID, ErrMalformedOrder)
	}
	status, err := ParseOrderStatus(r.Status)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: %v: %w", r.ID, err, ErrMalformedOrder)
	}

	o := Order{
		ID:            r.ID,
		CustomerLabel: r.CustomerName,
		CreatedAt:     r.CreatedAt,
		Total:         r.TotalAmount,
		Status:        status,
		SelfService:   IsSelfServiceOrder(r),
		Items:         make([]OrderItem, 0, len(r.Items)),
	}
	if r.TableID != nil && strings.TrimSpace(*r.TableID) != "" {
		t := *r.TableID
		o.TableRef = &t
	}
	if r.FinalAmount != nil {
		v := *r.FinalAmount
		o.FinalAmount = &v
	}
	if status == OrderCompleted && r.CompletedAt != nil && *r.CompletedAt > 0 {
		v := *r.CompletedAt
		o.CompletedAt = &v
	}
	if o.SelfService && r.OrderNumber != nil {
		n := *r.OrderNumber
		o.OrderNumber = &n
	}

	for _, ri := range r.Items {
		it, err := transformItem(ri, r.CreatedAt)
		if err != nil {
			return Order{}, fmt.Errorf("order %s: %w", r.ID, err)
		}
		o.Items = append(o.Items, it)
	}
	return o, nil
}

func transformItem(ri RemoteItem, createdAt int64) (OrderItem, error) {
	if strings.TrimSpace(ri.ID) == "" {
		return OrderItem{}, fmt.Errorf("item without id: %w", ErrMalformedOrder)
	}
	if ri.Quantity <= 0 {
		return OrderItem{}, fmt.Errorf("item %s quantity %d: %w", ri.ID, ri.Quantity, ErrMalformedOrder)
	}
	st, err := ParseItemStatus(ri.Status)
	if err != nil {
		return OrderItem{}, fmt.Errorf("item %s: %v: %w", ri.ID, err, ErrMalformedOrder)
	}
	changed := ri.StatusChangedAt
	if changed == 0 {
		changed = createdAt
	}
	return OrderItem{
		ID:              ri.ID,
		Name:            ri.Name,
		Price:           ri.Price,
		Quantity:        ri.Quantity,
		Vegetarian:      ri.IsVegetarian,
		Status:          st,
		StatusChangedAt: changed,
		MenuID:          ri.MenuID,
	}, nil
}

// ToRemote is the inverse of Transform, used when pushing local orders out.
func ToRemote(o Order) RemoteOrder {
	r := RemoteOrder{
		ID:           o.ID,
		CustomerName: o.CustomerLabel,
		TotalAmount:  o.Total,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		Items:        make([]RemoteItem, 0, len(o.Items)),
	}
	if o.TableRef != nil {
		t := *o.TableRef
		r.TableID = &t
	}
	if o.FinalAmount != nil {
		v := *o.FinalAmount
		r.FinalAmount = &v
	}
	if o.OrderNumber != nil {
		n := *o.OrderNumber
		r.OrderNumber = &n
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		r.CompletedAt = &v
	}
	ss := o.SelfService
	r.IsSelfService = &ss
	for _, it := range o.Items {
		r.Items = append(r.Items, RemoteItem{
			ID:              it.ID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			Price:           it.Price,
			IsVegetarian:    it.Vegetarian,
			Status:          string(it.Status),
			StatusChangedAt: it.StatusChangedAt,
			MenuID:          it.MenuID,
		})
	}
	return r
}
