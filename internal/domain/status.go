package domain

import "fmt"

// ItemStatus is the preparation status of a single order item.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemCooking ItemStatus = "cooking"
	ItemReady   ItemStatus = "ready"
	ItemServed  ItemStatus = "served"
)

var statusOrder = []ItemStatus{ItemPending, ItemCooking, ItemReady, ItemServed}

// Rank is the position of s in pending → cooking → ready → served, or -1.
func (s ItemStatus) Rank() int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s ItemStatus) Valid() bool {
	return s.Rank() >= 0
}

// Active items still belong to the kitchen.
func (s ItemStatus) Active() bool {
	return s == ItemPending || s == ItemCooking
}

func (s ItemStatus) Terminal() bool {
	return s == ItemServed
}

// ParseItemStatus maps a raw value to an ItemStatus; empty means pending.
func ParseItemStatus(raw string) (ItemStatus, error) {
	if raw == "" {
		return ItemPending, nil
	}
	s := ItemStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown item status %q", raw)
	}
	return s, nil
}

// NextStatus returns the single successor of current, false once served.
func NextStatus(current ItemStatus) (ItemStatus, bool) {
	r := current.Rank()
	if r < 0 || r+1 >= len(statusOrder) {
		return "", false
	}
	return statusOrder[r+1], true
}

// StepsBetween lists the states walked to get from `from` to `to`, excluding
// `from`. It is empty when `to` is not ahead of `from`.
func StepsBetween(from, to ItemStatus) []ItemStatus {
	fr, tr := from.Rank(), to.Rank()
	if fr < 0 || tr <= fr {
		return nil
	}
	steps := make([]ItemStatus, 0, tr-fr)
	for s, ok := NextStatus(from); ok; s, ok = NextStatus(s) {
		steps = append(steps, s)
		if s == to {
			break
		}
	}
	return steps
}
