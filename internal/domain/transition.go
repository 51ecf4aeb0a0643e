package domain

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrEmptySelector = errors.New("selector names neither item nor group")
)

// ItemSelector addresses one item, or every item of a menu group that sits at
// the same source status.
type ItemSelector struct {
	ItemID   string
	GroupKey string
	// From pins the source status of a group-only selection.
	From ItemStatus
}

func (s ItemSelector) Bulk() bool {
	return s.GroupKey != ""
}

func (s ItemSelector) String() string {
	if s.Bulk() {
		return fmt.Sprintf("group=%s item=%s from=%s", s.GroupKey, s.ItemID, s.From)
	}
	return "item=" + s.ItemID
}

// ApplyTransition moves the selected items forward to target. An empty target
// means "next status after the source". Items already at or past the target
// are left alone; the returned ids are the items that actually changed.
func (o *Order) ApplyTransition(sel ItemSelector, target ItemStatus, at int64) ([]string, error) {
	source, err := o.sourceStatus(sel)
	if err != nil {
		return nil, err
	}

	if target == "" {
		next, ok := NextStatus(source)
		if !ok {
			return nil, nil
		}
		target = next
	}
	if !target.Valid() {
		return nil, fmt.Errorf("transition to %q: %w", target, ErrMalformedOrder)
	}

	var changed []string
	for i := range o.Items {
		it := &o.Items[i]
		if sel.Bulk() {
			if it.MenuID != sel.GroupKey || it.Status != source {
				continue
			}
		} else if it.ID != sel.ItemID {
			continue
		}
		if it.advanceTo(target, at) {
			changed = append(changed, it.ID)
		}
	}
	return changed, nil
}

// advanceTo walks the item forward one successor at a time until it reaches
// target. Only the final status and a single timestamp are kept.
func (it *OrderItem) advanceTo(target ItemStatus, at int64) bool {
	steps := StepsBetween(it.Status, target)
	if len(steps) == 0 || steps[len(steps)-1] != target {
		return false
	}
	for _, s := range steps {
		it.Status = s
	}
	it.StatusChangedAt = at
	return true
}

func (o *Order) sourceStatus(sel ItemSelector) (ItemStatus, error) {
	if sel.ItemID != "" {
		it, ok := o.Item(sel.ItemID)
		if !ok {
			return "", fmt.Errorf("order %s item %s: %w", o.ID, sel.ItemID, ErrItemNotFound)
		}
		return it.Status, nil
	}
	if sel.GroupKey == "" {
		return "", ErrEmptySelector
	}

	least := ItemStatus("")
	for _, it := range o.Items {
		if it.MenuID != sel.GroupKey {
			continue
		}
		if least == "" || it.Status.Rank() < least.Rank() {
			least = it.Status
		}
	}
	if least == "" {
		return "", fmt.Errorf("order %s group %s: %w", o.ID, sel.GroupKey, ErrItemNotFound)
	}
	if sel.From != "" {
		return sel.From, nil
	}
	return least, nil
}
