package application

import (
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/veerananda/billgenie-sync/internal/domain"
)

type StatusVariant struct {
	Status    domain.ItemStatus `json:"status"`
	Quantity  int               `json:"quantity"`
	ItemIDs   []string          `json:"item_ids"`
	GroupKeys []string          `json:"group_keys,omitempty"`
}

type ItemGroup struct {
	Name       string          `json:"name"`
	Vegetarian bool            `json:"vegetarian"`
	Variants   []StatusVariant `json:"variants"`
}

type KitchenOrder struct {
	OrderID       string      `json:"order_id"`
	TableRef      *string     `json:"table_ref,omitempty"`
	CustomerLabel string      `json:"customer_label"`
	OrderNumber   *int        `json:"order_number,omitempty"`
	CreatedAt     int64       `json:"created_at"`
	Groups        []ItemGroup `json:"groups"`
	ActiveCount   int         `json:"active_count"`
	CookingCount  int         `json:"cooking_count"`
	PendingCount  int         `json:"pending_count"`
}

type KitchenTotals struct {
	Orders  int `json:"orders"`
	Active  int `json:"active"`
	Cooking int `json:"cooking"`
	Pending int `json:"pending"`
}

type KitchenView struct {
	Orders []KitchenOrder `json:"orders"`
	Totals KitchenTotals  `json:"totals"`
}

// BuildKitchenView projects the orders that still have pending or cooking
// items. Ready and served items are front-of-house business and are dropped.
// Counts are portions, i.e. summed quantities. Orders come out oldest first.
func BuildKitchenView(orders []domain.Order) KitchenView {
	view := KitchenView{Orders: []KitchenOrder{}}

	for _, o := range orders {
		ko, ok := kitchenOrder(o)
		if !ok {
			continue
		}
		view.Orders = append(view.Orders, ko)
		view.Totals.Orders++
		view.Totals.Active += ko.ActiveCount
		view.Totals.Cooking += ko.CookingCount
		view.Totals.Pending += ko.PendingCount
	}

	sort.SliceStable(view.Orders, func(i, j int) bool {
		if view.Orders[i].CreatedAt != view.Orders[j].CreatedAt {
			return view.Orders[i].CreatedAt < view.Orders[j].CreatedAt
		}
		return view.Orders[i].OrderID < view.Orders[j].OrderID
	})
	return view
}

func kitchenOrder(o domain.Order) (KitchenOrder, bool) {
	ko := KitchenOrder{
		OrderID:       o.ID,
		CustomerLabel: o.CustomerLabel,
		CreatedAt:     o.CreatedAt,
	}
	if o.TableRef != nil {
		t := *o.TableRef
		ko.TableRef = &t
	}
	if o.OrderNumber != nil {
		n := *o.OrderNumber
		ko.OrderNumber = &n
	}

	groupIdx := make(map[string]int)
	for _, it := range o.Items {
		if !it.Status.Active() {
			continue
		}
		key := norm.NFC.String(it.Name)
		gi, ok := groupIdx[key]
		if !ok {
			gi = len(ko.Groups)
			groupIdx[key] = gi
			ko.Groups = append(ko.Groups, ItemGroup{Name: it.Name, Vegetarian: it.Vegetarian})
		}
		g := &ko.Groups[gi]
		g.Vegetarian = g.Vegetarian && it.Vegetarian

		vi := -1
		for i := range g.Variants {
			if g.Variants[i].Status == it.Status {
				vi = i
				break
			}
		}
		if vi < 0 {
			vi = len(g.Variants)
			g.Variants = append(g.Variants, StatusVariant{Status: it.Status})
		}
		v := &g.Variants[vi]
		v.Quantity += it.Quantity
		v.ItemIDs = append(v.ItemIDs, it.ID)
		if it.MenuID != "" && !contains(v.GroupKeys, it.MenuID) {
			v.GroupKeys = append(v.GroupKeys, it.MenuID)
		}

		ko.ActiveCount += it.Quantity
		switch it.Status {
		case domain.ItemCooking:
			ko.CookingCount += it.Quantity
		case domain.ItemPending:
			ko.PendingCount += it.Quantity
		}
	}
	return ko, len(ko.Groups) > 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
