package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veerananda/billgenie-sync/internal/domain"
)

func TestAttachItems(t *testing.T) {
	orders := []domain.RemoteOrder{{ID: "o1"}, {ID: "o2"}}
	items := []itemRow{
		{orderID: "o2", item: domain.RemoteItem{ID: "x"}},
		{orderID: "o1", item: domain.RemoteItem{ID: "a"}},
		{orderID: "o1", item: domain.RemoteItem{ID: "b"}},
		{orderID: "gone", item: domain.RemoteItem{ID: "z"}},
	}

	got := attachItems(orders, items)
	assert.Equal(t, []domain.RemoteItem{{ID: "a"}, {ID: "b"}}, got[0].Items)
	assert.Equal(t, []domain.RemoteItem{{ID: "x"}}, got[1].Items)
}

func TestItemChangedAt(t *testing.T) {
	assert.Equal(t, int64(50), itemChangedAt(domain.RemoteItem{}, 50))
	assert.Equal(t, int64(70), itemChangedAt(domain.RemoteItem{StatusChangedAt: 70}, 50))
}

func TestStatusRankMatchesDomainOrder(t *testing.T) {
	expr := fmt.Sprintf(statusRank, "status")
	assert.Contains(t, expr, "'pending','cooking','ready','served'")
	assert.True(t, domain.ItemPending.Rank() < domain.ItemCooking.Rank())
	assert.True(t, domain.ItemReady.Rank() < domain.ItemServed.Rank())
}

func TestMillis(t *testing.T) {
	assert.Nil(t, millis(nil))

	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	got := millis(&at)
	if assert.NotNil(t, got) {
		assert.Equal(t, at.UnixMilli(), *got)
	}
}
