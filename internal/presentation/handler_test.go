package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerananda/billgenie-sync/internal/application"
	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
)

type stubRemote struct {
	orders   []domain.RemoteOrder
	writeErr error
}

func (s *stubRemote) ListOrders(ctx context.Context) ([]domain.RemoteOrder, error) {
	return s.orders, nil
}
func (s *stubRemote) UpdateOrderItemStatus(ctx context.Context, orderID, itemID string, status domain.ItemStatus) error {
	return s.writeErr
}
func (s *stubRemote) UpdateOrderItemsByGroupKey(ctx context.Context, orderID, groupKey string, status domain.ItemStatus) error {
	return s.writeErr
}
func (s *stubRemote) CancelOrder(ctx context.Context, orderID string) error { return s.writeErr }
func (s *stubRemote) CreateOrder(ctx context.Context, o domain.RemoteOrder) error {
	return s.writeErr
}
func (s *stubRemote) CompleteOrder(ctx context.Context, orderID string, finalAmount float64) error {
	return s.writeErr
}

func newServer(t *testing.T) (*chi.Mux, *application.OrdersService, *stubRemote) {
	t.Helper()
	remote := &stubRemote{}
	svc := application.NewOrdersService(orderstore.New(time.Now), remote, nil, nil, application.Options{Source: "test"})
	r := chi.NewRouter()
	NewOrdersHandler(svc).Register(r)
	MountStatic(r)
	return r, svc, remote
}

func seed(svc *application.OrdersService) {
	table := "T2"
	svc.Store().Upsert(domain.Order{
		ID:        "o1",
		TableRef:  &table,
		CreatedAt: time.Now().UnixMilli(),
		Status:    domain.OrderPending,
		Items: []domain.OrderItem{
			{ID: "a", Name: "Tea", Quantity: 1, Status: domain.ItemPending, MenuID: "m-tea"},
			{ID: "b", Name: "Tea", Quantity: 1, Status: domain.ItemPending, MenuID: "m-tea"},
		},
	})
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetOrder(t *testing.T) {
	r, svc, _ := newServer(t)
	seed(svc)

	rec := do(r, http.MethodGet, "/orders/o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "o1", o.ID)

	rec = do(r, http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders(t *testing.T) {
	r, svc, _ := newServer(t)
	seed(svc)

	rec := do(r, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)
}

func TestCreateOrder(t *testing.T) {
	r, _, _ := newServer(t)

	rec := do(r, http.MethodPost, "/orders", `{"table_ref":"T9","customer_label":"Meera","items":[{"name":"Vada","price":30,"quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Order  domain.Order            `json:"order"`
		Result application.WriteResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 60.0, body.Order.Total)
	assert.True(t, body.Result.Confirmed)

	rec = do(r, http.MethodPost, "/orders", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/orders", `{"items":[{"name":"x","quantity":1}],"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvanceItem(t *testing.T) {
	r, svc, remote := newServer(t)
	seed(svc)

	rec := do(r, http.MethodPost, "/orders/o1/items/a/advance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res application.WriteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.ItemCooking, res.Target)
	assert.Equal(t, []string{"a"}, res.Changed)

	remote.writeErr = errors.New("offline")
	rec = do(r, http.MethodPost, "/orders/o1/items/b/advance?group=m-tea", "")
	assert.Equal(t, http.StatusAccepted, rec.Code, "unconfirmed write")

	rec = do(r, http.MethodPost, "/orders/o1/items/zz/advance", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvanceGroup(t *testing.T) {
	r, svc, _ := newServer(t)
	seed(svc)

	rec := do(r, http.MethodPost, "/orders/o1/groups/m-tea/advance?from=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	o, _ := svc.Get("o1")
	assert.Equal(t, domain.ItemCooking, o.Items[0].Status)
	assert.Equal(t, domain.ItemCooking, o.Items[1].Status)

	rec = do(r, http.MethodPost, "/orders/o1/groups/m-tea/advance?from=burnt", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteAndCancel(t *testing.T) {
	r, svc, _ := newServer(t)
	seed(svc)

	rec := do(r, http.MethodPost, "/orders/o1/complete", `{"final_amount":55}`)
	require.Equal(t, http.StatusOK, rec.Code)
	o, _ := svc.Get("o1")
	assert.Equal(t, domain.OrderCompleted, o.Status)

	rec = do(r, http.MethodPost, "/orders/o1/complete", `{"final_amount":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodDelete, "/orders/o1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodDelete, "/orders/o1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKitchen(t *testing.T) {
	r, svc, _ := newServer(t)
	seed(svc)

	rec := do(r, http.MethodGet, "/kitchen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view application.KitchenView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Orders, 1)
	assert.Equal(t, 2, view.Totals.Pending)
}

func TestKitchenStream_SendsCurrentView(t *testing.T) {
	r, svc, _ := newServer(t)
	seed(svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/kitchen/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: kitchen\n")
	assert.Contains(t, rec.Body.String(), `"order_id":"o1"`)
}

func TestReconcile(t *testing.T) {
	r, svc, remote := newServer(t)
	remote.orders = []domain.RemoteOrder{{
		ID:        "r1",
		TableID:   func() *string { s := "T1"; return &s }(),
		CreatedAt: time.Now().UnixMilli(),
		Items:     []domain.RemoteItem{{ID: "i", Name: "Tea", Quantity: 1}},
	}}

	rec := do(r, http.MethodPost, "/reconcile?force=yes-please", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/reconcile?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res application.ReconcileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, application.SourceRemote, res.Source)
	_, ok := svc.Get("r1")
	assert.True(t, ok)
}

func TestPending(t *testing.T) {
	r, svc, remote := newServer(t)
	seed(svc)
	remote.writeErr = errors.New("offline")
	do(r, http.MethodPost, "/orders/o1/items/a/advance", "")

	rec := do(r, http.MethodGet, "/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []orderstore.Mutation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, orderstore.ConfirmationFailed, pending[0].State)
}

func TestStaticIndex(t *testing.T) {
	r, _, _ := newServer(t)
	rec := do(r, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Kitchen board")

	rec = do(r, http.MethodGet, "/static/board.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
