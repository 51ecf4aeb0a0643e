package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veerananda/billgenie-sync/internal/application"
	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/logger"
	"github.com/veerananda/billgenie-sync/internal/orderstore"
	"github.com/veerananda/billgenie-sync/internal/presentation/helpers"
)

type OrdersHandler struct {
	svc *application.OrdersService
}

func NewOrdersHandler(svc *application.OrdersService) *OrdersHandler {
	return &OrdersHandler{svc: svc}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.CancelOrder)
		r.Post("/{id}/complete", h.CompleteOrder)
		r.Post("/{id}/items/{itemID}/advance", h.AdvanceItem)
		r.Post("/{id}/groups/{groupKey}/advance", h.AdvanceGroup)
	})
	r.Get("/kitchen", h.Kitchen)
	r.Get("/kitchen/stream", h.KitchenStream)
	r.Post("/reconcile", h.Reconcile)
	r.Get("/pending", h.Pending)
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, h.svc.List())
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		helpers.HttpError(w, http.StatusBadRequest, "id is empty")
		return
	}
	o, ok := h.svc.Get(id)
	if !ok {
		helpers.HttpError(w, http.StatusNotFound, "order not found")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var d application.OrderDraft
	if err := helpers.DecodeJSON(r.Body, &d); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	o, res, err := h.svc.CreateOrder(r.Context(), d)
	if err != nil {
		writeErr(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, map[string]any{
		"order":  o,
		"result": res,
	})
}

func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	helpers.WriteJSON(w, writeStatus(res), res)
}

type completeRequest struct {
	FinalAmount float64 `json:"final_amount"`
}

func (h *OrdersHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.FinalAmount < 0 {
		helpers.HttpError(w, http.StatusBadRequest, "final_amount must not be negative")
		return
	}
	res, err := h.svc.CompleteOrder(r.Context(), chi.URLParam(r, "id"), req.FinalAmount)
	if err != nil {
		writeErr(w, err)
		return
	}
	helpers.WriteJSON(w, writeStatus(res), res)
}

// AdvanceItem moves one item, or every portion of its group when ?group= is
// set, one step forward.
func (h *OrdersHandler) AdvanceItem(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RequestItemTransition(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), r.URL.Query().Get("group"))
	if err != nil {
		writeErr(w, err)
		return
	}
	helpers.WriteJSON(w, writeStatus(res), res)
}

func (h *OrdersHandler) AdvanceGroup(w http.ResponseWriter, r *http.Request) {
	var from domain.ItemStatus
	if raw := r.URL.Query().Get("from"); raw != "" {
		st, err := domain.ParseItemStatus(raw)
		if err != nil {
			helpers.HttpError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = st
	}
	res, err := h.svc.AdvanceGroup(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "groupKey"), from)
	if err != nil {
		writeErr(w, err)
		return
	}
	helpers.WriteJSON(w, writeStatus(res), res)
}

func (h *OrdersHandler) Kitchen(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, h.svc.KitchenView())
}

// KitchenStream pushes the kitchen view as server-sent events whenever the
// store changes.
func (h *OrdersHandler) KitchenStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		helpers.HttpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	updates, cancel := h.svc.Store().Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(version int64) bool {
		b, err := json.Marshal(h.svc.KitchenView())
		if err != nil {
			logger.Warn("kitchen stream encode failed", "err", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: kitchen\ndata: %s\n\n", version, b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(h.svc.Store().Version()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case v, ok := <-updates:
			if !ok || !send(v) {
				return
			}
		}
	}
}

func (h *OrdersHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			helpers.HttpError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = v
	}
	res, err := h.svc.RequestReconciliation(r.Context(), force)
	if err != nil {
		helpers.HttpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) Pending(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, h.svc.Pending())
}

// writeStatus is 202 while the remote service has not confirmed the write.
func writeStatus(res application.WriteResult) int {
	if res.Confirmed {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orderstore.ErrOrderNotFound), errors.Is(err, domain.ErrItemNotFound):
		helpers.HttpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrInvalidOrder), errors.Is(err, domain.ErrEmptySelector):
		helpers.HttpError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed", "err", err)
		helpers.HttpError(w, http.StatusInternalServerError, "internal error")
	}
}
