package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/lifecycle"
	"github.com/craftmarket/backend/internal/models"
)

// OrderLifecycle is the order and offer half of lifecycle.Service.
type OrderLifecycle interface {
	PostOrder(ctx context.Context, ownerID uuid.UUID, spec lifecycle.OrderSpec) (*models.Order, error)
	GetOrders(ctx context.Context) ([]*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Order, error)
	RemoveOrder(ctx context.Context, userID, orderID uuid.UUID) error
	ApproveOrder(ctx context.Context, orderID, ownerID uuid.UUID) (*models.Order, error)
	IsOrderJobActive(ctx context.Context, orderID uuid.UUID) (bool, error)
	IsOrderOwner(ctx context.Context, userID, orderID uuid.UUID) (bool, error)

	PostOffer(ctx context.Context, bidderID, orderID uuid.UUID, spec lifecycle.OfferSpec) (*models.Offer, error)
	ListOffers(ctx context.Context, orderID uuid.UUID) ([]*models.Offer, error)
	AcceptOffer(ctx context.Context, ownerID, offerID, orderID uuid.UUID) (*models.Job, error)
	DeclineOffer(ctx context.Context, ownerID, offerID uuid.UUID) (*models.Offer, error)
}

// OrderHandler serves /api/v1/orders and /api/v1/offers endpoints.
type OrderHandler struct {
	Lifecycle OrderLifecycle
	Logger    *slog.Logger
}

type orderStatusResponse struct {
	OrderID   uuid.UUID `json:"order_id"`
	JobActive bool      `json:"job_active"`
	IsOwner   bool      `json:"is_owner"`
}

// List handles GET /api/v1/orders. With ?owner=me only the caller's orders are returned.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		orders []*models.Order
		err    error
	)
	if r.URL.Query().Get("owner") == "me" {
		uid, ok := callerID(w, r)
		if !ok {
			return
		}
		orders, err = h.Lifecycle.ListOrdersByOwner(r.Context(), uid)
	} else {
		orders, err = h.Lifecycle.GetOrders(r.Context())
	}
	if err != nil {
		writeError(w, logger(h.Logger), "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// Create handles POST /api/v1/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var spec lifecycle.OrderSpec
	if !decode(w, r, &spec) {
		return
	}
	o, err := h.Lifecycle.PostOrder(r.Context(), uid, spec)
	if err != nil {
		writeError(w, logger(h.Logger), "post order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// Get handles GET /api/v1/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.Lifecycle.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, logger(h.Logger), "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Status handles GET /api/v1/orders/{id}/status.
func (h *OrderHandler) Status(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	active, err := h.Lifecycle.IsOrderJobActive(r.Context(), id)
	if err != nil {
		writeError(w, logger(h.Logger), "order status", err)
		return
	}
	owner, err := h.Lifecycle.IsOrderOwner(r.Context(), uid, id)
	if err != nil {
		writeError(w, logger(h.Logger), "order status", err)
		return
	}
	writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: id, JobActive: active, IsOwner: owner})
}

// Delete handles DELETE /api/v1/orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Lifecycle.RemoveOrder(r.Context(), uid, id); err != nil {
		writeError(w, logger(h.Logger), "remove order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Approve handles POST /api/v1/orders/{id}/approve.
func (h *OrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.Lifecycle.ApproveOrder(r.Context(), id, uid)
	if err != nil {
		writeError(w, logger(h.Logger), "approve order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOffers handles GET /api/v1/orders/{id}/offers.
func (h *OrderHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	offers, err := h.Lifecycle.ListOffers(r.Context(), id)
	if err != nil {
		writeError(w, logger(h.Logger), "list offers", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(offers))
}

// PostOffer handles POST /api/v1/orders/{id}/offers.
func (h *OrderHandler) PostOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var spec lifecycle.OfferSpec
	if !decode(w, r, &spec) {
		return
	}
	offer, err := h.Lifecycle.PostOffer(r.Context(), uid, id, spec)
	if err != nil {
		writeError(w, logger(h.Logger), "post offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// AcceptOffer handles POST /api/v1/orders/{id}/offers/{offerID}/accept.
func (h *OrderHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	offerID, ok := pathID(w, r, "offerID")
	if !ok {
		return
	}
	job, err := h.Lifecycle.AcceptOffer(r.Context(), uid, offerID, orderID)
	if err != nil {
		writeError(w, logger(h.Logger), "accept offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// DeclineOffer handles DELETE /api/v1/offers/{id}.
func (h *OrderHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	offer, err := h.Lifecycle.DeclineOffer(r.Context(), uid, id)
	if err != nil {
		writeError(w, logger(h.Logger), "decline offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}
