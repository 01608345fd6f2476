package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/models"
)

// BalanceLedger is the subset of ledger.Service behind /balance.
type BalanceLedger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	TopUp(ctx context.Context, userID uuid.UUID, amount int64) (*models.BalanceEntry, error)
	History(ctx context.Context, userID uuid.UUID) ([]*models.BalanceEntry, error)
}

// BalanceHandler serves /api/v1/balance endpoints.
type BalanceHandler struct {
	Ledger BalanceLedger
	Logger *slog.Logger
}

type balanceResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Balance int64     `json:"balance"`
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// Get handles GET /api/v1/balance.
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	bal, err := h.Ledger.GetBalance(r.Context(), uid)
	if err != nil {
		writeError(w, logger(h.Logger), "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: uid, Balance: bal})
}

// History handles GET /api/v1/balance/history.
func (h *BalanceHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	entries, err := h.Ledger.History(r.Context(), uid)
	if err != nil {
		writeError(w, logger(h.Logger), "balance history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// TopUp handles POST /api/v1/balance/top-up.
func (h *BalanceHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req topUpRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.Ledger.TopUp(r.Context(), uid, req.Amount)
	if err != nil {
		writeError(w, logger(h.Logger), "top up", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
