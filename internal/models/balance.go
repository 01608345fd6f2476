package models

import (
	"time"

	"github.com/google/uuid"
)

// BalanceEntry is one row of balance_history. FromID is nil for top-ups.
// At most one of OrderID and ProductID is set.
type BalanceEntry struct {
	ID        uuid.UUID  `json:"id"`
	FromID    *uuid.UUID `json:"from_id,omitempty"`
	ToID      *uuid.UUID `json:"to_id,omitempty"`
	Amount    int64      `json:"amount"`
	IsPending bool       `json:"is_pending"`
	IsTopUp   bool       `json:"is_top_up"`
	CreatedAt time.Time  `json:"last_time"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
}

// Kind names the entry for logs and metrics.
func (e *BalanceEntry) Kind() string {
	switch {
	case e.IsTopUp:
		return "top_up"
	case e.ProductID != nil:
		return "product_purchase"
	case e.OrderID != nil && e.IsPending:
		return "order_reservation"
	case e.OrderID != nil:
		return "order_settlement"
	default:
		return "transfer"
	}
}
