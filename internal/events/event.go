// Package events carries marketplace domain events out of the unit of work.
// Events are inserted as River jobs in the same transaction as the state
// change, so they are emitted only for committed transitions.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Event types.
const (
	OrderPosted         = "order.posted"
	OrderRemoved        = "order.removed"
	OrderApproved       = "order.approved"
	OfferPosted         = "offer.posted"
	OfferAccepted       = "offer.accepted"
	OfferDeclined       = "offer.declined"
	JobProgressed       = "job.progressed"
	JobCompleted        = "job.completed"
	JobChangesRequested = "job.changes_requested"
	JobAbandoned        = "job.abandoned"
	BalanceToppedUp     = "balance.topped_up"
	ProductCreated      = "product.created"
	ProductPurchased    = "product.purchased"
)

type Event struct {
	Type       string    `json:"type"`
	SubjectID  uuid.UUID `json:"subject_id"`
	ActorID    uuid.UUID `json:"actor_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Amount     int64     `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with the current time.
func New(typ string, subjectID, actorID uuid.UUID) Event {
	return Event{Type: typ, SubjectID: subjectID, ActorID: actorID, OccurredAt: time.Now().UTC()}
}

// Publisher enqueues an event inside the caller's transaction.
type Publisher interface {
	Publish(ctx context.Context, tx pgx.Tx, ev Event) error
}
