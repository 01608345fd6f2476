package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is a buyer's request for commissioned work.
type Order struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Price        int64      `json:"price"`
	CreatedAt    time.Time  `json:"created_at"`
	CompleteTill time.Time  `json:"complete_till"`
	Approved     bool       `json:"approved"`
	Files        []FileMeta `json:"files,omitempty"`
}

// Offer is a worker's bid on an Order. OrderID comes from the order_offers join.
type Offer struct {
	ID           uuid.UUID `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	UserID       uuid.UUID `json:"user_id"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	CompleteTill time.Time `json:"complete_till"`
}

// Job is the accepted work for one Order+Offer pair.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     uuid.UUID  `json:"order_id"`
	OfferID     uuid.UUID  `json:"offer_id"`
	Progress    int        `json:"progress"`
	Active      bool       `json:"active"`
	NeedChanges bool       `json:"need_changes"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Files       []FileMeta `json:"files,omitempty"`
}

// JobProgress is an append-only progress or comment entry on a Job.
type JobProgress struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	UserID      uuid.UUID `json:"user_id"`
	Description string    `json:"description"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
}

// Progress bounds for jobs.
const (
	MinProgress = 0
	MaxProgress = 100
)
