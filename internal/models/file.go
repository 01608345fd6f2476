package models

import (
	"time"

	"github.com/google/uuid"
)

// File owner kinds.
const (
	FileOwnerOrder   = "order"
	FileOwnerProduct = "product"
	FileOwnerJob     = "job"
)

// FileMeta describes a blob held by the external file store. Only metadata is kept here.
type FileMeta struct {
	ID         uuid.UUID `json:"id"`
	OwnerKind  string    `json:"owner_kind"`
	OwnerID    uuid.UUID `json:"owner_id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Format     string    `json:"format"`
	StorageKey string    `json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}
