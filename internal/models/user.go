package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	UserRoleBuyer  = "buyer"
	UserRoleSeller = "seller"
	UserRoleWorker = "worker"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidRole reports whether role is one of the known user roles.
func ValidRole(role string) bool {
	switch role {
	case UserRoleBuyer, UserRoleSeller, UserRoleWorker:
		return true
	}
	return false
}
