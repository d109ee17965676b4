package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the external party identity referenced by wallets and transactions.
// Account management lives outside this service; the engine only needs to
// resolve existence and active state.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
