package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds one user's balance in a single currency.
// At most one active wallet exists per (user, currency) pair.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"-"` // Bumped on every balance mutation
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"-"` // Soft delete; wallets are never hard-deleted
}

// Active reports whether the wallet has not been soft-deleted.
func (w *Wallet) Active() bool {
	return w.DeletedAt == nil
}

// OwnedBy reports whether the wallet belongs to the given user.
func (w *Wallet) OwnedBy(userID uuid.UUID) bool {
	return w.UserID == userID
}
