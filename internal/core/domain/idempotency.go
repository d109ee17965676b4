package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog is the durable record of a completed operation keyed by a
// client-supplied idempotency key, used to return the original result on replay.
type IdempotencyLog struct {
	Key           string
	TransactionID uuid.UUID
	ResponseJSON  []byte
	CreatedAt     time.Time
}

// BuildIdempotencyKey scopes a client-supplied key to the acting user and
// operation kind so keys cannot collide across users or operations.
func BuildIdempotencyKey(userID uuid.UUID, kind TransactionKind, clientKey string) string {
	return fmt.Sprintf("%s:%s:%s", userID, kind, clientKey)
}
