package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind represents the kind of money movement.
type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "DEPOSIT"
	TransactionKindWithdrawal TransactionKind = "WITHDRAWAL"
	TransactionKindTransfer   TransactionKind = "TRANSFER"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusFlagged   TransactionStatus = "FLAGGED"
)

// Transaction is an immutable ledger entry for one money movement.
// Once persisted, the only permitted mutations are the engine finalizing
// status/flag fields and the scanner transitioning Completed to Flagged.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	SenderID    uuid.UUID         `json:"sender_id"`
	RecipientID uuid.UUID         `json:"recipient_id"` // Equals SenderID for deposits and withdrawals
	WalletID    uuid.UUID         `json:"wallet_id"`
	Kind        TransactionKind   `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	Flagged     bool              `json:"flagged"`
	FlagReason  *string           `json:"flag_reason,omitempty"`
	Description *string           `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DeletedAt   *time.Time        `json:"-"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusFlagged
}

// Flag marks the transaction as fraudulent with the given reason.
func (t *Transaction) Flag(reason string, at time.Time) {
	t.Flagged = true
	t.FlagReason = &reason
	t.Status = TransactionStatusFlagged
	t.UpdatedAt = at
}

// Complete finalizes the transaction as successfully applied.
func (t *Transaction) Complete(at time.Time) {
	t.Status = TransactionStatusCompleted
	t.UpdatedAt = at
}
