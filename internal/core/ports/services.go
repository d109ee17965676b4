package ports

import (
	"context"
	"time"

	"walletledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerService is the transaction engine: the single entry point through
// which wallet balances are mutated.
type LedgerService interface {
	CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	CloseWallet(ctx context.Context, userID, walletID uuid.UUID) error
	Deposit(ctx context.Context, req DepositRequest) (*OperationResult, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*OperationResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*OperationResult, error)
	GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error)
}

// OperationResult is returned by the three balance-mutating operations.
type OperationResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
}

// DepositRequest holds validated input for a deposit.
type DepositRequest struct {
	UserID         uuid.UUID
	WalletID       uuid.UUID
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string // Optional; empty disables the idempotency check
}

// WithdrawRequest holds validated input for a withdrawal.
type WithdrawRequest struct {
	UserID         uuid.UUID
	WalletID       uuid.UUID
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// TransferRequest holds validated input for a transfer between users.
type TransferRequest struct {
	SenderID       uuid.UUID
	RecipientID    uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// FraudService evaluates a transaction candidate against the fraud rules.
// Rules are additive: all triggered reasons are reported, comma-joined, in
// rule order. The engine, not this service, decides the transaction's fate.
type FraudService interface {
	Evaluate(ctx context.Context, candidate *domain.Transaction) (domain.FraudAssessment, error)
}

// ScannerService re-evaluates recently completed transactions and
// retroactively flags suspicious ones. Detection-only: balances are never
// reversed.
type ScannerService interface {
	RunFraudScan(ctx context.Context) (*domain.ScanSummary, error)
}

// AuditService records flag events. Best-effort: audit failures are logged,
// never propagated into the operation outcome.
type AuditService interface {
	RecordFlag(ctx context.Context, transactionID uuid.UUID, reason string, source domain.FlagSource)
}

// TokenService handles JWT token operations for the HTTP adapter.
type TokenService interface {
	Generate(userID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (uuid.UUID, error)
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
