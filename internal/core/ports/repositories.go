package ports

import (
	"context"
	"errors"
	"time"

	"walletledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced by the ledger store. The service layer translates
// these into the caller-facing error taxonomy.
var (
	// ErrInsufficientFunds is returned by ApplyBalanceDelta when a negative
	// delta would drive the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrWalletNotFound is returned when a balance mutation targets a missing
	// or soft-deleted wallet.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned by Create when an active wallet already
	// exists for the (user, currency) pair.
	ErrWalletExists = errors.New("wallet already exists")
	// ErrStorageConflict signals a lost optimistic-concurrency race. Callers
	// retry with bounded attempts.
	ErrStorageConflict = errors.New("storage conflict")
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside a database transaction so that a
// transfer's two balance mutations commit or roll back together.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	// ApplyBalanceDelta atomically adds delta to the wallet balance and
	// returns the new balance. The read-modify-write must be linearizable:
	// two concurrent deltas on the same wallet never interleave on a stale
	// balance. Fails with ErrInsufficientFunds when delta < 0 and
	// balance+delta < 0, ErrWalletNotFound for missing/deleted wallets, and
	// ErrStorageConflict when a concurrent writer won a version race.
	ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	SoftDelete(ctx context.Context, walletID uuid.UUID, at time.Time) error
}

// TransactionRepository defines persistence operations for ledger entries.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// CountRecentByKind counts a sender's transactions of the given kind
	// created in [since, until). The strict upper bound keeps the fraud
	// velocity window anchored at the candidate: a persisted candidate never
	// counts itself, and transfers made after it never count against it.
	CountRecentByKind(ctx context.Context, senderID uuid.UUID, kind domain.TransactionKind, since, until time.Time) (int64, error)
	// ListCompletedSince returns Completed, not-yet-flagged transactions
	// created at or after since, newest first. The result is a point-in-time
	// snapshot for the periodic scanner.
	ListCompletedSince(ctx context.Context, since time.Time) ([]domain.Transaction, error)
	// MarkFlagged transitions a transaction from Completed to Flagged with the
	// given reason. Returns false without error when the transaction is no
	// longer in Completed state; no other transition is ever performed.
	MarkFlagged(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	// ListByUser returns transactions where the user is sender or recipient,
	// newest first, plus the total count.
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error)
	ListFlagged(ctx context.Context, limit, offset int) ([]domain.Transaction, int64, error)
}

// UserDirectory resolves party identities. Account management lives outside
// this service; the engine only checks existence and active state.
type UserDirectory interface {
	// Lookup returns nil, nil when the user does not exist.
	Lookup(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// FraudAuditRepository persists flag events for the audit trail.
type FraudAuditRepository interface {
	Record(ctx context.Context, entry *domain.FraudAuditEntry) error
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
