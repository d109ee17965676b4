package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index on (user_id, currency) WHERE deleted_at IS NULL.
const uniqueViolation = "23505"

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet. Returns ports.ErrWalletExists when an active
// wallet for the (user, currency) pair already exists.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, currency, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.Currency, w.Balance, w.Version,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ports.ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches an active wallet by its UUID.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT id, user_id, currency, balance, version, created_at, updated_at, deleted_at
		FROM wallets WHERE id = $1 AND deleted_at IS NULL`

	return r.scanWallet(r.pool.QueryRow(ctx, query, id), "get wallet by id")
}

// GetByUser fetches a user's active wallet in the given currency.
func (r *WalletRepo) GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	query := `SELECT id, user_id, currency, balance, version, created_at, updated_at, deleted_at
		FROM wallets WHERE user_id = $1 AND currency = $2 AND deleted_at IS NULL`

	return r.scanWallet(r.pool.QueryRow(ctx, query, userID, currency), "get wallet by user")
}

// ApplyBalanceDelta atomically adds delta to the wallet balance and returns
// the new balance. The balance guard and the mutation execute in a single
// statement, so concurrent deltas serialize on the row and can never commit a
// negative balance.
func (r *WalletRepo) ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `UPDATE wallets
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL AND balance + $1 >= 0
		RETURNING balance`

	var newBalance decimal.Decimal
	err := tx.QueryRow(ctx, query, delta, walletID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The guard rejected the update: the wallet is gone or the delta
			// would overdraw it. Disambiguate for the caller.
			exists, exErr := r.activeExists(ctx, tx, walletID)
			if exErr != nil {
				return decimal.Zero, exErr
			}
			if !exists {
				return decimal.Zero, ports.ErrWalletNotFound
			}
			return decimal.Zero, ports.ErrInsufficientFunds
		}
		return decimal.Zero, fmt.Errorf("apply balance delta: %w", err)
	}
	return newBalance, nil
}

// SoftDelete marks a wallet inactive. Wallets are never hard-deleted.
func (r *WalletRepo) SoftDelete(ctx context.Context, walletID uuid.UUID, at time.Time) error {
	query := `UPDATE wallets SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, at, walletID)
	if err != nil {
		return fmt.Errorf("soft delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrWalletNotFound
	}
	return nil
}

func (r *WalletRepo) activeExists(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM wallets WHERE id = $1 AND deleted_at IS NULL)`,
		walletID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check wallet exists: %w", err)
	}
	return exists, nil
}

func (r *WalletRepo) scanWallet(row pgx.Row, op string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.Version,
		&w.CreatedAt, &w.UpdatedAt, &w.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}
