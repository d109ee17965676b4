package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, sender_id, recipient_id, wallet_id, kind, amount, currency,
		status, flagged, flag_reason, description, created_at, updated_at, deleted_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create appends a ledger entry within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, sender_id, recipient_id, wallet_id, kind, amount, currency,
		status, flagged, flag_reason, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.SenderID, t.RecipientID, t.WalletID,
		t.Kind, t.Amount, t.Currency, t.Status,
		t.Flagged, t.FlagReason, t.Description,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1 AND deleted_at IS NULL`, transactionColumns)

	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// CountRecentByKind counts a sender's transactions of the given kind created
// in [since, until). Used by the fraud velocity rule; the upper bound excludes
// the candidate itself and anything the sender did after it.
func (r *TransactionRepo) CountRecentByKind(ctx context.Context, senderID uuid.UUID, kind domain.TransactionKind, since, until time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions
		WHERE sender_id = $1 AND kind = $2 AND created_at >= $3 AND created_at < $4 AND deleted_at IS NULL`

	var count int64
	err := r.pool.QueryRow(ctx, query, senderID, kind, since, until).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent transactions: %w", err)
	}
	return count, nil
}

// ListCompletedSince returns Completed, not-yet-flagged transactions created
// at or after since, newest first. Point-in-time snapshot for the scanner.
func (r *TransactionRepo) ListCompletedSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions
		WHERE status = $1 AND flagged = FALSE AND created_at >= $2 AND deleted_at IS NULL
		ORDER BY created_at DESC`, transactionColumns)

	rows, err := r.pool.Query(ctx, query, domain.TransactionStatusCompleted, since)
	if err != nil {
		return nil, fmt.Errorf("list completed transactions: %w", err)
	}
	defer rows.Close()

	return r.collectTransactions(rows)
}

// MarkFlagged transitions a transaction from Completed to Flagged. Returns
// false when the transaction is no longer Completed; no other transition is
// ever performed here.
func (r *TransactionRepo) MarkFlagged(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	query := `UPDATE transactions
		SET status = $1, flagged = TRUE, flag_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND deleted_at IS NULL`

	tag, err := r.pool.Exec(ctx, query,
		domain.TransactionStatusFlagged, reason, at,
		id, domain.TransactionStatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("mark transaction flagged: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser returns transactions where the user is sender or recipient,
// newest first, plus the total count.
func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error) {
	countQuery := `SELECT COUNT(*) FROM transactions
		WHERE (sender_id = $1 OR recipient_id = $1) AND deleted_at IS NULL`

	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count user transactions: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions
		WHERE (sender_id = $1 OR recipient_id = $1) AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, transactionColumns)

	rows, err := r.pool.Query(ctx, dataQuery, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list user transactions: %w", err)
	}
	defer rows.Close()

	txns, err := r.collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ListFlagged returns flagged transactions, newest first, plus the total count.
func (r *TransactionRepo) ListFlagged(ctx context.Context, limit, offset int) ([]domain.Transaction, int64, error) {
	countQuery := `SELECT COUNT(*) FROM transactions WHERE flagged = TRUE AND deleted_at IS NULL`

	var total int64
	if err := r.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count flagged transactions: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions
		WHERE flagged = TRUE AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, transactionColumns)

	rows, err := r.pool.Query(ctx, dataQuery, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list flagged transactions: %w", err)
	}
	defer rows.Close()

	txns, err := r.collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *TransactionRepo) collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		err := rows.Scan(
			&t.ID, &t.SenderID, &t.RecipientID, &t.WalletID,
			&t.Kind, &t.Amount, &t.Currency, &t.Status,
			&t.Flagged, &t.FlagReason, &t.Description,
			&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.SenderID, &t.RecipientID, &t.WalletID,
		&t.Kind, &t.Amount, &t.Currency, &t.Status,
		&t.Flagged, &t.FlagReason, &t.Description,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}
