package postgres

import (
	"context"
	"fmt"

	"walletledger/internal/core/domain"
)

// FraudAuditRepo implements ports.FraudAuditRepository.
type FraudAuditRepo struct {
	pool Pool
}

// NewFraudAuditRepo creates a new FraudAuditRepo.
func NewFraudAuditRepo(pool Pool) *FraudAuditRepo {
	return &FraudAuditRepo{pool: pool}
}

// Record appends a flag event to the audit trail.
func (r *FraudAuditRepo) Record(ctx context.Context, entry *domain.FraudAuditEntry) error {
	query := `INSERT INTO fraud_audit_entries (id, transaction_id, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.TransactionID, entry.Reason, entry.Source, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fraud audit entry: %w", err)
	}
	return nil
}
