package service

import (
	"context"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type auditService struct {
	repo ports.FraudAuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, flag events are only written to the logger.
func NewAuditService(repo ports.FraudAuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// RecordFlag records a flag event. Best-effort: a persistence failure is
// logged, never propagated into the operation outcome.
func (s *auditService) RecordFlag(ctx context.Context, transactionID uuid.UUID, reason string, source domain.FlagSource) {
	s.log.Info().
		Str("tx_id", transactionID.String()).
		Str("reason", reason).
		Str("source", string(source)).
		Msg("fraud flag recorded")

	if s.repo == nil {
		return
	}

	entry := &domain.FraudAuditEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Reason:        reason,
		Source:        source,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Record(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("tx_id", transactionID.String()).
			Msg("failed to persist fraud audit entry")
	}
}
