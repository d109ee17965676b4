package service

import (
	"context"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// ScannerServiceImpl implements ports.ScannerService. It re-evaluates
// recently completed transactions against the fraud rules using present-tense
// wallet state — an accepted staleness trade-off, since wallets may have
// changed since the transaction ran. Detection-only: balances are never
// reversed.
type ScannerServiceImpl struct {
	txRepo   ports.TransactionRepository
	fraudSvc ports.FraudService
	auditSvc ports.AuditService
	window   time.Duration
	log      zerolog.Logger
}

// NewScannerService creates a new ScannerServiceImpl.
func NewScannerService(
	txRepo ports.TransactionRepository,
	fraudSvc ports.FraudService,
	auditSvc ports.AuditService,
	window time.Duration,
	log zerolog.Logger,
) *ScannerServiceImpl {
	return &ScannerServiceImpl{
		txRepo:   txRepo,
		fraudSvc: fraudSvc,
		auditSvc: auditSvc,
		window:   window,
		log:      log,
	}
}

// RunFraudScan pulls Completed, not-yet-flagged transactions from the trailing
// window and re-runs the fraud rules on each. One transaction's failure never
// aborts the rest of the batch.
func (s *ScannerServiceImpl) RunFraudScan(ctx context.Context) (*domain.ScanSummary, error) {
	started := time.Now().UTC()
	since := started.Add(-s.window)

	batch, err := s.txRepo.ListCompletedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := &domain.ScanSummary{Timestamp: started}
	for i := range batch {
		txn := &batch[i]
		summary.ScannedCount++

		assessment, err := s.fraudSvc.Evaluate(ctx, txn)
		if err != nil {
			summary.ErrorCount++
			s.log.Warn().Err(err).
				Str("tx_id", txn.ID.String()).
				Msg("scan evaluation failed, continuing batch")
			continue
		}
		if !assessment.Flagged {
			continue
		}

		// Guarded transition: only Completed -> Flagged; a transaction the
		// engine or a concurrent scan already moved stays untouched.
		flagged, err := s.txRepo.MarkFlagged(ctx, txn.ID, *assessment.Reason, time.Now().UTC())
		if err != nil {
			summary.ErrorCount++
			s.log.Warn().Err(err).
				Str("tx_id", txn.ID.String()).
				Msg("scan flag persist failed, continuing batch")
			continue
		}
		if !flagged {
			continue
		}

		summary.FlaggedCount++
		s.auditSvc.RecordFlag(ctx, txn.ID, *assessment.Reason, domain.FlagSourceScan)
		s.log.Info().
			Str("tx_id", txn.ID.String()).
			Str("reason", *assessment.Reason).
			Msg("transaction retroactively flagged")
	}

	s.log.Info().
		Int("scanned", summary.ScannedCount).
		Int("flagged", summary.FlaggedCount).
		Int("errors", summary.ErrorCount).
		Msg("fraud scan completed")

	return summary, nil
}
