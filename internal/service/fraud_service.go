package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	reasonTransferVelocity = "Multiple transfers in a short period"
	reasonLargeTransfer    = "Large transfer amount"
	reasonLargeWithdrawal  = "Sudden large withdrawal"

	velocityWindow = time.Hour
)

// FraudServiceImpl implements ports.FraudService. Evaluation is read-only:
// rules consult ledger history and wallet state but never mutate anything.
// All triggered reasons are reported comma-joined in rule order; the engine
// decides what to do with the assessment.
type FraudServiceImpl struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository

	maxTransfersPerHour int64
	largeTransferLimit  decimal.Decimal
	withdrawalRatio     decimal.Decimal

	log zerolog.Logger
}

// NewFraudService creates a new FraudServiceImpl.
// largeTransferThreshold is a decimal string; an unparsable value is an error
// at construction time rather than a silent misconfiguration at evaluation time.
func NewFraudService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	maxTransfersPerHour int,
	largeTransferThreshold string,
	suspiciousWithdrawalRatio float64,
	log zerolog.Logger,
) (*FraudServiceImpl, error) {
	limit, err := decimal.NewFromString(largeTransferThreshold)
	if err != nil {
		return nil, fmt.Errorf("parsing large transfer threshold %q: %w", largeTransferThreshold, err)
	}
	return &FraudServiceImpl{
		txRepo:              txRepo,
		walletRepo:          walletRepo,
		maxTransfersPerHour: int64(maxTransfersPerHour),
		largeTransferLimit:  limit,
		withdrawalRatio:     decimal.NewFromFloat(suspiciousWithdrawalRatio),
		log:                 log,
	}, nil
}

// Evaluate runs all rules against the candidate and reports every triggered
// reason. Rules are additive, never short-circuiting.
func (s *FraudServiceImpl) Evaluate(ctx context.Context, candidate *domain.Transaction) (domain.FraudAssessment, error) {
	var reasons []string

	switch candidate.Kind {
	case domain.TransactionKindTransfer:
		velocityHit, err := s.transferVelocityExceeded(ctx, candidate)
		if err != nil {
			return domain.FraudAssessment{}, err
		}
		if velocityHit {
			reasons = append(reasons, reasonTransferVelocity)
		}
		if candidate.Amount.GreaterThanOrEqual(s.largeTransferLimit) {
			reasons = append(reasons, reasonLargeTransfer)
		}

	case domain.TransactionKindWithdrawal:
		ratioHit, err := s.withdrawalRatioExceeded(ctx, candidate)
		if err != nil {
			return domain.FraudAssessment{}, err
		}
		if ratioHit {
			reasons = append(reasons, reasonLargeWithdrawal)
		}
	}

	if len(reasons) == 0 {
		return domain.FraudAssessment{}, nil
	}

	joined := strings.Join(reasons, ", ")
	s.log.Debug().
		Str("tx_id", candidate.ID.String()).
		Str("kind", string(candidate.Kind)).
		Str("reasons", joined).
		Msg("fraud rules triggered")

	return domain.FraudAssessment{Flagged: true, Reason: &joined}, nil
}

// transferVelocityExceeded checks the sender's transfer count in the hour
// trailing the candidate against the threshold. The window is anchored at the
// candidate's own timestamp with a strict upper bound, so the count covers
// prior transfers only — a count at or above the threshold means this would be
// one past the limit. Anchoring also keeps a retroactive re-evaluation honest:
// transfers the sender made after the candidate never count against it, and a
// persisted candidate never counts itself.
func (s *FraudServiceImpl) transferVelocityExceeded(ctx context.Context, candidate *domain.Transaction) (bool, error) {
	until := candidate.CreatedAt
	since := until.Add(-velocityWindow)
	count, err := s.txRepo.CountRecentByKind(ctx, candidate.SenderID, domain.TransactionKindTransfer, since, until)
	if err != nil {
		return false, fmt.Errorf("count recent transfers: %w", err)
	}
	return count >= s.maxTransfersPerHour, nil
}

// withdrawalRatioExceeded flags a withdrawal consuming a suspicious share of
// the wallet. A missing wallet makes the rule silently pass: existence is the
// engine's concern, not a fraud signal.
func (s *FraudServiceImpl) withdrawalRatioExceeded(ctx context.Context, candidate *domain.Transaction) (bool, error) {
	wallet, err := s.walletRepo.GetByID(ctx, candidate.WalletID)
	if err != nil {
		return false, fmt.Errorf("get wallet for withdrawal rule: %w", err)
	}
	if wallet == nil || !wallet.Balance.IsPositive() {
		return false, nil
	}
	ratio := candidate.Amount.Div(wallet.Balance)
	return ratio.GreaterThanOrEqual(s.withdrawalRatio), nil
}
