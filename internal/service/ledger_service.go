package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"
	"walletledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	idempotencyTTL = 24 * time.Hour

	// Bounded retry for lost optimistic-concurrency races.
	maxMutationAttempts = 3
	retryBaseDelay      = 50 * time.Millisecond
)

// LedgerServiceImpl implements ports.LedgerService. It is the single path
// through which wallet balances change: every operation validates input,
// consults the fraud engine, and applies its mutation inside one database
// transaction together with the ledger entry.
type LedgerServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	users      ports.UserDirectory
	fraudSvc   ports.FraudService
	auditSvc   ports.AuditService
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	users ports.UserDirectory,
	fraudSvc ports.FraudService,
	auditSvc ports.AuditService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		users:      users,
		fraudSvc:   fraudSvc,
		auditSvc:   auditSvc,
		transactor: transactor,
		log:        log,
	}
}

// CreateWallet provisions an empty wallet for the (user, currency) pair.
func (s *LedgerServiceImpl) CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	if currency == "" {
		return nil, apperror.Validation("Currency is required")
	}

	user, err := s.users.Lookup(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	if !user.IsActive {
		return nil, apperror.ErrUserInactive()
	}

	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		if errors.Is(err, ports.ErrWalletExists) {
			return nil, apperror.ErrWalletExists()
		}
		return nil, apperror.ErrStorageError(fmt.Errorf("create wallet: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", currency).
		Msg("wallet created")

	return wallet, nil
}

// GetWallet returns the user's active wallet in the given currency.
func (s *LedgerServiceImpl) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUser(ctx, userID, currency)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// CloseWallet soft-deletes the wallet. The wallet must belong to the caller
// and carry a zero balance; funds are never silently forfeited.
func (s *LedgerServiceImpl) CloseWallet(ctx context.Context, userID, walletID uuid.UUID) error {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return apperror.ErrStorageError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil || !wallet.OwnedBy(userID) {
		return apperror.ErrNotFound("wallet")
	}
	if !wallet.Balance.IsZero() {
		return apperror.Validation("Wallet balance must be zero before closing")
	}

	if err := s.walletRepo.SoftDelete(ctx, walletID, time.Now().UTC()); err != nil {
		if errors.Is(err, ports.ErrWalletNotFound) {
			return apperror.ErrNotFound("wallet")
		}
		return apperror.ErrStorageError(fmt.Errorf("close wallet: %w", err))
	}

	s.log.Info().
		Str("wallet_id", walletID.String()).
		Str("user_id", userID.String()).
		Msg("wallet closed")

	return nil
}

// Deposit credits the wallet with req.Amount.
func (s *LedgerServiceImpl) Deposit(ctx context.Context, req ports.DepositRequest) (*ports.OperationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	idempKey := s.idempotencyKey(req.UserID, domain.TransactionKindDeposit, req.IdempotencyKey)
	if cached, err := s.replayedResult(ctx, idempKey); cached != nil || err != nil {
		return cached, err
	}

	wallet, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	txn := s.newTransaction(req.UserID, req.UserID, wallet.ID, domain.TransactionKindDeposit,
		req.Amount, wallet.Currency, req.Description)

	assessment, err := s.fraudSvc.Evaluate(ctx, txn)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fraud evaluation: %w", err))
	}
	if assessment.Flagged {
		return s.recordFlagged(ctx, txn, wallet.Balance, *assessment.Reason, idempKey)
	}

	return s.commitMutation(ctx, txn, idempKey,
		balanceDelta{walletID: wallet.ID, delta: req.Amount})
}

// Withdraw debits the wallet by req.Amount. Insufficient funds short-circuits
// before fraud evaluation with a distinct error, never a fraud flag.
func (s *LedgerServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawRequest) (*ports.OperationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	idempKey := s.idempotencyKey(req.UserID, domain.TransactionKindWithdrawal, req.IdempotencyKey)
	if cached, err := s.replayedResult(ctx, idempKey); cached != nil || err != nil {
		return cached, err
	}

	wallet, err := s.ownedWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	txn := s.newTransaction(req.UserID, req.UserID, wallet.ID, domain.TransactionKindWithdrawal,
		req.Amount, wallet.Currency, req.Description)

	assessment, err := s.fraudSvc.Evaluate(ctx, txn)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fraud evaluation: %w", err))
	}
	if assessment.Flagged {
		return s.recordFlagged(ctx, txn, wallet.Balance, *assessment.Reason, idempKey)
	}

	return s.commitMutation(ctx, txn, idempKey,
		balanceDelta{walletID: wallet.ID, delta: req.Amount.Neg()})
}

// Transfer moves req.Amount from the sender's wallet to the recipient's.
// A recipient without a wallet in the currency gets one provisioned at zero
// balance, so transfers never fail merely because the recipient has not yet
// opened one.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.OperationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.SenderID == req.RecipientID {
		return nil, apperror.ErrSelfTransfer()
	}

	idempKey := s.idempotencyKey(req.SenderID, domain.TransactionKindTransfer, req.IdempotencyKey)
	if cached, err := s.replayedResult(ctx, idempKey); cached != nil || err != nil {
		return cached, err
	}

	recipient, err := s.users.Lookup(ctx, req.RecipientID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup recipient: %w", err))
	}
	if recipient == nil {
		return nil, apperror.ErrNotFound("recipient")
	}
	if !recipient.IsActive {
		return nil, apperror.ErrUserInactive()
	}

	senderWallet, err := s.walletRepo.GetByUser(ctx, req.SenderID, req.Currency)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("get sender wallet: %w", err))
	}
	if senderWallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if senderWallet.Balance.LessThan(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	recipientWallet, err := s.walletRepo.GetByUser(ctx, req.RecipientID, req.Currency)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("get recipient wallet: %w", err))
	}
	if recipientWallet == nil {
		recipientWallet, err = s.provisionWallet(ctx, req.RecipientID, req.Currency)
		if err != nil {
			return nil, err
		}
	}

	txn := s.newTransaction(req.SenderID, req.RecipientID, senderWallet.ID, domain.TransactionKindTransfer,
		req.Amount, req.Currency, req.Description)

	assessment, err := s.fraudSvc.Evaluate(ctx, txn)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fraud evaluation: %w", err))
	}
	if assessment.Flagged {
		return s.recordFlagged(ctx, txn, senderWallet.Balance, *assessment.Reason, idempKey)
	}

	return s.commitMutation(ctx, txn, idempKey,
		balanceDelta{walletID: senderWallet.ID, delta: req.Amount.Neg()},
		balanceDelta{walletID: recipientWallet.ID, delta: req.Amount})
}

// GetHistory lists the user's transactions, newest first.
func (s *LedgerServiceImpl) GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	txns, total, err := s.txRepo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperror.ErrStorageError(fmt.Errorf("list history: %w", err))
	}
	return txns, total, nil
}

// balanceDelta is one wallet mutation inside a commit. The first delta's
// wallet determines the balance reported in the operation result.
type balanceDelta struct {
	walletID uuid.UUID
	delta    decimal.Decimal
}

// commitMutation applies the deltas and the ledger entry in one database
// transaction, retrying bounded times on a lost concurrency race.
func (s *LedgerServiceImpl) commitMutation(ctx context.Context, txn *domain.Transaction, idempKey string, deltas ...balanceDelta) (*ports.OperationResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperror.ErrStorageError(ctx.Err())
			case <-time.After(retryBaseDelay << (attempt - 1)):
			}
		}

		result, err := s.tryCommit(ctx, txn, idempKey, deltas)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ports.ErrStorageConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Warn().
			Str("tx_id", txn.ID.String()).
			Int("attempt", attempt+1).
			Msg("storage conflict, retrying mutation")
	}
	return nil, apperror.ErrStorageError(fmt.Errorf("mutation retries exhausted: %w", lastErr))
}

func (s *LedgerServiceImpl) tryCommit(ctx context.Context, txn *domain.Transaction, idempKey string, deltas []balanceDelta) (*ports.OperationResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	var newBalance decimal.Decimal
	for i, d := range deltas {
		balance, err := s.walletRepo.ApplyBalanceDelta(ctx, dbTx, d.walletID, d.delta)
		if err != nil {
			switch {
			case errors.Is(err, ports.ErrInsufficientFunds):
				return nil, apperror.ErrInsufficientFunds()
			case errors.Is(err, ports.ErrWalletNotFound):
				return nil, apperror.ErrNotFound("wallet")
			case errors.Is(err, ports.ErrStorageConflict):
				return nil, err
			default:
				return nil, apperror.ErrStorageError(fmt.Errorf("apply balance delta: %w", err))
			}
		}
		if i == 0 {
			newBalance = balance
		}
	}

	now := time.Now().UTC()
	txn.Complete(now)
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("create transaction: %w", err))
	}

	result := &ports.OperationResult{Transaction: txn, NewBalance: newBalance}

	respJSON, err := s.saveIdempotencyLog(ctx, dbTx, txn.ID, idempKey, result, now)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("commit tx: %w", err))
	}

	s.cacheIdempotentResult(ctx, idempKey, respJSON)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("kind", string(txn.Kind)).
		Str("amount", txn.Amount.String()).
		Msg("ledger operation completed")

	return result, nil
}

// recordFlagged persists the transaction as Flagged without touching any
// balance, records the audit event, and returns the flagged outcome. The
// caller receives both the result and ErrFraudFlagged.
func (s *LedgerServiceImpl) recordFlagged(ctx context.Context, txn *domain.Transaction, balance decimal.Decimal, reason, idempKey string) (*ports.OperationResult, error) {
	now := time.Now().UTC()
	txn.Flag(reason, now)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("create flagged transaction: %w", err))
	}

	result := &ports.OperationResult{Transaction: txn, NewBalance: balance}

	respJSON, err := s.saveIdempotencyLog(ctx, dbTx, txn.ID, idempKey, result, now)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("commit tx: %w", err))
	}

	s.cacheIdempotentResult(ctx, idempKey, respJSON)
	s.auditSvc.RecordFlag(ctx, txn.ID, reason, domain.FlagSourceRealtime)

	s.log.Warn().
		Str("tx_id", txn.ID.String()).
		Str("kind", string(txn.Kind)).
		Str("reason", reason).
		Msg("transaction flagged, balance mutation blocked")

	return result, apperror.ErrFraudFlagged(txn.ID)
}

func (s *LedgerServiceImpl) provisionWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	now := time.Now().UTC()
	wallet := &domain.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		// A concurrent transfer may have provisioned it first.
		if errors.Is(err, ports.ErrWalletExists) {
			existing, getErr := s.walletRepo.GetByUser(ctx, userID, currency)
			if getErr != nil || existing == nil {
				return nil, apperror.ErrStorageError(fmt.Errorf("reload provisioned wallet: %w", getErr))
			}
			return existing, nil
		}
		return nil, apperror.ErrStorageError(fmt.Errorf("provision recipient wallet: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", currency).
		Msg("recipient wallet provisioned")

	return wallet, nil
}

func (s *LedgerServiceImpl) ownedWallet(ctx context.Context, userID, walletID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil || !wallet.OwnedBy(userID) {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

func (s *LedgerServiceImpl) newTransaction(senderID, recipientID, walletID uuid.UUID, kind domain.TransactionKind, amount decimal.Decimal, currency, description string) *domain.Transaction {
	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		Currency:    currency,
		Status:      domain.TransactionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if description != "" {
		txn.Description = &description
	}
	return txn
}

// idempotencyKey returns the full storage key, or "" when the caller did not
// supply one (idempotency disabled for the operation).
func (s *LedgerServiceImpl) idempotencyKey(userID uuid.UUID, kind domain.TransactionKind, clientKey string) string {
	if clientKey == "" {
		return ""
	}
	return domain.BuildIdempotencyKey(userID, kind, clientKey)
}

// replayedResult checks the two idempotency layers: Redis first, the durable
// log second. Returns the prior result when the operation was already applied.
func (s *LedgerServiceImpl) replayedResult(ctx context.Context, idempKey string) (*ports.OperationResult, error) {
	if idempKey == "" {
		return nil, nil
	}

	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.unmarshalCachedResult(cached)
	}

	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return s.unmarshalCachedResult(idempLog.ResponseJSON)
	}
	return nil, nil
}

// saveIdempotencyLog persists the idempotency record inside the commit when a
// key is in play; returns the serialized result for post-commit caching.
func (s *LedgerServiceImpl) saveIdempotencyLog(ctx context.Context, dbTx pgx.Tx, txnID uuid.UUID, idempKey string, result *ports.OperationResult, now time.Time) ([]byte, error) {
	respJSON, err := json.Marshal(result)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal result: %w", err))
	}
	if idempKey == "" {
		return respJSON, nil
	}

	entry := &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txnID,
		ResponseJSON:  respJSON,
		CreatedAt:     now,
	}
	if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
		return nil, apperror.ErrStorageError(fmt.Errorf("save idempotency log: %w", err))
	}
	return respJSON, nil
}

func (s *LedgerServiceImpl) cacheIdempotentResult(ctx context.Context, idempKey string, respJSON []byte) {
	if idempKey == "" {
		return
	}
	if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotent result in redis")
	}
}

func (s *LedgerServiceImpl) unmarshalCachedResult(data []byte) (*ports.OperationResult, error) {
	result := &ports.OperationResult{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached result: %w", err))
	}
	return result, nil
}
