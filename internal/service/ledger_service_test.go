package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"
	"walletledger/internal/core/ports/mocks"
	"walletledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc        *LedgerServiceImpl
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	users      *mocks.MockUserDirectory
	fraudSvc   *mocks.MockFraudService
	auditSvc   *mocks.MockAuditService
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		users:      mocks.NewMockUserDirectory(ctrl),
		fraudSvc:   mocks.NewMockFraudService(ctrl),
		auditSvc:   mocks.NewMockAuditService(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewLedgerService(
		d.walletRepo, d.txRepo, d.idempRepo, d.idempCache,
		d.users, d.fraudSvc, d.auditSvc, d.transactor, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func activeWallet(userID uuid.UUID, balance int64) *domain.Wallet {
	return &domain.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Currency: "USD",
		Balance:  decimal.NewFromInt(balance),
		Version:  1,
	}
}

func appErrCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

// ==================== CreateWallet Tests ====================

func TestLedgerService_CreateWallet_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.users.EXPECT().Lookup(ctx, userID).Return(&domain.User{ID: userID, IsActive: true}, nil)
	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)

	wallet, err := d.svc.CreateWallet(ctx, userID, "USD")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.Equal(t, userID, wallet.UserID)
	assert.Equal(t, "USD", wallet.Currency)
	assert.True(t, wallet.Balance.IsZero())
}

func TestLedgerService_CreateWallet_AlreadyExists(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.users.EXPECT().Lookup(ctx, userID).Return(&domain.User{ID: userID, IsActive: true}, nil)
	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(ports.ErrWalletExists)

	_, err := d.svc.CreateWallet(ctx, userID, "USD")
	assert.Equal(t, "LED_006", appErrCode(t, err))
}

func TestLedgerService_CreateWallet_InactiveUser(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.users.EXPECT().Lookup(ctx, userID).Return(&domain.User{ID: userID, IsActive: false}, nil)

	_, err := d.svc.CreateWallet(ctx, userID, "USD")
	assert.Equal(t, "AUTH_002", appErrCode(t, err))
}

// ==================== CloseWallet Tests ====================

func TestLedgerService_CloseWallet_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 0)

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)
	d.walletRepo.EXPECT().SoftDelete(ctx, wallet.ID, gomock.Any()).Return(nil)

	err := d.svc.CloseWallet(ctx, userID, wallet.ID)
	assert.NoError(t, err)
}

func TestLedgerService_CloseWallet_NonZeroBalance(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 100)

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)

	err := d.svc.CloseWallet(ctx, userID, wallet.ID)
	assert.Equal(t, "LED_002", appErrCode(t, err))
}

func TestLedgerService_CloseWallet_NotOwner(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	wallet := activeWallet(uuid.New(), 0)

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)

	err := d.svc.CloseWallet(ctx, uuid.New(), wallet.ID)
	assert.Equal(t, "LED_003", appErrCode(t, err))
}

// ==================== Deposit Tests ====================

func TestLedgerService_Deposit_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 100)
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).Return(domain.FraudAssessment{}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, wallet.ID, decimal.NewFromInt(50)).
		Return(decimal.NewFromInt(150), nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.Deposit(ctx, ports.DepositRequest{
		UserID:   userID,
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Transaction.Status)
	assert.Equal(t, domain.TransactionKindDeposit, result.Transaction.Kind)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(150)))
}

func TestLedgerService_Deposit_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Deposit(context.Background(), ports.DepositRequest{
		UserID:   uuid.New(),
		WalletID: uuid.New(),
		Amount:   decimal.Zero,
	})
	assert.Equal(t, "LED_002", appErrCode(t, err))
}

func TestLedgerService_Deposit_WalletNotOwned(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	wallet := activeWallet(uuid.New(), 100)

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)

	_, err := d.svc.Deposit(ctx, ports.DepositRequest{
		UserID:   uuid.New(), // different user
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(50),
	})
	assert.Equal(t, "LED_003", appErrCode(t, err))
}

func TestLedgerService_Deposit_IdempotentReplay(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	prior := &ports.OperationResult{
		Transaction: &domain.Transaction{ID: uuid.New(), Status: domain.TransactionStatusCompleted},
		NewBalance:  decimal.NewFromInt(150),
	}
	cached, err := json.Marshal(prior)
	require.NoError(t, err)

	idempKey := domain.BuildIdempotencyKey(userID, domain.TransactionKindDeposit, "req-001")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cached, nil)

	result, err := d.svc.Deposit(ctx, ports.DepositRequest{
		UserID:         userID,
		WalletID:       uuid.New(),
		Amount:         decimal.NewFromInt(50),
		IdempotencyKey: "req-001",
	})
	require.NoError(t, err)
	assert.Equal(t, prior.Transaction.ID, result.Transaction.ID)
	assert.True(t, result.NewBalance.Equal(prior.NewBalance))
}

func TestLedgerService_Deposit_IdempotencyDBFallback(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	prior := &ports.OperationResult{
		Transaction: &domain.Transaction{ID: uuid.New(), Status: domain.TransactionStatusCompleted},
		NewBalance:  decimal.NewFromInt(70),
	}
	cached, err := json.Marshal(prior)
	require.NoError(t, err)

	idempKey := domain.BuildIdempotencyKey(userID, domain.TransactionKindDeposit, "req-002")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: prior.Transaction.ID,
		ResponseJSON:  cached,
	}, nil)

	result, err := d.svc.Deposit(ctx, ports.DepositRequest{
		UserID:         userID,
		WalletID:       uuid.New(),
		Amount:         decimal.NewFromInt(70),
		IdempotencyKey: "req-002",
	})
	require.NoError(t, err)
	assert.Equal(t, prior.Transaction.ID, result.Transaction.ID)
}

// ==================== Withdraw Tests ====================

func TestLedgerService_Withdraw_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 200)
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).Return(domain.FraudAssessment{}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, wallet.ID, decimal.NewFromInt(-50)).
		Return(decimal.NewFromInt(150), nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.Withdraw(ctx, ports.WithdrawRequest{
		UserID:   userID,
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Transaction.Status)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(150)))
}

// Insufficient funds must short-circuit before fraud evaluation: no Evaluate
// expectation is registered here.
func TestLedgerService_Withdraw_InsufficientFundsBeforeFraud(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 30)

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)

	_, err := d.svc.Withdraw(ctx, ports.WithdrawRequest{
		UserID:   userID,
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(50),
	})
	assert.Equal(t, "LED_001", appErrCode(t, err))
}

func TestLedgerService_Withdraw_Flagged(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 1000)
	tx := &mockTx{}
	reason := "Sudden large withdrawal"

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).
		Return(domain.FraudAssessment{Flagged: true, Reason: &reason}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.auditSvc.EXPECT().RecordFlag(ctx, gomock.Any(), reason, domain.FlagSourceRealtime)

	result, err := d.svc.Withdraw(ctx, ports.WithdrawRequest{
		UserID:   userID,
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(800),
	})
	assert.Equal(t, "LED_005", appErrCode(t, err))
	// The flagged transaction is recorded and returned; the balance is untouched.
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionStatusFlagged, result.Transaction.Status)
	assert.True(t, result.Transaction.Flagged)
	assert.Equal(t, reason, *result.Transaction.FlagReason)
	assert.True(t, result.NewBalance.Equal(wallet.Balance))
}

// ==================== Transfer Tests ====================

func TestLedgerService_Transfer_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	senderID := uuid.New()
	recipientID := uuid.New()
	senderWallet := activeWallet(senderID, 500)
	recipientWallet := activeWallet(recipientID, 10)
	tx := &mockTx{}

	d.users.EXPECT().Lookup(ctx, recipientID).Return(&domain.User{ID: recipientID, IsActive: true}, nil)
	d.walletRepo.EXPECT().GetByUser(ctx, senderID, "USD").Return(senderWallet, nil)
	d.walletRepo.EXPECT().GetByUser(ctx, recipientID, "USD").Return(recipientWallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).Return(domain.FraudAssessment{}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, senderWallet.ID, decimal.NewFromInt(-100)).
		Return(decimal.NewFromInt(400), nil)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, recipientWallet.ID, decimal.NewFromInt(100)).
		Return(decimal.NewFromInt(110), nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindTransfer, result.Transaction.Kind)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Transaction.Status)
	// The result reports the sender's new balance.
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(400)))
}

func TestLedgerService_Transfer_SelfTransfer(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SenderID:    userID,
		RecipientID: userID,
		Amount:      decimal.NewFromInt(10),
		Currency:    "USD",
	})
	assert.Equal(t, "LED_004", appErrCode(t, err))
}

func TestLedgerService_Transfer_RecipientWalletProvisioned(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	senderID := uuid.New()
	recipientID := uuid.New()
	senderWallet := activeWallet(senderID, 500)
	tx := &mockTx{}

	d.users.EXPECT().Lookup(ctx, recipientID).Return(&domain.User{ID: recipientID, IsActive: true}, nil)
	d.walletRepo.EXPECT().GetByUser(ctx, senderID, "USD").Return(senderWallet, nil)
	d.walletRepo.EXPECT().GetByUser(ctx, recipientID, "USD").Return(nil, nil)
	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).Return(domain.FraudAssessment{}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, senderWallet.ID, decimal.NewFromInt(-100)).
		Return(decimal.NewFromInt(400), nil)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, gomock.Any(), decimal.NewFromInt(100)).
		Return(decimal.NewFromInt(100), nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(400)))
}

func TestLedgerService_Transfer_RecipientNotFound(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	senderID := uuid.New()
	recipientID := uuid.New()

	d.users.EXPECT().Lookup(ctx, recipientID).Return(nil, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      decimal.NewFromInt(10),
		Currency:    "USD",
	})
	assert.Equal(t, "LED_003", appErrCode(t, err))
}

func TestLedgerService_Transfer_Flagged(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	senderID := uuid.New()
	recipientID := uuid.New()
	senderWallet := activeWallet(senderID, 50000)
	recipientWallet := activeWallet(recipientID, 0)
	tx := &mockTx{}
	reason := "Multiple transfers in a short period, Large transfer amount"

	d.users.EXPECT().Lookup(ctx, recipientID).Return(&domain.User{ID: recipientID, IsActive: true}, nil)
	d.walletRepo.EXPECT().GetByUser(ctx, senderID, "USD").Return(senderWallet, nil)
	d.walletRepo.EXPECT().GetByUser(ctx, recipientID, "USD").Return(recipientWallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).
		Return(domain.FraudAssessment{Flagged: true, Reason: &reason}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.auditSvc.EXPECT().RecordFlag(ctx, gomock.Any(), reason, domain.FlagSourceRealtime)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      decimal.NewFromInt(15000),
		Currency:    "USD",
	})
	assert.Equal(t, "LED_005", appErrCode(t, err))
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionStatusFlagged, result.Transaction.Status)
	assert.True(t, result.NewBalance.Equal(senderWallet.Balance))
}

// ==================== Retry Tests ====================

func TestLedgerService_Deposit_RetriesOnStorageConflict(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 100)
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).Return(domain.FraudAssessment{}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	gomock.InOrder(
		d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, wallet.ID, decimal.NewFromInt(50)).
			Return(decimal.Zero, ports.ErrStorageConflict),
		d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, wallet.ID, decimal.NewFromInt(50)).
			Return(decimal.NewFromInt(150), nil),
	)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.Deposit(ctx, ports.DepositRequest{
		UserID:   userID,
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(150)))
}

func TestLedgerService_Deposit_RetriesExhausted(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	wallet := activeWallet(userID, 100)
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByID(ctx, wallet.ID).Return(wallet, nil)
	d.fraudSvc.EXPECT().Evaluate(ctx, gomock.Any()).Return(domain.FraudAssessment{}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(maxMutationAttempts)
	d.walletRepo.EXPECT().ApplyBalanceDelta(ctx, tx, wallet.ID, decimal.NewFromInt(50)).
		Return(decimal.Zero, ports.ErrStorageConflict).Times(maxMutationAttempts)

	_, err := d.svc.Deposit(ctx, ports.DepositRequest{
		UserID:   userID,
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(50),
	})
	assert.Equal(t, "SYS_001", appErrCode(t, err))
}

// ==================== GetHistory Tests ====================

func TestLedgerService_GetHistory_DefaultsLimit(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.txRepo.EXPECT().ListByUser(ctx, userID, 20, 0).
		Return([]domain.Transaction{{ID: uuid.New()}}, int64(1), nil)

	txns, total, err := d.svc.GetHistory(ctx, userID, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, txns, 1)
}

func TestLedgerService_GetHistory_StorageError(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.txRepo.EXPECT().ListByUser(ctx, userID, 20, 0).
		Return(nil, int64(0), errors.New("boom"))

	_, _, err := d.svc.GetHistory(ctx, userID, 20, 0)
	assert.Equal(t, "SYS_001", appErrCode(t, err))
}
