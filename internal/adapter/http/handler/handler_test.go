package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"
	"walletledger/internal/core/ports/mocks"
	"walletledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type handlerTestDeps struct {
	router     http.Handler
	ledgerSvc  *mocks.MockLedgerService
	scannerSvc *mocks.MockScannerService
	txRepo     *mocks.MockTransactionRepository
	tokenSvc   *mocks.MockTokenService
	ctrl       *gomock.Controller
}

type stubChecker struct {
	name string
	err  error
}

func (s *stubChecker) Name() string                  { return s.name }
func (s *stubChecker) Check(_ context.Context) error { return s.err }

func setupHandlers(t *testing.T, checkers ...ports.HealthChecker) *handlerTestDeps {
	ctrl := gomock.NewController(t)
	d := &handlerTestDeps{
		ledgerSvc:  mocks.NewMockLedgerService(ctrl),
		scannerSvc: mocks.NewMockScannerService(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		tokenSvc:   mocks.NewMockTokenService(ctrl),
		ctrl:       ctrl,
	}
	d.router = SetupRouter(RouterDeps{
		LedgerSvc:        d.ledgerSvc,
		ScannerSvc:       d.scannerSvc,
		TxRepo:           d.txRepo,
		TokenSvc:         d.tokenSvc,
		HealthCheckers:   checkers,
		OperationTimeout: 5 * time.Second,
		Logger:           zerolog.Nop(),
	})
	return d
}

func (d *handlerTestDeps) authed(userID uuid.UUID) {
	d.tokenSvc.EXPECT().Validate("valid-token").Return(userID, nil)
}

func doRequest(router http.Handler, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer valid-token")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWalletHandler_Unauthorized(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	w := doRequest(d.router, http.MethodGet, "/api/v1/wallets/balance?currency=USD", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWalletHandler_CreateWallet(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	d.authed(userID)
	d.ledgerSvc.EXPECT().CreateWallet(gomock.Any(), userID, "USD").Return(&domain.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Currency: "USD",
		Balance:  decimal.Zero,
	}, nil)

	w := doRequest(d.router, http.MethodPost, "/api/v1/wallets",
		map[string]string{"currency": "USD"}, true)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"currency":"USD"`)
}

func TestWalletHandler_CreateWallet_BadCurrency(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	d.authed(uuid.New())

	w := doRequest(d.router, http.MethodPost, "/api/v1/wallets",
		map[string]string{"currency": "us"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletHandler_Deposit(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	walletID := uuid.New()
	d.authed(userID)
	d.ledgerSvc.EXPECT().Deposit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req ports.DepositRequest) (*ports.OperationResult, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "operation context carries no deadline")
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, walletID, req.WalletID)
			assert.True(t, req.Amount.Equal(decimal.NewFromInt(50)))
			return &ports.OperationResult{
				Transaction: &domain.Transaction{
					ID:     uuid.New(),
					Kind:   domain.TransactionKindDeposit,
					Status: domain.TransactionStatusCompleted,
					Amount: req.Amount,
				},
				NewBalance: decimal.NewFromInt(150),
			}, nil
		})

	w := doRequest(d.router, http.MethodPost, "/api/v1/wallets/deposit",
		map[string]string{"wallet_id": walletID.String(), "amount": "50"}, true)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"new_balance":"150"`)
}

func TestWalletHandler_Deposit_InvalidAmount(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	d.authed(uuid.New())

	w := doRequest(d.router, http.MethodPost, "/api/v1/wallets/deposit",
		map[string]string{"wallet_id": uuid.NewString(), "amount": "-5"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "LED_002")
}

// A fraud-flagged transfer returns 422 with the recorded transaction attached.
func TestWalletHandler_Transfer_Flagged(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	recipientID := uuid.New()
	txnID := uuid.New()
	reason := "Large transfer amount"
	d.authed(userID)
	d.ledgerSvc.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(&ports.OperationResult{
		Transaction: &domain.Transaction{
			ID:         txnID,
			Kind:       domain.TransactionKindTransfer,
			Status:     domain.TransactionStatusFlagged,
			Flagged:    true,
			FlagReason: &reason,
			Amount:     decimal.NewFromInt(15000),
		},
		NewBalance: decimal.NewFromInt(50000),
	}, apperror.ErrFraudFlagged(txnID))

	w := doRequest(d.router, http.MethodPost, "/api/v1/wallets/transfer",
		map[string]string{
			"recipient_id": recipientID.String(),
			"amount":       "15000",
			"currency":     "USD",
		}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "LED_005")
	assert.Contains(t, w.Body.String(), `"status":"FLAGGED"`)
}

func TestWalletHandler_Withdraw_InsufficientFunds(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	d.authed(uuid.New())
	d.ledgerSvc.EXPECT().Withdraw(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrInsufficientFunds())

	w := doRequest(d.router, http.MethodPost, "/api/v1/wallets/withdraw",
		map[string]string{"wallet_id": uuid.NewString(), "amount": "500"}, true)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "LED_001")
}

func TestWalletHandler_GetHistory(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	d.authed(userID)
	d.ledgerSvc.EXPECT().GetHistory(gomock.Any(), userID, 20, 0).
		Return([]domain.Transaction{{
			ID:     uuid.New(),
			Kind:   domain.TransactionKindDeposit,
			Status: domain.TransactionStatusCompleted,
			Amount: decimal.NewFromInt(10),
		}}, int64(1), nil)

	w := doRequest(d.router, http.MethodGet, "/api/v1/transactions", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestWalletHandler_CloseWallet(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	userID := uuid.New()
	walletID := uuid.New()
	d.authed(userID)
	d.ledgerSvc.EXPECT().CloseWallet(gomock.Any(), userID, walletID).Return(nil)

	w := doRequest(d.router, http.MethodDelete, "/api/v1/wallets/"+walletID.String(), nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_RunFraudScan(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	d.authed(uuid.New())
	d.scannerSvc.EXPECT().RunFraudScan(gomock.Any()).Return(&domain.ScanSummary{
		ScannedCount: 12,
		FlaggedCount: 2,
		Timestamp:    time.Now().UTC(),
	}, nil)

	w := doRequest(d.router, http.MethodPost, "/api/v1/admin/fraud-scan", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scanned_count":12`)
	assert.Contains(t, w.Body.String(), `"flagged_count":2`)
}

func TestAdminHandler_ListFlagged(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	reason := "Sudden large withdrawal"
	d.authed(uuid.New())
	d.txRepo.EXPECT().ListFlagged(gomock.Any(), 20, 0).
		Return([]domain.Transaction{{
			ID:         uuid.New(),
			Kind:       domain.TransactionKindWithdrawal,
			Status:     domain.TransactionStatusFlagged,
			Flagged:    true,
			FlagReason: &reason,
			Amount:     decimal.NewFromInt(700),
		}}, int64(1), nil)

	w := doRequest(d.router, http.MethodGet, "/api/v1/admin/flagged", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flagged":true`)
}

func TestHealthCheck_Healthy(t *testing.T) {
	d := setupHandlers(t,
		&stubChecker{name: "postgresql"},
		&stubChecker{name: "redis"},
	)
	defer d.ctrl.Finish()

	w := doRequest(d.router, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHealthCheck_Degraded(t *testing.T) {
	d := setupHandlers(t,
		&stubChecker{name: "postgresql"},
		&stubChecker{name: "redis", err: errors.New("connection refused")},
	)
	defer d.ctrl.Finish()

	w := doRequest(d.router, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestRequestID_Propagated(t *testing.T) {
	d := setupHandlers(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	require.Equal(t, "req-abc-123", w.Header().Get("X-Request-ID"))
}
