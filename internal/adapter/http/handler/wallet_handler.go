package handler

import (
	"strconv"
	"time"

	"walletledger/internal/adapter/http/dto"
	"walletledger/internal/adapter/http/middleware"
	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"
	"walletledger/pkg/apperror"
	"walletledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const headerIdempotencyKey = "Idempotency-Key"

// WalletHandler handles wallet and ledger endpoints.
type WalletHandler struct {
	ledgerSvc ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledgerSvc ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledgerSvc: ledgerSvc}
}

// CreateWallet handles POST /api/v1/wallets.
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallet, err := h.ledgerSvc.CreateWallet(c.Request.Context(), userID, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toWalletResponse(wallet))
}

// GetBalance handles GET /api/v1/wallets/balance?currency=USD.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	currency := c.Query("currency")
	if currency == "" {
		response.Error(c, apperror.Validation("currency query parameter is required"))
		return
	}

	wallet, err := h.ledgerSvc.GetWallet(c.Request.Context(), userID, currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(wallet))
}

// CloseWallet handles DELETE /api/v1/wallets/:id.
func (h *WalletHandler) CloseWallet(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid wallet id"))
		return
	}

	if err := h.ledgerSvc.CloseWallet(c.Request.Context(), userID, walletID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"closed": true})
}

// Deposit handles POST /api/v1/wallets/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, appErr := parseAmount(req.Amount)
	if appErr != nil {
		response.Error(c, appErr)
		return
	}

	result, err := h.ledgerSvc.Deposit(c.Request.Context(), ports.DepositRequest{
		UserID:         userID,
		WalletID:       uuid.MustParse(req.WalletID),
		Amount:         amount,
		Description:    req.Description,
		IdempotencyKey: c.GetHeader(headerIdempotencyKey),
	})
	h.respondOperation(c, result, err)
}

// Withdraw handles POST /api/v1/wallets/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, appErr := parseAmount(req.Amount)
	if appErr != nil {
		response.Error(c, appErr)
		return
	}

	result, err := h.ledgerSvc.Withdraw(c.Request.Context(), ports.WithdrawRequest{
		UserID:         userID,
		WalletID:       uuid.MustParse(req.WalletID),
		Amount:         amount,
		Description:    req.Description,
		IdempotencyKey: c.GetHeader(headerIdempotencyKey),
	})
	h.respondOperation(c, result, err)
}

// Transfer handles POST /api/v1/wallets/transfer.
func (h *WalletHandler) Transfer(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, appErr := parseAmount(req.Amount)
	if appErr != nil {
		response.Error(c, appErr)
		return
	}

	result, err := h.ledgerSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		SenderID:       userID,
		RecipientID:    uuid.MustParse(req.RecipientID),
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		IdempotencyKey: c.GetHeader(headerIdempotencyKey),
	})
	h.respondOperation(c, result, err)
}

// GetHistory handles GET /api/v1/transactions.
func (h *WalletHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, pageSize := pagination(c)
	txns, total, err := h.ledgerSvc.GetHistory(c.Request.Context(), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionList(txns, total, page, pageSize))
}

// respondOperation renders a mutation outcome. A fraud-flagged operation
// carries both the error and the recorded transaction, so the caller can see
// what was blocked.
func (h *WalletHandler) respondOperation(c *gin.Context, result *ports.OperationResult, err error) {
	if err != nil {
		if result != nil {
			response.ErrorWithData(c, err, toOperationResponse(result))
			return
		}
		response.Error(c, err)
		return
	}
	response.Created(c, toOperationResponse(result))
}

func parseAmount(raw string) (decimal.Decimal, *apperror.AppError) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.Validation("amount must be a decimal number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperror.ErrInvalidAmount()
	}
	return amount, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func pagination(c *gin.Context) (page, pageSize int) {
	page = queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize = queryInt(c, "page_size", 20)
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		ID:       w.ID.String(),
		Currency: w.Currency,
		Balance:  w.Balance.String(),
	}
}

func toTransactionResponse(t *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		ID:          t.ID.String(),
		SenderID:    t.SenderID.String(),
		RecipientID: t.RecipientID.String(),
		WalletID:    t.WalletID.String(),
		Kind:        string(t.Kind),
		Amount:      t.Amount.String(),
		Currency:    t.Currency,
		Status:      string(t.Status),
		Flagged:     t.Flagged,
		FlagReason:  t.FlagReason,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
}

func toOperationResponse(result *ports.OperationResult) dto.OperationResponse {
	return dto.OperationResponse{
		Transaction: toTransactionResponse(result.Transaction),
		NewBalance:  result.NewBalance.String(),
	}
}

func toTransactionList(txns []domain.Transaction, total int64, page, pageSize int) dto.TransactionListResponse {
	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
