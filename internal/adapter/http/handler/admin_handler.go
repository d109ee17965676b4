package handler

import (
	"time"

	"walletledger/internal/adapter/http/dto"
	"walletledger/internal/core/ports"
	"walletledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles fraud-operations endpoints.
type AdminHandler struct {
	scannerSvc ports.ScannerService
	txRepo     ports.TransactionRepository
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(scannerSvc ports.ScannerService, txRepo ports.TransactionRepository) *AdminHandler {
	return &AdminHandler{scannerSvc: scannerSvc, txRepo: txRepo}
}

// RunFraudScan handles POST /api/v1/admin/fraud-scan — triggers one scan pass
// on demand, in addition to the scheduled runs.
func (h *AdminHandler) RunFraudScan(c *gin.Context) {
	summary, err := h.scannerSvc.RunFraudScan(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ScanSummaryResponse{
		ScannedCount: summary.ScannedCount,
		FlaggedCount: summary.FlaggedCount,
		ErrorCount:   summary.ErrorCount,
		Timestamp:    summary.Timestamp.Format(time.RFC3339),
	})
}

// ListFlagged handles GET /api/v1/admin/flagged.
func (h *AdminHandler) ListFlagged(c *gin.Context) {
	page, pageSize := pagination(c)
	txns, total, err := h.txRepo.ListFlagged(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionList(txns, total, page, pageSize))
}
