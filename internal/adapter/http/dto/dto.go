package dto

// CreateWalletRequest is the request body for wallet creation.
type CreateWalletRequest struct {
	Currency string `json:"currency" binding:"required,len=3,uppercase"`
}

// DepositRequest is the request body for a deposit.
type DepositRequest struct {
	WalletID    string `json:"wallet_id" binding:"required,uuid"`
	Amount      string `json:"amount" binding:"required"` // Decimal string
	Description string `json:"description,omitempty" binding:"max=255"`
}

// WithdrawRequest is the request body for a withdrawal.
type WithdrawRequest struct {
	WalletID    string `json:"wallet_id" binding:"required,uuid"`
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description,omitempty" binding:"max=255"`
}

// TransferRequest is the request body for a transfer.
type TransferRequest struct {
	RecipientID string `json:"recipient_id" binding:"required,uuid"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required,len=3,uppercase"`
	Description string `json:"description,omitempty" binding:"max=255"`
}

// WalletResponse is the response body for wallet queries.
type WalletResponse struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

// TransactionResponse is the response body for one ledger entry.
type TransactionResponse struct {
	ID          string  `json:"id"`
	SenderID    string  `json:"sender_id"`
	RecipientID string  `json:"recipient_id"`
	WalletID    string  `json:"wallet_id"`
	Kind        string  `json:"kind"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	Flagged     bool    `json:"flagged"`
	FlagReason  *string `json:"flag_reason,omitempty"`
	Description *string `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// OperationResponse is the response body for balance-mutating operations.
type OperationResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	NewBalance  string              `json:"new_balance"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// ScanSummaryResponse is the response body for a fraud scan run.
type ScanSummaryResponse struct {
	ScannedCount int    `json:"scanned_count"`
	FlaggedCount int    `json:"flagged_count"`
	ErrorCount   int    `json:"error_count"`
	Timestamp    string `json:"timestamp"`
}
