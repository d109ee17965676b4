package apperror

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Ledger Business Logic (LED) ----

func ErrInsufficientFunds() *AppError {
	return New("LED_001", "Insufficient funds in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("LED_002", "Amount must be positive", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_003", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrSelfTransfer() *AppError {
	return New("LED_004", "Cannot transfer to yourself", http.StatusBadRequest)
}

// ErrFraudFlagged is a distinguished outcome, not a generic failure: the
// transaction is recorded for audit and its id is part of the message.
func ErrFraudFlagged(transactionID uuid.UUID) *AppError {
	return New("LED_005",
		fmt.Sprintf("Transaction %s flagged for review", transactionID),
		http.StatusUnprocessableEntity)
}

func ErrWalletExists() *AppError {
	return New("LED_006", "Wallet already exists for this currency", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrUserInactive() *AppError {
	return New("AUTH_002", "User account is inactive", http.StatusForbidden)
}

// ---- System & Infrastructure (SYS) ----

// ErrStorageError wraps a persistence failure. The only error kind eligible
// for caller-side retry, and only under an idempotency key.
func ErrStorageError(err error) *AppError {
	return Wrap("SYS_001", "Storage error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_002 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_002", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_002-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("LED_002", message, http.StatusBadRequest)
}
