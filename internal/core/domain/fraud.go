package domain

import (
	"time"

	"github.com/google/uuid"
)

// FraudAssessment is the outcome of evaluating one transaction candidate.
// Reason is nil when the transaction looks clean; when multiple rules trigger,
// their reasons are comma-joined.
type FraudAssessment struct {
	Flagged bool
	Reason  *string
}

// FlagSource identifies which path raised a fraud flag.
type FlagSource string

const (
	FlagSourceRealtime FlagSource = "REALTIME" // Blocked before the balance mutation
	FlagSourceScan     FlagSource = "SCAN"     // Retroactive, detection-only
)

// FraudAuditEntry records one flag event for the audit trail.
type FraudAuditEntry struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	Reason        string     `json:"reason"`
	Source        FlagSource `json:"source"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ScanSummary reports the outcome of one periodic fraud scan.
type ScanSummary struct {
	ScannedCount int       `json:"scanned_count"`
	FlaggedCount int       `json:"flagged_count"`
	ErrorCount   int       `json:"error_count"`
	Timestamp    time.Time `json:"timestamp"`
}
