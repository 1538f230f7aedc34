package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	MatchOutcomeMatched   = "matched"
	MatchOutcomeUnmatched = "unmatched"
	MatchOutcomeRejected  = "rejected"
	MatchOutcomePartial   = "partial"
)

const (
	ReviewPending   = "pending"
	ReviewReviewed  = "reviewed"
	ReviewCorrect   = "correct"
	ReviewIncorrect = "incorrect"
)

// MatchAttempt is the audit row for one scoring attempt. Only the review
// fields may change after insert.
type MatchAttempt struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID    uuid.UUID  `gorm:"type:uuid;index" json:"transaction_id"`
	PaymentRequestID *uuid.UUID `gorm:"type:uuid;index" json:"payment_request_id,omitempty"`
	Outcome          string     `gorm:"index" json:"outcome"`
	Reason           string     `json:"reason"`

	PaymentAmount        *decimal.Decimal `gorm:"type:numeric(20,2)" json:"payment_amount,omitempty"`
	PaymentPayerName     string           `json:"payment_payer_name,omitempty"`
	PaymentAccountNumber string           `json:"payment_account_number,omitempty"`
	PaymentCreatedAt     *time.Time       `json:"payment_created_at,omitempty"`

	ExtractedAmount        decimal.Decimal `gorm:"type:numeric(20,2)" json:"extracted_amount"`
	ExtractedName          string          `json:"extracted_name,omitempty"`
	ExtractedAccountNumber string          `json:"extracted_account_number"`
	TransactionTime        time.Time       `json:"transaction_time"`

	AmountDiff            *decimal.Decimal `gorm:"type:numeric(20,2)" json:"amount_diff,omitempty"`
	NameSimilarityPercent *int             `json:"name_similarity_percent,omitempty"`
	TimeDiffMinutes       *int             `json:"time_diff_minutes,omitempty"`

	ExtractionMethod string         `json:"extraction_method"`
	Details          datatypes.JSON `json:"details,omitempty"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`

	ReviewStatus string     `gorm:"index" json:"review_status"`
	ReviewNotes  string     `json:"review_notes,omitempty"`
	ReviewedBy   string     `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
