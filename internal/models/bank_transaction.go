package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TransactionMatchPending   = "pending"
	TransactionMatchMatched   = "matched"
	TransactionMatchUnmatched = "unmatched"
)

// ExtractedTransaction is the normalized result of parsing one bank notification.
// It is immutable after creation apart from the match back-reference.
type ExtractedTransaction struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InboundEmailID   *uuid.UUID      `gorm:"type:uuid;index" json:"inbound_email_id,omitempty"`
	TemplateID       *uuid.UUID      `gorm:"type:uuid" json:"template_id,omitempty"`
	AccountNumber    string          `gorm:"index" json:"account_number"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,2);index" json:"amount"`
	SenderName       string          `json:"sender_name"`
	Narration        string          `json:"narration"`
	BankName         string          `json:"bank_name"`
	ValueDate        time.Time       `gorm:"column:value_date" json:"value_date"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Fingerprint      string          `gorm:"uniqueIndex;size:64" json:"fingerprint"`
	ExtractionMethod datatypes.JSON  `json:"extraction_method"`
	HTMLSnippet      string          `json:"html_snippet,omitempty"`
	TextSnippet      string          `json:"text_snippet,omitempty"`
	MatchStatus      string          `gorm:"index" json:"match_status"`
	MatchedPaymentID *uuid.UUID      `gorm:"type:uuid" json:"matched_payment_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransactionFingerprint is the dedup record; the primary key makes a second
// insert of the same bank event a no-op.
type TransactionFingerprint struct {
	Hash          string    `gorm:"primaryKey;size:64"`
	TransactionID uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt     time.Time
}
