package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentPending  = "pending"
	PaymentApproved = "approved"
	PaymentRejected = "rejected"
	PaymentExpired  = "expired"
)

// PaymentRequest is a request to receive a transfer on an allocated account number.
type PaymentRequest struct {
	ID                   uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Reference            string           `gorm:"uniqueIndex" json:"reference"`
	BusinessID           *uuid.UUID       `gorm:"type:uuid;index" json:"business_id,omitempty"`
	AccountNumber        string           `gorm:"index" json:"account_number"`
	Amount               decimal.Decimal  `gorm:"type:numeric(20,2)" json:"amount"`
	PayerName            string           `json:"payer_name"`
	Status               string           `gorm:"index" json:"status"`
	IsMismatch           bool             `json:"is_mismatch"`
	MismatchReason       string           `json:"mismatch_reason,omitempty"`
	ReceivedAmount       *decimal.Decimal `gorm:"type:numeric(20,2)" json:"received_amount,omitempty"`
	MatchedTransactionID *uuid.UUID       `gorm:"type:uuid" json:"matched_transaction_id,omitempty"`
	RejectionReason      string           `json:"rejection_reason,omitempty"`
	RejectedBy           string           `json:"rejected_by,omitempty"`
	CreatedAt            time.Time        `gorm:"index" json:"created_at"`
	ExpiresAt            *time.Time       `gorm:"index" json:"expires_at,omitempty"`
	MatchedAt            *time.Time       `json:"matched_at,omitempty"`
	RejectedAt           *time.Time       `json:"rejected_at,omitempty"`
	ExpiredAt            *time.Time       `json:"expired_at,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}
