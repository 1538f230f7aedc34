package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EmailReceived  = "received"
	EmailFailed    = "failed"
	EmailDuplicate = "duplicate"
	EmailProcessed = "processed"
)

// InboundEmail retains every notification handed to the engine, including
// the ones that could not be extracted.
type InboundEmail struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID     string     `gorm:"index" json:"message_id,omitempty"`
	FromAddress   string     `json:"from_address"`
	Subject       string     `json:"subject"`
	ReceivedAt    time.Time  `json:"received_at"`
	Status        string     `gorm:"index" json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	TransactionID *uuid.UUID `gorm:"type:uuid" json:"transaction_id,omitempty"`
	BatchID       *uuid.UUID `gorm:"type:uuid;index" json:"batch_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IngestionBatch tracks a bulk ingestion run.
type IngestionBatch struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Source      string         `json:"source"`
	Total       int            `json:"total"`
	Processed   int            `json:"processed"`
	Matched     int            `json:"matched"`
	Unmatched   int            `json:"unmatched"`
	Duplicates  int            `json:"duplicates"`
	Failed      int            `json:"failed"`
	Errors      int            `json:"errors"`
	Status      string         `json:"status"`
	Stats       datatypes.JSON `json:"stats,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
