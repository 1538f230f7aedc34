package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountNumber is a bank account number payments can be directed to.
type AccountNumber struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Number         string     `gorm:"uniqueIndex" json:"account_number"`
	AccountName    string     `json:"account_name"`
	BankName       string     `json:"bank_name"`
	BusinessID     *uuid.UUID `gorm:"type:uuid;index" json:"business_id,omitempty"`
	IsPool         bool       `gorm:"index" json:"is_pool"`
	IsInvoicePool  bool       `json:"is_invoice_pool"`
	IsActive       bool       `gorm:"index" json:"is_active"`
	UsageCount     int64      `json:"usage_count"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// EnforcePoolInvariant moves an owner-less account into the pool.
func (a *AccountNumber) EnforcePoolInvariant() {
	if a.BusinessID == nil {
		a.IsPool = true
	}
}

// Dedicated reports whether the account belongs to exactly one business.
func (a *AccountNumber) Dedicated() bool {
	return a.BusinessID != nil && !a.IsPool
}

func (a *AccountNumber) BeforeSave(tx *gorm.DB) error {
	a.EnforcePoolInvariant()
	return nil
}

// Business is the minimal owner record needed for account re-pooling.
type Business struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
