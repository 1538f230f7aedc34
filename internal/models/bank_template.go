package models

import (
	"time"

	"github.com/google/uuid"
)

// BankTemplate holds the extraction rules for one bank sender. Patterns are
// regular expressions whose first capture group is the value; labels name a
// cell in the notification's HTML table (or a "Label: value" text line).
type BankTemplate struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id" yaml:"-"`
	BankName     string    `gorm:"index" json:"bank_name" yaml:"bank_name"`
	SenderEmail  string    `gorm:"index" json:"sender_email,omitempty" yaml:"sender_email,omitempty"`
	SenderDomain string    `gorm:"index" json:"sender_domain,omitempty" yaml:"sender_domain,omitempty"`

	AmountPattern        string `json:"amount_pattern,omitempty" yaml:"amount_pattern,omitempty"`
	SenderNamePattern    string `json:"sender_name_pattern,omitempty" yaml:"sender_name_pattern,omitempty"`
	AccountNumberPattern string `json:"account_number_pattern,omitempty" yaml:"account_number_pattern,omitempty"`
	ValueDatePattern     string `json:"value_date_pattern,omitempty" yaml:"value_date_pattern,omitempty"`
	NarrationPattern     string `json:"narration_pattern,omitempty" yaml:"narration_pattern,omitempty"`

	AmountFieldLabel        string `json:"amount_field_label,omitempty" yaml:"amount_field_label,omitempty"`
	SenderNameFieldLabel    string `json:"sender_name_field_label,omitempty" yaml:"sender_name_field_label,omitempty"`
	AccountNumberFieldLabel string `json:"account_number_field_label,omitempty" yaml:"account_number_field_label,omitempty"`
	ValueDateFieldLabel     string `json:"value_date_field_label,omitempty" yaml:"value_date_field_label,omitempty"`
	NarrationFieldLabel     string `json:"narration_field_label,omitempty" yaml:"narration_field_label,omitempty"`

	Priority  int       `gorm:"index" json:"priority" yaml:"priority"`
	IsActive  bool      `gorm:"index" json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}
