package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Expense struct {
	ID         uint  `gorm:"primary_key" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	PropertyId uint  `gorm:"index;not null" json:"property_id"`
	VendorId   *uint `gorm:"index" json:"vendor_id"`

	Amount        decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	GlAccountCode string          `gorm:"size:64" json:"gl_account_code"`
	// UtilityType is resolved via GlAccountMapping. An unmapped GL account
	// leaves it empty rather than failing the record.
	UtilityType string     `gorm:"size:64" json:"utility_type"`
	Memo        string     `gorm:"size:512" json:"memo"`
	IncurredAt  *time.Time `json:"incurred_at"`

	// Local-only field, untouched by sync.
	ManualAdjusted bool `json:"manual_adjusted"`

	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
