package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WorkOrder struct {
	ID         uint  `gorm:"primary_key" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	PropertyId uint  `gorm:"index;not null" json:"property_id"`
	VendorId   *uint `gorm:"index" json:"vendor_id"`

	Description   string          `gorm:"type:text" json:"description"`
	Status        string          `gorm:"size:32" json:"status"`
	Priority      string          `gorm:"size:32" json:"priority"`
	EstimatedCost decimal.Decimal `gorm:"type:decimal(12,2)" json:"estimated_cost"`
	OpenedAt      *time.Time      `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at"`

	// Local-only field, untouched by sync.
	Notes string `gorm:"type:text" json:"notes"`

	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
