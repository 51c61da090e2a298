package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is a rentable unit within a property. References the local property
// row; the raw record carries the source system's property id, resolved
// through Property.ExternalId during processing.
type Unit struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	PropertyId uint   `gorm:"index;not null" json:"property_id"`

	UnitNumber string          `gorm:"size:64" json:"unit_number"`
	Bedrooms   int             `json:"bedrooms"`
	Bathrooms  float64         `json:"bathrooms"`
	SquareFeet int             `json:"square_feet"`
	MarketRent decimal.Decimal `gorm:"type:decimal(12,2)" json:"market_rent"`
	Status     string          `gorm:"size:32" json:"status"`

	// Local-only field, untouched by sync.
	Notes string `gorm:"type:text" json:"notes"`

	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
