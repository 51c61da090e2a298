package models

import "time"

type Vendor struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:128;not null" json:"external_id"`

	Name  string `gorm:"size:255;not null" json:"name"`
	Email string `gorm:"size:255" json:"email"`
	// Phone is normalized to E.164 where the raw value parses.
	Phone    string `gorm:"size:32" json:"phone"`
	Category string `gorm:"size:128" json:"category"`
	Active   bool   `json:"active"`

	// Local-only field, untouched by sync.
	Notes string `gorm:"type:text" json:"notes"`

	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
