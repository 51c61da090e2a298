package models

import "time"

// Property is a synced property record. ExternalId is the opaque key issued
// by the source system; it uniquely determines at most one row but is never
// the primary key. Notes and ManualRank are local-only fields and must never
// be overwritten by sync.
type Property struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:128;not null" json:"external_id"`

	Name       string `gorm:"size:255" json:"name"`
	Address    string `gorm:"size:255" json:"address"`
	City       string `gorm:"size:128" json:"city"`
	State      string `gorm:"size:64" json:"state"`
	PostalCode string `gorm:"size:32" json:"postal_code"`
	Type       string `gorm:"size:64" json:"type"`
	UnitCount  int    `json:"unit_count"`
	Active     bool   `json:"active"`

	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	GeocodedAt *time.Time `json:"geocoded_at"`

	// Local-only fields, untouched by sync.
	Notes      string `gorm:"type:text" json:"notes"`
	ManualRank *int   `json:"manual_rank"`

	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
