package models

import "time"

// RawEvent is the append-only record of raw payloads received from the
// external API, one row per fetched page. Rows are written before
// transformation so a mid-run crash never loses fetched data, and are never
// mutated afterward. Large payloads may be offloaded to object storage, in
// which case StorageRef points at the archived object and PayloadJSON is
// left empty.
type RawEvent struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	Resource    string    `gorm:"size:50;not null" json:"resource"`
	PageNumber  int       `json:"page_number"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	StorageRef  string    `gorm:"size:512" json:"storage_ref"`
	ReceivedAt  time.Time `gorm:"not null" json:"received_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
