package models

import (
	"encoding/json"
	"time"
)

// FailureHistoryLimit bounds the retained failure details per connection.
const FailureHistoryLimit = 10

// SyncFailureAlert tracks the consecutive-failure streak for a connection.
// The counter increments on each failed run, resets to zero on success or
// acknowledgment, and the detail history keeps only the most recent entries.
type SyncFailureAlert struct {
	ID                  uint       `gorm:"primary_key" json:"id"`
	ConnectionId        uint       `gorm:"uniqueIndex;not null" json:"connection_id"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	HistoryJSON         []byte     `gorm:"type:json" json:"history"`
	LastAlertedAt       *time.Time `json:"last_alerted_at"`
	Acknowledged        bool       `json:"acknowledged"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at"`
	AcknowledgedBy      string     `gorm:"size:128" json:"acknowledged_by"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// FailureDetail is one retained entry in the alert history.
type FailureDetail struct {
	RunId     uint      `json:"run_id"`
	ErrorCode string    `json:"error_code"`
	Summary   string    `json:"summary"`
	FailedAt  time.Time `json:"failed_at"`
}

func DecodeFailureHistory(raw []byte) []FailureDetail {
	if len(raw) == 0 {
		return nil
	}
	var history []FailureDetail
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil
	}
	return history
}

// AppendFailureDetail adds an entry and trims the history to the retained
// bound, dropping the oldest entries first.
func AppendFailureDetail(raw []byte, detail FailureDetail) []byte {
	history := DecodeFailureHistory(raw)
	history = append(history, detail)
	if len(history) > FailureHistoryLimit {
		history = history[len(history)-FailureHistoryLimit:]
	}
	b, _ := json.Marshal(history)
	return b
}
