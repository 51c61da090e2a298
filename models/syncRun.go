package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"gorm.io/gorm"
)

// SyncRun is one execution of the ingestion pipeline. Rows are append-only
// history: once finalized (completed or failed) a run is never mutated again.
type SyncRun struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	ConnectionId uint       `gorm:"index;not null" json:"connection_id"`
	Mode         string     `gorm:"size:20;not null" json:"mode"`
	Status       string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy  string     `gorm:"size:20" json:"triggered_by"`
	RangeFrom    *time.Time `json:"range_from"`
	RangeTo      *time.Time `json:"range_to"`
	ErrorCode    string     `gorm:"size:32" json:"error_code"`
	ErrorSummary string     `gorm:"type:text" json:"error_summary"`
	Note         string     `gorm:"size:255" json:"note"`
	ParentRunId  *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunResource holds the per-resource counters owned by a run.
// Created + Updated + Skipped == Received. Errored counts the records that
// were skipped because they could not be mapped or stored.
type SyncRunResource struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	SyncRunId uint      `gorm:"index;not null" json:"sync_run_id"`
	Resource  string    `gorm:"size:50;not null" json:"resource"`
	Received  int       `json:"received"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errored   int       `json:"errored"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SyncRunError is one record-level failure inside a run. These never abort
// the run; they feed the run's error summary.
type SyncRunError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	Resource    string    `gorm:"size:50" json:"resource"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

var ErrInvalidRunTransition = errors.New("invalid sync run transition")

// The transition functions below operate on a SyncRun value and return the
// mutated copy; persistence goes through SaveRunTransition. This keeps the
// state machine testable without a database.

func StartRun(run SyncRun, at time.Time) (SyncRun, error) {
	if run.Status != SyncRunStatusPending {
		return run, fmt.Errorf("%w: %s -> %s", ErrInvalidRunTransition, run.Status, SyncRunStatusRunning)
	}
	run.Status = SyncRunStatusRunning
	run.StartedAt = &at
	return run, nil
}

func CompleteRun(run SyncRun, at time.Time, note string) (SyncRun, error) {
	if run.Status != SyncRunStatusRunning {
		return run, fmt.Errorf("%w: %s -> %s", ErrInvalidRunTransition, run.Status, SyncRunStatusCompleted)
	}
	run.Status = SyncRunStatusCompleted
	run.CompletedAt = &at
	run.Note = note
	if run.StartedAt != nil {
		run.DurationMs = at.Sub(*run.StartedAt).Milliseconds()
	}
	return run, nil
}

func FailRun(run SyncRun, at time.Time, code string, summary string) (SyncRun, error) {
	if run.Status != SyncRunStatusRunning && run.Status != SyncRunStatusPending {
		return run, fmt.Errorf("%w: %s -> %s", ErrInvalidRunTransition, run.Status, SyncRunStatusFailed)
	}
	run.Status = SyncRunStatusFailed
	run.CompletedAt = &at
	run.ErrorCode = code
	run.ErrorSummary = summary
	if run.StartedAt != nil {
		run.DurationMs = at.Sub(*run.StartedAt).Milliseconds()
	}
	return run, nil
}

// RunFinalized reports whether a run has reached a terminal status.
func RunFinalized(run SyncRun) bool {
	return run.Status == SyncRunStatusCompleted || run.Status == SyncRunStatusFailed
}

// SaveRunTransition persists the mutable lifecycle fields of a run.
func SaveRunTransition(ctx context.Context, db *gorm.DB, run SyncRun) error {
	return db.WithContext(ctx).Model(&SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":        run.Status,
			"started_at":    run.StartedAt,
			"completed_at":  run.CompletedAt,
			"duration_ms":   run.DurationMs,
			"error_code":    run.ErrorCode,
			"error_summary": run.ErrorSummary,
			"note":          run.Note,
		}).Error
}

func GetSyncRun(ctx context.Context, id uint) (*SyncRun, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var run SyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}
