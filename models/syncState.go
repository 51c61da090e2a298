package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SyncState is the per-resource watermark used by incremental mode. It is
// written only after a resource's pages have processed without fatal error,
// under the run's exclusive lock, so there is never more than one writer.
type SyncState struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	ConnectionId  uint       `gorm:"uniqueIndex:idx_sync_state,priority:1;not null" json:"connection_id"`
	Resource      string     `gorm:"uniqueIndex:idx_sync_state,priority:2;size:50;not null" json:"resource"`
	Watermark     *time.Time `json:"watermark"`
	Cursor        string     `gorm:"size:255" json:"cursor"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetSyncState(ctx context.Context, db *gorm.DB, connectionId uint, resource string) (SyncState, error) {
	var state SyncState
	err := db.WithContext(ctx).
		Where("connection_id = ? AND resource = ?", connectionId, resource).
		Take(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SyncState{ConnectionId: connectionId, Resource: resource}, nil
		}
		return SyncState{}, err
	}
	return state, nil
}

// AdvanceSyncState moves the watermark forward, never backward, and records
// the success time. A zero watermark argument leaves the stored value alone.
func AdvanceSyncState(ctx context.Context, db *gorm.DB, connectionId uint, resource string, watermark time.Time, cursor string, at time.Time) error {
	state, err := GetSyncState(ctx, db, connectionId, resource)
	if err != nil {
		return err
	}

	if !watermark.IsZero() {
		if state.Watermark == nil || watermark.After(*state.Watermark) {
			state.Watermark = &watermark
		}
	}
	state.Cursor = cursor
	state.LastSuccessAt = &at

	if state.ID == 0 {
		return db.WithContext(ctx).Create(&state).Error
	}
	return db.WithContext(ctx).Model(&SyncState{}).
		Where("id = ?", state.ID).
		Updates(map[string]interface{}{
			"watermark":       state.Watermark,
			"cursor":          state.Cursor,
			"last_success_at": state.LastSuccessAt,
		}).Error
}
