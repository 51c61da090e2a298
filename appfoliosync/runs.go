package appfoliosync

import (
	"context"
	"errors"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
)

// ErrRunInFlight means a pending or running run already exists for the
// connection, so a new one was not created.
var ErrRunInFlight = errors.New("a sync run is already pending or running")

// enqueueRun creates a pending run and hands it to the queue. At most one
// unfinalized run exists per connection; callers racing here lose to the
// in-flight check.
func enqueueRun(ctx context.Context, conn *models.ApiConnection, mode string, triggeredBy string, rangeFrom *time.Time, rangeTo *time.Time, parentRunId *uint) (*models.SyncRun, error) {
	db := config.GetDB().WithContext(ctx)

	var inFlight int64
	if err := db.Model(&models.SyncRun{}).
		Where("connection_id = ? AND status IN ?", conn.ID, []string{models.SyncRunStatusPending, models.SyncRunStatusRunning}).
		Count(&inFlight).Error; err != nil {
		return nil, err
	}
	if inFlight > 0 {
		return nil, ErrRunInFlight
	}

	run := models.SyncRun{
		ConnectionId: conn.ID,
		Mode:         mode,
		Status:       models.SyncRunStatusPending,
		TriggeredBy:  triggeredBy,
		RangeFrom:    rangeFrom,
		RangeTo:      rangeTo,
		ParentRunId:  parentRunId,
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, err
	}

	if err := PublishSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "enqueueRun", "publish", map[string]interface{}{"runId": run.ID}, err)
		return nil, err
	}
	return &run, nil
}
