package appfoliosync

import (
	"context"
	"errors"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	inHoursInterval  = 15 * time.Minute
	offHoursInterval = 60 * time.Minute
)

// Scheduler drives recurring syncs: incremental runs every 15 minutes during
// business hours and every hour outside them, plus one full sync per day at
// the configured off-peak time. It evaluates on a one minute cron tick so
// settings edits take effect without a restart.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		now:  time.Now,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
	if err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "tick", "", nil, err)
		return
	}
	if conn == nil || conn.Status != models.ConnectionStatusConnected {
		return
	}

	settings := DecodeSettings(conn.SettingsJSON)
	now := s.now()

	if fullSyncDue(ctx, conn.ID, settings.Hours, now) {
		if _, err := enqueueRun(ctx, conn, models.SyncModeFull, models.SyncTriggeredSchedule, nil, nil, nil); err != nil && !errors.Is(err, ErrRunInFlight) {
			config.LogError(config.GetLogger(), "appfoliosync", "tick", "full", map[string]interface{}{"connectionId": conn.ID}, err)
		}
		return
	}

	if !config.LoadSyncFeatures().IncrementalSync {
		return
	}
	if incrementalDue(ctx, conn.ID, settings.Hours, now) {
		if _, err := enqueueRun(ctx, conn, models.SyncModeIncremental, models.SyncTriggeredSchedule, nil, nil, nil); err != nil && !errors.Is(err, ErrRunInFlight) {
			config.LogError(config.GetLogger(), "appfoliosync", "tick", "incremental", map[string]interface{}{"connectionId": conn.ID}, err)
		}
	}
}

// intervalFor picks the incremental cadence for the current wall clock.
func intervalFor(hours BusinessHours, now time.Time) time.Duration {
	if inBusinessHours(hours, now) {
		return inHoursInterval
	}
	return offHoursInterval
}

func inBusinessHours(hours BusinessHours, now time.Time) bool {
	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if hours.WeekdaysOnly {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	return local.Hour() >= hours.StartHour && local.Hour() < hours.EndHour
}

func incrementalDue(ctx context.Context, connectionId uint, hours BusinessHours, now time.Time) bool {
	last, err := lastRunStarted(ctx, connectionId, "")
	if err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "incrementalDue", "", map[string]interface{}{"connectionId": connectionId}, err)
		return false
	}
	if last == nil {
		return true
	}
	return now.Sub(*last) >= intervalFor(hours, now)
}

// fullSyncDue is true within the scheduled minute, once per day.
func fullSyncDue(ctx context.Context, connectionId uint, hours BusinessHours, now time.Time) bool {
	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	at, err := time.Parse("15:04", hours.FullSyncAt)
	if err != nil {
		return false
	}
	if local.Hour() != at.Hour() || local.Minute() != at.Minute() {
		return false
	}

	last, err := lastRunStarted(ctx, connectionId, models.SyncModeFull)
	if err != nil || last == nil {
		return err == nil
	}
	return !sameLocalDay(*last, now, loc)
}

func sameLocalDay(a time.Time, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func lastRunStarted(ctx context.Context, connectionId uint, mode string) (*time.Time, error) {
	db := config.GetDB().WithContext(ctx)
	query := db.Model(&models.SyncRun{}).Where("connection_id = ?", connectionId)
	if mode != "" {
		query = query.Where("mode = ?", mode)
	}

	var run models.SyncRun
	err := query.Order("created_at DESC").Limit(1).Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run.CreatedAt, nil
}
