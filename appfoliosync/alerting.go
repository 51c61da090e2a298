package appfoliosync

import (
	"context"
	"errors"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"gorm.io/gorm"
)

const (
	defaultAlertThreshold = 3
	defaultAlertCooldown  = 60 * time.Minute
)

// Alerter turns consecutive run failures into operator notifications. The
// streak counter resets on the first successful run or on acknowledgment;
// the cooldown keeps a flapping connection from paging repeatedly.
type Alerter struct {
	db        *gorm.DB
	notifier  Notifier
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func NewAlerter(db *gorm.DB, notifier Notifier) *Alerter {
	cooldown := defaultAlertCooldown
	if mins := config.IntFromEnv("ALERT_COOLDOWN_MINUTES", 0); mins > 0 {
		cooldown = time.Duration(mins) * time.Minute
	}
	return &Alerter{
		db:        db,
		notifier:  notifier,
		threshold: config.IntFromEnv("ALERT_FAILURE_THRESHOLD", defaultAlertThreshold),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// shouldAlert decides whether the streak warrants a notification right now.
func shouldAlert(alert models.SyncFailureAlert, threshold int, cooldown time.Duration, now time.Time) bool {
	if alert.ConsecutiveFailures < threshold {
		return false
	}
	if alert.Acknowledged {
		return false
	}
	if alert.LastAlertedAt != nil && now.Sub(*alert.LastAlertedAt) < cooldown {
		return false
	}
	return true
}

// RecordFailure increments the streak, appends the run's detail to the
// bounded history and sends a notification when the threshold is crossed
// and the cooldown has lapsed.
func (a *Alerter) RecordFailure(ctx context.Context, connectionId uint, run models.SyncRun) error {
	alert, err := a.load(ctx, connectionId)
	if err != nil {
		return err
	}

	now := a.now()
	failedAt := now
	if run.CompletedAt != nil {
		failedAt = *run.CompletedAt
	}
	alert.ConsecutiveFailures++
	alert.Acknowledged = false
	alert.HistoryJSON = models.AppendFailureDetail(alert.HistoryJSON, models.FailureDetail{
		RunId:     run.ID,
		ErrorCode: run.ErrorCode,
		Summary:   run.ErrorSummary,
		FailedAt:  failedAt,
	})

	notify := shouldAlert(alert, a.threshold, a.cooldown, now)
	if notify {
		alert.LastAlertedAt = &now
	}
	if err := a.save(ctx, alert); err != nil {
		return err
	}

	if notify && a.notifier != nil {
		if nerr := a.notifier.NotifyFailureStreak(ctx, alert, run); nerr != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "RecordFailure", "notify", map[string]interface{}{"connectionId": connectionId}, nerr)
		}
	}
	return nil
}

// RecordSuccess clears the streak. History stays in place for the detail
// view; only the counter and acknowledgment reset.
func (a *Alerter) RecordSuccess(ctx context.Context, connectionId uint) error {
	alert, err := a.load(ctx, connectionId)
	if err != nil {
		return err
	}
	if alert.ID == 0 {
		return nil
	}
	if alert.ConsecutiveFailures == 0 && !alert.Acknowledged {
		return nil
	}
	alert.ConsecutiveFailures = 0
	alert.Acknowledged = false
	alert.AcknowledgedAt = nil
	alert.AcknowledgedBy = ""
	return a.save(ctx, alert)
}

// Acknowledge silences the alert until the next failure after a success, and
// records who acknowledged it.
func (a *Alerter) Acknowledge(ctx context.Context, connectionId uint, acknowledgedBy string) error {
	alert, err := a.load(ctx, connectionId)
	if err != nil {
		return err
	}
	if alert.ID == 0 {
		return errors.New("no alert state for connection")
	}
	now := a.now()
	alert.Acknowledged = true
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = acknowledgedBy
	return a.save(ctx, alert)
}

func (a *Alerter) load(ctx context.Context, connectionId uint) (models.SyncFailureAlert, error) {
	var alert models.SyncFailureAlert
	err := a.db.WithContext(ctx).Where("connection_id = ?", connectionId).Take(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.SyncFailureAlert{ConnectionId: connectionId}, nil
		}
		return models.SyncFailureAlert{}, err
	}
	return alert, nil
}

func (a *Alerter) save(ctx context.Context, alert models.SyncFailureAlert) error {
	if alert.ID == 0 {
		return a.db.WithContext(ctx).Create(&alert).Error
	}
	return a.db.WithContext(ctx).Model(&models.SyncFailureAlert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]interface{}{
			"consecutive_failures": alert.ConsecutiveFailures,
			"history_json":         alert.HistoryJSON,
			"last_alerted_at":      alert.LastAlertedAt,
			"acknowledged":         alert.Acknowledged,
			"acknowledged_at":      alert.AcknowledgedAt,
			"acknowledged_by":      alert.AcknowledgedBy,
		}).Error
}
