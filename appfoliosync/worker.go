package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
	"gorm.io/gorm"
)

const (
	incrementalLookback = 7 * 24 * time.Hour
	fullSyncWindow      = 365 * 24 * time.Hour
	defaultRunTimeout   = 600 * time.Second
	defaultBudgetFloor  = 5
)

// ErrRunLocked means another worker holds the connection's sync lock. The
// push handler maps it to a retryable response so the queue redelivers and
// the run stays pending until the lock frees up.
var ErrRunLocked = errors.New("sync run lock held by another worker")

type syncEnv struct {
	db          *gorm.DB
	run         *models.SyncRun
	conn        *models.ApiConnection
	client      *appfolioClient
	limiter     *RateLimiter
	budgetFloor int

	// external id -> local primary key caches, filled as records resolve
	propertyIds map[string]uint
	vendorIds   map[string]uint
}

type resourceCounts struct {
	received int
	created  int
	updated  int
	skipped  int
	errored  int
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeErrored
)

// upsertOutcome maps an upsert result to the run counters. An existing row
// matched by external_id counts as updated whether or not any column moved,
// so replaying identical source data reports every record as refreshed.
func upsertOutcome(created bool) outcome {
	if created {
		return outcomeCreated
	}
	return outcomeUpdated
}

// ProcessSyncRun drives one run end to end: lock the connection, fetch and
// upsert each enabled resource in order, record counters and record-level
// errors, then finalize the run exactly once. Safe to call repeatedly for
// the same run id.
func ProcessSyncRun(ctx context.Context, payload SyncQueuePayload) error {
	if payload.RunId == 0 {
		return errors.New("invalid payload")
	}

	db := config.GetDB().WithContext(ctx)

	run, err := models.GetSyncRun(ctx, payload.RunId)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("sync run %d not found", payload.RunId)
	}
	if models.RunFinalized(*run) {
		return nil
	}

	var conn models.ApiConnection
	if err := db.Where("id = ?", run.ConnectionId).Take(&conn).Error; err != nil {
		return err
	}
	if conn.Status != models.ConnectionStatusConnected {
		return failAndNotify(ctx, db, &conn, run, models.SyncErrorCodeConfig, "connection is not in connected status")
	}

	release, err := acquireRunLock(ctx, conn.ID)
	if err != nil {
		return err
	}
	defer release()

	// re-read under the lock: a concurrent delivery may have finished the run
	run, err = models.GetSyncRun(ctx, payload.RunId)
	if err != nil {
		return err
	}
	if run == nil || models.RunFinalized(*run) {
		return nil
	}

	started, err := models.StartRun(*run, time.Now())
	if err != nil {
		return err
	}
	if err := models.SaveRunTransition(ctx, db, started); err != nil {
		return err
	}
	run = &started

	runCtx, cancel := context.WithTimeout(ctx, runTimeout())
	defer cancel()

	secret, err := utils.DecryptSecret(conn.ClientSecretEnc)
	if err != nil {
		return failAndNotify(ctx, db, &conn, run, models.SyncErrorCodeConfig, "credential decryption failed")
	}

	limiter := NewRateLimiter(config.GetRedisDB(), "appfolio:ratelimit", config.IntFromEnv("SYNC_RATE_LIMIT_PER_MIN", 60))
	client, err := newAppfolioClient(conn.BaseURL, conn.ClientID, secret, limiter)
	secret = ""
	if err != nil {
		return failAndNotify(ctx, db, &conn, run, models.SyncErrorCodeConfig, err.Error())
	}
	client.PageRecorder = rawPageRecorder(db, run.ID)

	env := &syncEnv{
		db:          db,
		run:         run,
		conn:        &conn,
		client:      client,
		limiter:     limiter,
		budgetFloor: config.IntFromEnv("SYNC_RATE_BUDGET_FLOOR", defaultBudgetFloor),
	}

	settings := DecodeSettings(conn.SettingsJSON)
	syncers := map[string]func(context.Context, *syncEnv) (resourceCounts, error){
		models.ResourceProperties: syncProperties,
		models.ResourceUnits:      syncUnits,
		models.ResourceVendors:    syncVendors,
		models.ResourceWorkOrders: syncWorkOrders,
		models.ResourceExpenses:   syncExpenses,
	}

	stoppedEarly := false
	var timedOut bool
	var resourceFailure error

	for _, resource := range models.SyncResourceOrder {
		if !settings.Resources.Enabled(resource) {
			continue
		}
		if limiter.Remaining(runCtx) < env.budgetFloor {
			stoppedEarly = true
			break
		}

		counts, err := syncers[resource](runCtx, env)
		saveResourceCounts(ctx, db, run.ID, resource, counts)

		switch {
		case err == nil:
			// resource finished cleanly, watermark already advanced
		case errors.Is(err, errBudgetExhausted):
			stoppedEarly = true
		case errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil:
			timedOut = true
		default:
			// earlier resources' upserts and watermarks stay committed,
			// later resources are not attempted
			resourceFailure = fmt.Errorf("resource %s failed: %w", resource, err)
			recordSyncError(ctx, db, run.ID, resource, "", "resource_failed", err.Error(), nil)
			config.LogError(config.GetLogger(), "appfoliosync", "ProcessSyncRun", "resource "+resource, map[string]interface{}{"runId": run.ID}, err)
		}
		if timedOut || stoppedEarly || resourceFailure != nil {
			break
		}
	}

	now := time.Now()
	switch {
	case timedOut:
		err = finalizeFailed(ctx, db, run, models.SyncErrorCodeTimeout, "run exceeded the execution time limit")
	case resourceFailure != nil:
		err = finalizeFailed(ctx, db, run, models.SyncErrorCodeAPI, resourceFailure.Error())
	default:
		note := ""
		if stoppedEarly {
			note = "stopped early: request budget exhausted, remaining resources deferred to the next run"
		}
		completed, terr := models.CompleteRun(*run, now, note)
		if terr != nil {
			return terr
		}
		if err = models.SaveRunTransition(ctx, db, completed); err == nil {
			run = &completed
		}
	}
	if err != nil {
		return err
	}

	finishConnection(ctx, db, &conn, *run)
	notifyRunOutcome(ctx, db, &conn, *run)
	publishFollowUps(ctx, &conn, *run)

	return nil
}

func acquireRunLock(ctx context.Context, connectionId uint) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// no redis in this process, single-worker deployments only
		return func() {}, nil
	}
	key := fmt.Sprintf("sync:connection:%d", connectionId)
	lock, err := locker.Obtain(ctx, key, runTimeout()+time.Minute, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrRunLocked
		}
		return nil, err
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

func runTimeout() time.Duration {
	if secs := config.IntFromEnv("SYNC_RUN_TIMEOUT_SECONDS", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRunTimeout
}

// fetchWindow picks the update-time bounds for a resource. Manual triggers
// carry an explicit range on the run (a nil RangeFrom with RangeTo set means
// unbounded history). Otherwise incremental mode rewinds the watermark by the
// lookback to absorb late upstream writes, and full mode takes a year, both
// open ended toward the present.
func fetchWindow(run models.SyncRun, watermark *time.Time, now time.Time) fetchRange {
	if run.RangeTo != nil {
		return fetchRange{From: run.RangeFrom, To: run.RangeTo}
	}
	if run.Mode == models.SyncModeIncremental && watermark != nil {
		since := watermark.Add(-incrementalLookback)
		return fetchRange{From: &since}
	}
	since := now.Add(-fullSyncWindow)
	return fetchRange{From: &since}
}

// forEachPage walks a resource listing page by page, applying handle to every
// record. Record failures never abort the walk. Returns errBudgetExhausted
// with the page to resume from when the request budget drops below the floor.
func forEachPage(ctx context.Context, env *syncEnv, resource string, window fetchRange, startPage int, handle func(context.Context, json.RawMessage) outcome) (resourceCounts, int, error) {
	counts := resourceCounts{}
	page := startPage
	if page < 1 {
		page = 1
	}

	for {
		if env.limiter.Remaining(ctx) < env.budgetFloor {
			return counts, page, errBudgetExhausted
		}
		resp, err := env.client.fetchPage(ctx, resource, page, window)
		if err != nil {
			return counts, page, err
		}

		for _, raw := range resp.Results {
			counts.received++
			switch handle(ctx, raw) {
			case outcomeCreated:
				counts.created++
			case outcomeUpdated:
				counts.updated++
			case outcomeErrored:
				// bad records are skipped, the error counter is diagnostic
				counts.skipped++
				counts.errored++
			}
		}

		if resp.NextPage == nil || len(resp.Results) == 0 {
			return counts, 0, nil
		}
		if resp.TotalPages > 0 && resp.Page >= resp.TotalPages {
			return counts, 0, nil
		}
		page = *resp.NextPage
	}
}

// runResource wraps the shared flow of a resource sync: load the watermark,
// walk the pages, then either advance the watermark on clean completion or
// stash the resume page when the budget ran out mid-resource.
func runResource(ctx context.Context, env *syncEnv, resource string, handle func(context.Context, json.RawMessage) outcome) (resourceCounts, error) {
	state, err := models.GetSyncState(ctx, env.db, env.conn.ID, resource)
	if err != nil {
		return resourceCounts{}, err
	}

	now := time.Now()
	window := fetchWindow(*env.run, state.Watermark, now)

	startPage := 1
	if state.Cursor != "" {
		if n, perr := strconv.Atoi(state.Cursor); perr == nil && n > 1 {
			startPage = n
		}
	}

	counts, resumePage, err := forEachPage(ctx, env, resource, window, startPage, handle)
	if err != nil {
		if errors.Is(err, errBudgetExhausted) {
			// keep the cursor, leave the watermark where it was
			_ = models.AdvanceSyncState(ctx, env.db, env.conn.ID, resource, time.Time{}, strconv.Itoa(resumePage), now)
		}
		return counts, err
	}

	if serr := models.AdvanceSyncState(ctx, env.db, env.conn.ID, resource, now, "", time.Now()); serr != nil {
		return counts, serr
	}
	return counts, nil
}

func saveResourceCounts(ctx context.Context, db *gorm.DB, runId uint, resource string, counts resourceCounts) {
	row := models.SyncRunResource{
		SyncRunId: runId,
		Resource:  resource,
		Received:  counts.received,
		Created:   counts.created,
		Updated:   counts.updated,
		Skipped:   counts.skipped,
		Errored:   counts.errored,
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "saveResourceCounts", resource, map[string]interface{}{"runId": runId}, err)
	}
}

func recordSyncError(ctx context.Context, db *gorm.DB, runId uint, resource string, externalId string, code string, message string, payload []byte) {
	errRec := models.SyncRunError{
		SyncRunId:   runId,
		Resource:    resource,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
	}
	if err := db.WithContext(ctx).Create(&errRec).Error; err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "recordSyncError", resource, map[string]interface{}{"runId": runId}, err)
	}
}

// rawPageRecorder persists every page body before any mapping runs. Large
// payloads go to object storage when a bucket is configured, with the row
// keeping the reference.
func rawPageRecorder(db *gorm.DB, runId uint) func(ctx context.Context, resource string, page int, body []byte) {
	return func(ctx context.Context, resource string, page int, body []byte) {
		event := models.RawEvent{
			SyncRunId:  runId,
			Resource:   resource,
			PageNumber: page,
			ReceivedAt: time.Now(),
		}
		objectName := fmt.Sprintf("runs/%d/%s/page-%d.json", runId, resource, page)
		if ref, err := utils.ArchiveRawPayload(ctx, objectName, body); err == nil && ref != "" {
			event.StorageRef = ref
		} else {
			event.PayloadJSON = body
		}
		if err := db.WithContext(ctx).Create(&event).Error; err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "rawPageRecorder", resource, map[string]interface{}{"runId": runId, "page": page}, err)
		}
	}
}

// finalizeFailed only moves the run to failed. The caller is responsible for
// the connection bookkeeping and alert accounting, which must happen exactly
// once per finalized run.
func finalizeFailed(ctx context.Context, db *gorm.DB, run *models.SyncRun, code string, summary string) error {
	failed, err := models.FailRun(*run, time.Now(), code, summary)
	if err != nil {
		return err
	}
	if err := models.SaveRunTransition(ctx, db, failed); err != nil {
		return err
	}
	*run = failed
	return nil
}

// failAndNotify finalizes the run as failed and performs the once-per-run
// follow ups for the early exit paths that return before the shared tail of
// ProcessSyncRun.
func failAndNotify(ctx context.Context, db *gorm.DB, conn *models.ApiConnection, run *models.SyncRun, code string, summary string) error {
	if err := finalizeFailed(ctx, db, run, code, summary); err != nil {
		return err
	}
	finishConnection(ctx, db, conn, *run)
	notifyRunOutcome(ctx, db, conn, *run)
	return nil
}

func finishConnection(ctx context.Context, db *gorm.DB, conn *models.ApiConnection, run models.SyncRun) {
	updates := map[string]interface{}{
		"last_sync_at": run.CompletedAt,
	}
	if run.Status == models.SyncRunStatusCompleted {
		updates["last_success_at"] = run.CompletedAt
	}
	if err := db.WithContext(ctx).Model(&models.ApiConnection{}).
		Where("id = ?", conn.ID).
		Updates(updates).Error; err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "finishConnection", "", map[string]interface{}{"connectionId": conn.ID}, err)
	}
}

// notifyRunOutcome feeds the run outcome into the failure streak. The streak
// accounting always happens; only the outbound mail is behind the
// notifications feature flag.
func notifyRunOutcome(ctx context.Context, db *gorm.DB, conn *models.ApiConnection, run models.SyncRun) {
	var notifier Notifier
	if config.LoadSyncFeatures().Notifications {
		notifier = NewSMTPNotifier()
	}
	alerter := NewAlerter(db, notifier)
	var err error
	if run.Status == models.SyncRunStatusFailed {
		err = alerter.RecordFailure(ctx, conn.ID, run)
	} else {
		err = alerter.RecordSuccess(ctx, conn.ID)
	}
	if err != nil {
		config.LogError(config.GetLogger(), "appfoliosync", "notifyRunOutcome", "", map[string]interface{}{"runId": run.ID}, err)
	}
}

func publishFollowUps(ctx context.Context, conn *models.ApiConnection, run models.SyncRun) {
	if run.Status != models.SyncRunStatusCompleted {
		return
	}
	features := config.LoadSyncFeatures()
	if features.AnalyticsRefresh {
		if err := PublishAnalyticsRefresh(ctx, conn.ID); err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "publishFollowUps", "analytics", map[string]interface{}{"runId": run.ID}, err)
		}
	}
	if features.AutoGeocoding {
		if err := PublishGeocodeJob(ctx, GeocodeQueuePayload{ConnectionId: conn.ID}); err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "publishFollowUps", "geocode", map[string]interface{}{"runId": run.ID}, err)
		}
	}
}
