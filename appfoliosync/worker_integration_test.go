package appfoliosync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
)

// fakeAppfolio serves the token and listing endpoints so ProcessSyncRun can
// be driven end to end against a real database.
type fakeAppfolio struct {
	srv *httptest.Server

	unitsFail    atomic.Bool
	serveExpense atomic.Bool
	hits         map[string]*atomic.Int64
}

func newFakeAppfolio(t *testing.T) *fakeAppfolio {
	t.Helper()
	f := &fakeAppfolio{hits: map[string]*atomic.Int64{}}
	for _, res := range models.SyncResourceOrder {
		f.hits[res] = &atomic.Int64{}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "itest-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/properties", func(w http.ResponseWriter, r *http.Request) {
		f.hits[models.ResourceProperties].Add(1)
		fmt.Fprint(w, `{"results":[
			{"id":"p1","name":"Maple Court","address1":"12 Maple St","city":"Austin","state":"TX","postal_code":"78701","unit_count":8,"updated_at":"2026-01-01T00:00:00Z"},
			{"id":"p2","name":"Oak Villas","address1":"9 Oak Ave","city":"Austin","state":"TX","postal_code":"78702","unit_count":4,"updated_at":"2026-01-02T00:00:00Z"}
		],"page":1,"total_pages":1}`)
	})
	mux.HandleFunc("/v1/units", func(w http.ResponseWriter, r *http.Request) {
		f.hits[models.ResourceUnits].Add(1)
		if f.unitsFail.Load() {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"results":[],"page":1,"total_pages":1}`)
	})
	mux.HandleFunc("/v1/vendors", func(w http.ResponseWriter, r *http.Request) {
		f.hits[models.ResourceVendors].Add(1)
		fmt.Fprint(w, `{"results":[],"page":1,"total_pages":1}`)
	})
	mux.HandleFunc("/v1/work_orders", func(w http.ResponseWriter, r *http.Request) {
		f.hits[models.ResourceWorkOrders].Add(1)
		fmt.Fprint(w, `{"results":[],"page":1,"total_pages":1}`)
	})
	mux.HandleFunc("/v1/expenses", func(w http.ResponseWriter, r *http.Request) {
		f.hits[models.ResourceExpenses].Add(1)
		if f.serveExpense.Load() {
			fmt.Fprint(w, `{"results":[
				{"id":"e1","property_id":"p1","amount":"129.50","gl_account_code":"6010","memo":"electric bill","incurred_at":"2026-01-10","updated_at":"2026-01-11T00:00:00Z"}
			],"page":1,"total_pages":1}`)
			return
		}
		fmt.Fprint(w, `{"results":[],"page":1,"total_pages":1}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAppfolio) resetHits() {
	for _, counter := range f.hits {
		counter.Store(0)
	}
}

func newPendingRun(t *testing.T, connectionId uint) *models.SyncRun {
	t.Helper()
	run := models.SyncRun{
		ConnectionId: connectionId,
		Mode:         models.SyncModeFull,
		Status:       models.SyncRunStatusPending,
		TriggeredBy:  models.SyncTriggeredSchedule,
	}
	if err := config.GetDB().Create(&run).Error; err != nil {
		t.Fatalf("create run: %v", err)
	}
	return &run
}

func reloadRun(t *testing.T, id uint) models.SyncRun {
	t.Helper()
	var run models.SyncRun
	if err := config.GetDB().Where("id = ?", id).Take(&run).Error; err != nil {
		t.Fatalf("reload run %d: %v", id, err)
	}
	return run
}

func countsFor(t *testing.T, runId uint) map[string]models.SyncRunResource {
	t.Helper()
	var rows []models.SyncRunResource
	if err := config.GetDB().Where("sync_run_id = ?", runId).Find(&rows).Error; err != nil {
		t.Fatalf("load counts for run %d: %v", runId, err)
	}
	byResource := map[string]models.SyncRunResource{}
	for _, row := range rows {
		byResource[row.Resource] = row
	}
	return byResource
}

func loadAlert(t *testing.T, connectionId uint) models.SyncFailureAlert {
	t.Helper()
	var alert models.SyncFailureAlert
	if err := config.GetDB().Where("connection_id = ?", connectionId).Take(&alert).Error; err != nil {
		t.Fatalf("load alert: %v", err)
	}
	return alert
}

func TestProcessSyncRunLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pmpulse_test")
	t.Setenv("SYNC_SECRETS_KEY", "lifecycle-test-key")
	t.Setenv("SMTP_HOST", "")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	api := newFakeAppfolio(t)

	secretEnc, err := utils.EncryptSecret("itest-secret")
	if err != nil {
		t.Fatalf("encrypt secret: %v", err)
	}
	conn := models.ApiConnection{
		Provider:        models.SyncProviderAppFolio,
		Status:          models.ConnectionStatusConnected,
		BaseURL:         api.srv.URL,
		ClientID:        "itest-client",
		ClientSecretEnc: secretEnc,
	}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}

	// a permanent units failure fails the run but keeps the properties
	// already synced, and later resources are never requested
	api.unitsFail.Store(true)
	run := newPendingRun(t, conn.ID)
	if err := ProcessSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}

	failed := reloadRun(t, run.ID)
	if failed.Status != models.SyncRunStatusFailed {
		t.Fatalf("run status = %q, expected failed", failed.Status)
	}
	if failed.ErrorCode != models.SyncErrorCodeAPI {
		t.Fatalf("ErrorCode = %q", failed.ErrorCode)
	}
	if !strings.Contains(failed.ErrorSummary, "units") {
		t.Fatalf("ErrorSummary = %q, expected the failing resource", failed.ErrorSummary)
	}

	var propertyCount int64
	if err := db.Model(&models.Property{}).Count(&propertyCount).Error; err != nil {
		t.Fatalf("count properties: %v", err)
	}
	if propertyCount != 2 {
		t.Fatalf("properties = %d, upserts before the failure must survive", propertyCount)
	}

	counts := countsFor(t, run.ID)
	if counts[models.ResourceProperties].Created != 2 {
		t.Fatalf("properties created = %d", counts[models.ResourceProperties].Created)
	}
	if _, ok := counts[models.ResourceVendors]; ok {
		t.Fatal("vendors must not be attempted after the units failure")
	}
	if api.hits[models.ResourceVendors].Load() != 0 {
		t.Fatal("vendors endpoint was requested after the failure")
	}

	propState, err := models.GetSyncState(ctx, db, conn.ID, models.ResourceProperties)
	if err != nil {
		t.Fatalf("properties state: %v", err)
	}
	if propState.Watermark == nil {
		t.Fatal("properties watermark must advance on clean completion")
	}
	unitState, err := models.GetSyncState(ctx, db, conn.ID, models.ResourceUnits)
	if err != nil {
		t.Fatalf("units state: %v", err)
	}
	if unitState.Watermark != nil {
		t.Fatal("units watermark must not advance on failure")
	}

	alert := loadAlert(t, conn.ID)
	if alert.ConsecutiveFailures != 1 {
		t.Fatalf("ConsecutiveFailures = %d after one failed run", alert.ConsecutiveFailures)
	}
	if alert.LastAlertedAt != nil {
		t.Fatal("alert must not fire below the threshold")
	}

	// two more failures cross the default threshold of 3 exactly once
	for i := 0; i < 2; i++ {
		run = newPendingRun(t, conn.ID)
		if err := ProcessSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
			t.Fatalf("ProcessSyncRun failure %d: %v", i+2, err)
		}
	}
	alert = loadAlert(t, conn.ID)
	if alert.ConsecutiveFailures != 3 {
		t.Fatalf("ConsecutiveFailures = %d after three failed runs", alert.ConsecutiveFailures)
	}
	if alert.LastAlertedAt == nil {
		t.Fatal("alert must fire at the threshold")
	}
	firstAlertAt := *alert.LastAlertedAt

	// a fourth failure inside the cooldown stays quiet
	run = newPendingRun(t, conn.ID)
	if err := ProcessSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
		t.Fatalf("ProcessSyncRun fourth failure: %v", err)
	}
	alert = loadAlert(t, conn.ID)
	if alert.ConsecutiveFailures != 4 {
		t.Fatalf("ConsecutiveFailures = %d after four failed runs", alert.ConsecutiveFailures)
	}
	if !alert.LastAlertedAt.Equal(firstAlertAt) {
		t.Fatal("cooldown must suppress a repeat alert")
	}

	// success completes the run, counts the identical replay as updated
	// and resets the failure streak
	api.unitsFail.Store(false)
	api.resetHits()
	run = newPendingRun(t, conn.ID)
	if err := ProcessSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
		t.Fatalf("ProcessSyncRun success: %v", err)
	}

	completed := reloadRun(t, run.ID)
	if completed.Status != models.SyncRunStatusCompleted {
		t.Fatalf("run status = %q, expected completed", completed.Status)
	}
	counts = countsFor(t, run.ID)
	props := counts[models.ResourceProperties]
	if props.Created != 0 || props.Updated != 2 || props.Skipped != 0 {
		t.Fatalf("replay counts = %d/%d/%d, expected 0/2/0", props.Created, props.Updated, props.Skipped)
	}
	alert = loadAlert(t, conn.ID)
	if alert.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d after a success", alert.ConsecutiveFailures)
	}

	var refreshed models.ApiConnection
	if err := db.Where("id = ?", conn.ID).Take(&refreshed).Error; err != nil {
		t.Fatalf("reload connection: %v", err)
	}
	if refreshed.LastSuccessAt == nil {
		t.Fatal("LastSuccessAt must be stamped on completion")
	}

	// a mapped GL account categorizes the expense during sync
	if err := db.Create(&models.GlAccountMapping{GlAccountCode: "6010", UtilityType: "electric"}).Error; err != nil {
		t.Fatalf("seed gl mapping: %v", err)
	}
	api.serveExpense.Store(true)
	run = newPendingRun(t, conn.ID)
	if err := ProcessSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
		t.Fatalf("ProcessSyncRun expenses: %v", err)
	}
	var expense models.Expense
	if err := db.Where("external_id = ?", "e1").Take(&expense).Error; err != nil {
		t.Fatalf("load expense: %v", err)
	}
	if expense.UtilityType != "electric" {
		t.Fatalf("UtilityType = %q, expected the GL mapping to apply", expense.UtilityType)
	}
	api.serveExpense.Store(false)

	// a depleted request budget ends the run cleanly with later resources
	// deferred instead of failing
	t.Setenv("SYNC_RATE_LIMIT_PER_MIN", "6")
	t.Setenv("SYNC_RATE_BUDGET_FLOOR", "5")
	api.resetHits()
	run = newPendingRun(t, conn.ID)
	if err := ProcessSyncRun(ctx, SyncQueuePayload{RunId: run.ID, ConnectionId: conn.ID}); err != nil {
		t.Fatalf("ProcessSyncRun budget: %v", err)
	}
	stopped := reloadRun(t, run.ID)
	if stopped.Status != models.SyncRunStatusCompleted {
		t.Fatalf("run status = %q, budget exhaustion must not fail the run", stopped.Status)
	}
	if !strings.Contains(stopped.Note, "stopped early") {
		t.Fatalf("Note = %q, expected the early stop to be recorded", stopped.Note)
	}
	counts = countsFor(t, run.ID)
	if _, ok := counts[models.ResourceExpenses]; ok {
		t.Fatal("expenses must be deferred once the budget floor is reached")
	}
	if api.hits[models.ResourceExpenses].Load() != 0 {
		t.Fatal("expenses endpoint was requested after the budget floor")
	}
}
