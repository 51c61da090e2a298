package appfoliosync

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/xuri/excelize/v2"
)

// ExportRunsHandler writes the run history to an xlsx workbook, one sheet of
// runs and one of per-resource counters, for offline review.
func ExportRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 500
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 5000 {
				limit = n
			}
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var runs []models.SyncRun
		if err := db.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		runIds := make([]uint, 0, len(runs))
		for _, run := range runs {
			runIds = append(runIds, run.ID)
		}
		var resources []models.SyncRunResource
		if len(runIds) > 0 {
			if err := db.Where("sync_run_id IN ?", runIds).Order("sync_run_id desc, id").Find(&resources).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		f, err := buildRunsWorkbook(runs, resources)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		filename := fmt.Sprintf("sync-runs-%s.xlsx", time.Now().Format("20060102-150405"))
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "ExportRunsHandler", "write", nil, err)
		}
	}
}

func buildRunsWorkbook(runs []models.SyncRun, resources []models.SyncRunResource) (*excelize.File, error) {
	f := excelize.NewFile()

	const runsSheet = "Runs"
	if err := f.SetSheetName("Sheet1", runsSheet); err != nil {
		return nil, err
	}
	runHeaders := []interface{}{"Run ID", "Mode", "Status", "Triggered By", "Started At", "Completed At", "Duration (ms)", "Error Code", "Error Summary", "Note"}
	if err := f.SetSheetRow(runsSheet, "A1", &runHeaders); err != nil {
		return nil, err
	}
	for i, run := range runs {
		row := []interface{}{
			run.ID,
			run.Mode,
			run.Status,
			run.TriggeredBy,
			exportTime(run.StartedAt),
			exportTime(run.CompletedAt),
			run.DurationMs,
			run.ErrorCode,
			run.ErrorSummary,
			run.Note,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(runsSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	const countsSheet = "Resource Counts"
	if _, err := f.NewSheet(countsSheet); err != nil {
		return nil, err
	}
	countHeaders := []interface{}{"Run ID", "Resource", "Received", "Created", "Updated", "Skipped", "Errored"}
	if err := f.SetSheetRow(countsSheet, "A1", &countHeaders); err != nil {
		return nil, err
	}
	for i, row := range resources {
		values := []interface{}{row.SyncRunId, row.Resource, row.Received, row.Created, row.Updated, row.Skipped, row.Errored}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(countsSheet, cell, &values); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func exportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
