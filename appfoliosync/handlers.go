package appfoliosync

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
	"gorm.io/gorm"
)

func LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var user models.User
		if err := db.Where("username = ?", strings.TrimSpace(req.Username)).Take(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(user.PasswordHash, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, err := utils.JwtGenerate(int(user.ID), user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = config.SetRedisObject("Token:"+token, user, 24*time.Hour)
		c.JSON(http.StatusOK, gin.H{"token": token, "role": user.Role})
	}
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if conn == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Connection: ConnectionResponse{Status: models.ConnectionStatusDisconnected},
				Settings:   DefaultSettings(),
			})
			return
		}

		db := config.GetDB().WithContext(ctx)
		resp := StatusResponse{
			Connection: ConnectionResponse{
				Status:  conn.Status,
				BaseURL: conn.BaseURL,
			},
			LastSyncAt:    formatTime(conn.LastSyncAt),
			LastSuccessAt: formatTime(conn.LastSuccessAt),
			Settings:      DecodeSettings(conn.SettingsJSON),
		}

		var alert models.SyncFailureAlert
		if err := db.Where("connection_id = ?", conn.ID).Take(&alert).Error; err == nil {
			resp.Alert = &AlertResponse{
				ConsecutiveFailures: alert.ConsecutiveFailures,
				Acknowledged:        alert.Acknowledged,
				LastAlertedAt:       formatTime(alert.LastAlertedAt),
			}
		}

		var latest models.SyncRun
		if err := db.Where("connection_id = ?", conn.ID).Order("id desc").Limit(1).Take(&latest).Error; err == nil {
			run := mapRunToResponse(latest)
			run.Stale = runIsStale(latest, time.Now())
			resp.LatestRun = &run
		}

		c.JSON(http.StatusOK, resp)
	}
}

// ConnectHandler stores credentials after verifying them with a live call.
// The secret is encrypted before it touches the database and never echoed
// back in any response.
func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		limiter := NewRateLimiter(config.GetRedisDB(), "appfolio:ratelimit", config.IntFromEnv("SYNC_RATE_LIMIT_PER_MIN", 60))
		client, err := newAppfolioClient(req.BaseURL, req.ClientID, req.ClientSecret, limiter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := client.ping(pingCtx); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "credential verification failed"})
			return
		}

		secretEnc, err := utils.EncryptSecret(req.ClientSecret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "credential encryption failed"})
			return
		}

		db := config.GetDB().WithContext(ctx)
		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if conn == nil {
			conn = &models.ApiConnection{
				Provider:        models.SyncProviderAppFolio,
				Status:          models.ConnectionStatusConnected,
				BaseURL:         req.BaseURL,
				ClientID:        req.ClientID,
				ClientSecretEnc: secretEnc,
				SettingsJSON:    EncodeSettings(DefaultSettings()),
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":            models.ConnectionStatusConnected,
				"base_url":          req.BaseURL,
				"client_id":         req.ClientID,
				"client_secret_enc": secretEnc,
			}
			if len(conn.SettingsJSON) == 0 {
				update["settings_json"] = EncodeSettings(DefaultSettings())
			}
			if err := db.Model(conn).Updates(update).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		db := config.GetDB().WithContext(ctx)
		if err := db.Model(conn).Updates(map[string]interface{}{
			"status":            models.ConnectionStatusDisconnected,
			"client_secret_enc": []byte(nil),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		settings := DefaultSettings()
		if conn != nil {
			settings = DecodeSettings(conn.SettingsJSON)
		}
		settings.Resources = NormalizeResources(req.Resources)
		if req.Hours != nil {
			if _, err := time.LoadLocation(req.Hours.Timezone); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timezone"})
				return
			}
			if _, err := time.Parse("15:04", req.Hours.FullSyncAt); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "fullSyncAt must be HH:MM"})
				return
			}
			settings.Hours = *req.Hours
		}

		db := config.GetDB().WithContext(ctx)
		if conn == nil {
			conn = &models.ApiConnection{
				Provider:     models.SyncProviderAppFolio,
				Status:       models.ConnectionStatusDisconnected,
				SettingsJSON: EncodeSettings(settings),
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := db.Model(conn).Updates(map[string]interface{}{
				"settings_json": EncodeSettings(settings),
			}).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ListGlMappingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var mappings []models.GlAccountMapping
		if err := config.GetDB().WithContext(c.Request.Context()).
			Order("gl_account_code asc").
			Find(&mappings).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mappings": mappings})
	}
}

// UpsertGlMappingsHandler stores GL account categorization rules keyed by
// account code, so re-submitting a code replaces its utility type.
func UpsertGlMappingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GlMappingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		for _, entry := range req.Mappings {
			code := strings.TrimSpace(entry.GlAccountCode)
			if code == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "gl account code must not be blank"})
				return
			}
			var mapping models.GlAccountMapping
			err := db.Where("gl_account_code = ?", code).Take(&mapping).Error
			switch {
			case err == nil:
				if uerr := db.Model(&mapping).Updates(map[string]interface{}{
					"utility_type": strings.TrimSpace(entry.UtilityType),
				}).Error; uerr != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": uerr.Error()})
					return
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				mapping = models.GlAccountMapping{
					GlAccountCode: code,
					UtilityType:   strings.TrimSpace(entry.UtilityType),
				}
				if cerr := db.Create(&mapping).Error; cerr != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": cerr.Error()})
					return
				}
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TriggerSyncHandler starts a manual run. A preset resolves to a date range;
// the custom preset requires explicit bounds.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := c.Request.Context()
		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "appfolio is not connected"})
			return
		}

		mode := req.Mode
		if mode == "" {
			mode = models.SyncModeFull
		}

		var rangeFrom, rangeTo *time.Time
		now := time.Now()
		if preset := strings.TrimSpace(req.Preset); preset != "" {
			if preset == PresetCustom {
				from, to, perr := parseCustomRange(req.From, req.To, now)
				if perr != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
					return
				}
				rangeFrom, rangeTo = from, to
			} else {
				rng, perr := RangeFromPreset(preset, now)
				if perr != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
					return
				}
				rangeTo = &rng.To
				if !rng.From.IsZero() {
					from := rng.From
					rangeFrom = &from
				}
			}
			mode = models.SyncModeFull
		}

		run, err := enqueueRun(ctx, conn, mode, models.SyncTriggeredManual, rangeFrom, rangeTo, nil)
		if err != nil {
			if errors.Is(err, ErrRunInFlight) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func parseCustomRange(fromStr string, toStr string, now time.Time) (*time.Time, *time.Time, error) {
	from, err := time.Parse("2006-01-02", strings.TrimSpace(fromStr))
	if err != nil {
		return nil, nil, errors.New("from must be YYYY-MM-DD")
	}
	to := now
	if strings.TrimSpace(toStr) != "" {
		to, err = time.Parse("2006-01-02", strings.TrimSpace(toStr))
		if err != nil {
			return nil, nil, errors.New("to must be YYYY-MM-DD")
		}
	}
	if to.Before(from) {
		return nil, nil, errors.New("to must not precede from")
	}
	return &from, &to, nil
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var runs []models.SyncRun
		if err := db.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var run models.SyncRun
		if err := db.Where("id = ?", id).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var resources []models.SyncRunResource
		if err := db.Where("sync_run_id = ?", run.ID).Order("id").Find(&resources).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		var errs []models.SyncRunError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Limit(200).Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Resources:       mapResources(resources),
			Errors:          mapErrors(errs),
		})
	}
}

// RetrySyncRunHandler requeues a failed run as a new run with the same
// range, linked through parent_run_id.
func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB().WithContext(ctx)
		var run models.SyncRun
		if err := db.Where("id = ?", id).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run.Status != models.SyncRunStatusFailed {
			c.JSON(http.StatusConflict, gin.H{"error": "only failed runs can be retried"})
			return
		}

		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "appfolio is not connected"})
			return
		}

		parentId := run.ID
		newRun, err := enqueueRun(ctx, conn, run.Mode, models.SyncTriggeredRetry, run.RangeFrom, run.RangeTo, &parentId)
		if err != nil {
			if errors.Is(err, ErrRunInFlight) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func AckAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AckAlertRequest
		_ = c.ShouldBindJSON(&req)

		ctx := c.Request.Context()
		conn, err := models.GetConnection(ctx, models.SyncProviderAppFolio)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no connection"})
			return
		}

		username, _ := utils.GetUsernameFromContext(ctx)
		alerter := NewAlerter(config.GetDB(), nil)
		if err := alerter.Acknowledge(ctx, conn.ID, username); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// runIsStale reports a running run whose worker has exceeded the run
// deadline, meaning the lock has lapsed and no finalizer will arrive.
func runIsStale(run models.SyncRun, now time.Time) bool {
	if run.Status != models.SyncRunStatusRunning || run.StartedAt == nil {
		return false
	}
	return now.Sub(*run.StartedAt) > runTimeout()+time.Minute
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:           run.ID,
		Mode:         run.Mode,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		StartedAt:    formatTime(run.StartedAt),
		CompletedAt:  formatTime(run.CompletedAt),
		DurationMs:   run.DurationMs,
		ErrorCode:    run.ErrorCode,
		ErrorSummary: run.ErrorSummary,
		Note:         run.Note,
	}
}

func mapResources(rows []models.SyncRunResource) []ResourceCountResponse {
	out := make([]ResourceCountResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, ResourceCountResponse{
			Resource: row.Resource,
			Received: row.Received,
			Created:  row.Created,
			Updated:  row.Updated,
			Skipped:  row.Skipped,
			Errored:  row.Errored,
		})
	}
	return out
}

func mapErrors(errorsList []models.SyncRunError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			Resource:   errItem.Resource,
			ExternalId: errItem.ExternalId,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
		})
	}
	return out
}
