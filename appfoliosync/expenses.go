package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"gorm.io/gorm"
)

type rawExpense struct {
	ID            string      `json:"id"`
	PropertyID    string      `json:"property_id"`
	VendorID      string      `json:"vendor_id"`
	Amount        json.Number `json:"amount"`
	GlAccountCode string      `json:"gl_account_code"`
	Memo          string      `json:"memo"`
	IncurredAt    string      `json:"incurred_at"`
	UpdatedAt     string      `json:"updated_at"`
}

func mapExpense(rec rawExpense, propertyId uint, vendorId *uint, utilityType string) models.Expense {
	e := models.Expense{
		ExternalId:    strings.TrimSpace(rec.ID),
		PropertyId:    propertyId,
		VendorId:      vendorId,
		Amount:        decimalFromNumber(rec.Amount),
		GlAccountCode: strings.TrimSpace(rec.GlAccountCode),
		UtilityType:   utilityType,
		Memo:          strings.TrimSpace(rec.Memo),
		IncurredAt:    parseSourceTime(rec.IncurredAt),
	}
	e.SourceUpdatedAt = parseSourceTime(rec.UpdatedAt)
	return e
}

func syncExpenses(ctx context.Context, env *syncEnv) (resourceCounts, error) {
	return runResource(ctx, env, models.ResourceExpenses, func(ctx context.Context, raw json.RawMessage) outcome {
		var rec rawExpense
		if err := json.Unmarshal(raw, &rec); err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceExpenses, "", "invalid_payload", err.Error(), raw)
			return outcomeErrored
		}
		extID := strings.TrimSpace(rec.ID)
		if extID == "" {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceExpenses, "", "missing_id", "expense id missing", raw)
			return outcomeErrored
		}

		propertyId, err := resolvePropertyId(ctx, env, rec.PropertyID)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceExpenses, extID, "property_missing", err.Error(), raw)
			return outcomeErrored
		}
		vendorId, err := resolveVendorId(ctx, env, rec.VendorID)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceExpenses, extID, "vendor_lookup_failed", err.Error(), raw)
			return outcomeErrored
		}

		// an unmapped GL account leaves utility type blank and still syncs
		utilityType, err := models.ResolveUtilityType(ctx, env.db, rec.GlAccountCode)
		if err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "syncExpenses", "gl mapping", map[string]interface{}{"glAccountCode": rec.GlAccountCode}, err)
			utilityType = ""
		}

		entity := mapExpense(rec, propertyId, vendorId, utilityType)
		created, _, err := upsertExpense(ctx, env.db, entity)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceExpenses, extID, "upsert_failed", err.Error(), raw)
			return outcomeErrored
		}
		return upsertOutcome(created)
	})
}

// upsertExpense writes the synced columns only. ManualAdjusted is operator
// owned and never touched here.
func upsertExpense(ctx context.Context, db *gorm.DB, e models.Expense) (created bool, changed bool, err error) {
	var existing models.Expense
	err = db.WithContext(ctx).Where("external_id = ?", e.ExternalId).Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if cerr := db.WithContext(ctx).Create(&e).Error; cerr != nil {
				return false, false, cerr
			}
			return true, false, nil
		}
		return false, false, err
	}

	if sourceUnchanged(existing.SourceUpdatedAt, e.SourceUpdatedAt) {
		return false, false, nil
	}

	if uerr := db.WithContext(ctx).Model(&models.Expense{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"property_id":       e.PropertyId,
			"vendor_id":         e.VendorId,
			"amount":            e.Amount,
			"gl_account_code":   e.GlAccountCode,
			"utility_type":      e.UtilityType,
			"memo":              e.Memo,
			"incurred_at":       e.IncurredAt,
			"source_updated_at": e.SourceUpdatedAt,
		}).Error; uerr != nil {
		return false, false, uerr
	}
	return false, true, nil
}
