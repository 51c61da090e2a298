package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type rawUnit struct {
	ID         string      `json:"id"`
	PropertyID string      `json:"property_id"`
	UnitNumber string      `json:"unit_number"`
	Bedrooms   int         `json:"bedrooms"`
	Bathrooms  float64     `json:"bathrooms"`
	SquareFeet int         `json:"square_feet"`
	MarketRent json.Number `json:"market_rent"`
	Status     string      `json:"status"`
	UpdatedAt  string      `json:"updated_at"`
}

func mapUnit(rec rawUnit, propertyId uint) models.Unit {
	u := models.Unit{
		ExternalId: strings.TrimSpace(rec.ID),
		PropertyId: propertyId,
		UnitNumber: strings.TrimSpace(rec.UnitNumber),
		Bedrooms:   rec.Bedrooms,
		Bathrooms:  rec.Bathrooms,
		SquareFeet: rec.SquareFeet,
		MarketRent: decimalFromNumber(rec.MarketRent),
		Status:     strings.TrimSpace(rec.Status),
	}
	u.SourceUpdatedAt = parseSourceTime(rec.UpdatedAt)
	return u
}

func syncUnits(ctx context.Context, env *syncEnv) (resourceCounts, error) {
	return runResource(ctx, env, models.ResourceUnits, func(ctx context.Context, raw json.RawMessage) outcome {
		var rec rawUnit
		if err := json.Unmarshal(raw, &rec); err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceUnits, "", "invalid_payload", err.Error(), raw)
			return outcomeErrored
		}
		extID := strings.TrimSpace(rec.ID)
		if extID == "" {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceUnits, "", "missing_id", "unit id missing", raw)
			return outcomeErrored
		}

		propertyId, err := resolvePropertyId(ctx, env, rec.PropertyID)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceUnits, extID, "property_missing", err.Error(), raw)
			return outcomeErrored
		}

		entity := mapUnit(rec, propertyId)
		created, _, err := upsertUnit(ctx, env.db, entity)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceUnits, extID, "upsert_failed", err.Error(), raw)
			return outcomeErrored
		}
		return upsertOutcome(created)
	})
}

func upsertUnit(ctx context.Context, db *gorm.DB, u models.Unit) (created bool, changed bool, err error) {
	var existing models.Unit
	err = db.WithContext(ctx).Where("external_id = ?", u.ExternalId).Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if cerr := db.WithContext(ctx).Create(&u).Error; cerr != nil {
				return false, false, cerr
			}
			return true, false, nil
		}
		return false, false, err
	}

	if sourceUnchanged(existing.SourceUpdatedAt, u.SourceUpdatedAt) {
		return false, false, nil
	}

	if uerr := db.WithContext(ctx).Model(&models.Unit{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"property_id":       u.PropertyId,
			"unit_number":       u.UnitNumber,
			"bedrooms":          u.Bedrooms,
			"bathrooms":         u.Bathrooms,
			"square_feet":       u.SquareFeet,
			"market_rent":       u.MarketRent,
			"status":            u.Status,
			"source_updated_at": u.SourceUpdatedAt,
		}).Error; uerr != nil {
		return false, false, uerr
	}
	return false, true, nil
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	d, err := utils.ConvertStringToDecimal(num.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
