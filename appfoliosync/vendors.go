package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
	"gorm.io/gorm"
)

type rawVendor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Category  string `json:"category"`
	Active    *bool  `json:"active"`
	UpdatedAt string `json:"updated_at"`
}

func mapVendor(rec rawVendor) models.Vendor {
	active := true
	if rec.Active != nil {
		active = *rec.Active
	}
	v := models.Vendor{
		ExternalId: strings.TrimSpace(rec.ID),
		Name:       strings.TrimSpace(rec.Name),
		Email:      strings.TrimSpace(rec.Email),
		Phone:      utils.NormalizePhone(rec.Phone),
		Category:   strings.TrimSpace(rec.Category),
		Active:     active,
	}
	v.SourceUpdatedAt = parseSourceTime(rec.UpdatedAt)
	if v.Name == "" {
		v.Name = "Vendor " + v.ExternalId
	}
	return v
}

func syncVendors(ctx context.Context, env *syncEnv) (resourceCounts, error) {
	return runResource(ctx, env, models.ResourceVendors, func(ctx context.Context, raw json.RawMessage) outcome {
		var rec rawVendor
		if err := json.Unmarshal(raw, &rec); err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceVendors, "", "invalid_payload", err.Error(), raw)
			return outcomeErrored
		}
		if strings.TrimSpace(rec.ID) == "" {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceVendors, "", "missing_id", "vendor id missing", raw)
			return outcomeErrored
		}

		entity := mapVendor(rec)
		created, _, err := upsertVendor(ctx, env.db, entity)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceVendors, entity.ExternalId, "upsert_failed", err.Error(), raw)
			return outcomeErrored
		}
		return upsertOutcome(created)
	})
}

func upsertVendor(ctx context.Context, db *gorm.DB, v models.Vendor) (created bool, changed bool, err error) {
	var existing models.Vendor
	err = db.WithContext(ctx).Where("external_id = ?", v.ExternalId).Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if cerr := db.WithContext(ctx).Create(&v).Error; cerr != nil {
				return false, false, cerr
			}
			return true, false, nil
		}
		return false, false, err
	}

	if sourceUnchanged(existing.SourceUpdatedAt, v.SourceUpdatedAt) {
		return false, false, nil
	}

	if uerr := db.WithContext(ctx).Model(&models.Vendor{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"name":              v.Name,
			"email":             v.Email,
			"phone":             v.Phone,
			"category":          v.Category,
			"active":            v.Active,
			"source_updated_at": v.SourceUpdatedAt,
		}).Error; uerr != nil {
		return false, false, uerr
	}
	return false, true, nil
}

// resolveVendorId maps a source vendor id to the local primary key. A blank
// reference resolves to nil since vendors are optional on work orders and
// expenses.
func resolveVendorId(ctx context.Context, env *syncEnv, externalId string) (*uint, error) {
	externalId = strings.TrimSpace(externalId)
	if externalId == "" {
		return nil, nil
	}
	if env.vendorIds == nil {
		env.vendorIds = map[string]uint{}
	}
	if id, ok := env.vendorIds[externalId]; ok {
		return &id, nil
	}

	var vendor models.Vendor
	err := env.db.WithContext(ctx).Where("external_id = ?", externalId).Take(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	env.vendorIds[externalId] = vendor.ID
	id := vendor.ID
	return &id, nil
}
