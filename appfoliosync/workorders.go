package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rilaconsulting/pmpulse-sub006/models"
	"gorm.io/gorm"
)

type rawWorkOrder struct {
	ID            string      `json:"id"`
	PropertyID    string      `json:"property_id"`
	VendorID      string      `json:"vendor_id"`
	Description   string      `json:"description"`
	Status        string      `json:"status"`
	Priority      string      `json:"priority"`
	EstimatedCost json.Number `json:"estimated_cost"`
	OpenedAt      string      `json:"opened_at"`
	ClosedAt      string      `json:"closed_at"`
	UpdatedAt     string      `json:"updated_at"`
}

func mapWorkOrder(rec rawWorkOrder, propertyId uint, vendorId *uint) models.WorkOrder {
	w := models.WorkOrder{
		ExternalId:    strings.TrimSpace(rec.ID),
		PropertyId:    propertyId,
		VendorId:      vendorId,
		Description:   strings.TrimSpace(rec.Description),
		Status:        strings.TrimSpace(rec.Status),
		Priority:      strings.TrimSpace(rec.Priority),
		EstimatedCost: decimalFromNumber(rec.EstimatedCost),
		OpenedAt:      parseSourceTime(rec.OpenedAt),
		ClosedAt:      parseSourceTime(rec.ClosedAt),
	}
	w.SourceUpdatedAt = parseSourceTime(rec.UpdatedAt)
	return w
}

func syncWorkOrders(ctx context.Context, env *syncEnv) (resourceCounts, error) {
	return runResource(ctx, env, models.ResourceWorkOrders, func(ctx context.Context, raw json.RawMessage) outcome {
		var rec rawWorkOrder
		if err := json.Unmarshal(raw, &rec); err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceWorkOrders, "", "invalid_payload", err.Error(), raw)
			return outcomeErrored
		}
		extID := strings.TrimSpace(rec.ID)
		if extID == "" {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceWorkOrders, "", "missing_id", "work order id missing", raw)
			return outcomeErrored
		}

		propertyId, err := resolvePropertyId(ctx, env, rec.PropertyID)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceWorkOrders, extID, "property_missing", err.Error(), raw)
			return outcomeErrored
		}

		// a vendor the source never sent stays nil, not an error
		vendorId, err := resolveVendorId(ctx, env, rec.VendorID)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceWorkOrders, extID, "vendor_lookup_failed", err.Error(), raw)
			return outcomeErrored
		}

		entity := mapWorkOrder(rec, propertyId, vendorId)
		created, _, err := upsertWorkOrder(ctx, env.db, entity)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceWorkOrders, extID, "upsert_failed", err.Error(), raw)
			return outcomeErrored
		}
		return upsertOutcome(created)
	})
}

func upsertWorkOrder(ctx context.Context, db *gorm.DB, w models.WorkOrder) (created bool, changed bool, err error) {
	var existing models.WorkOrder
	err = db.WithContext(ctx).Where("external_id = ?", w.ExternalId).Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if cerr := db.WithContext(ctx).Create(&w).Error; cerr != nil {
				return false, false, cerr
			}
			return true, false, nil
		}
		return false, false, err
	}

	if sourceUnchanged(existing.SourceUpdatedAt, w.SourceUpdatedAt) {
		return false, false, nil
	}

	if uerr := db.WithContext(ctx).Model(&models.WorkOrder{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"property_id":       w.PropertyId,
			"vendor_id":         w.VendorId,
			"description":       w.Description,
			"status":            w.Status,
			"priority":          w.Priority,
			"estimated_cost":    w.EstimatedCost,
			"opened_at":         w.OpenedAt,
			"closed_at":         w.ClosedAt,
			"source_updated_at": w.SourceUpdatedAt,
		}).Error; uerr != nil {
		return false, false, uerr
	}
	return false, true, nil
}
