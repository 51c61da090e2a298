package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/models"
	"gorm.io/gorm"
)

type rawProperty struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address1"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	PropertyType string `json:"property_type"`
	UnitCount    int    `json:"unit_count"`
	Active       *bool  `json:"active"`
	UpdatedAt    string `json:"updated_at"`
}

// mapProperty builds the synced portion of a property row. Local-only fields
// and geocoding results stay out of the mapping entirely.
func mapProperty(rec rawProperty) models.Property {
	active := true
	if rec.Active != nil {
		active = *rec.Active
	}
	p := models.Property{
		ExternalId: strings.TrimSpace(rec.ID),
		Name:       strings.TrimSpace(rec.Name),
		Address:    strings.TrimSpace(rec.Address),
		City:       strings.TrimSpace(rec.City),
		State:      strings.TrimSpace(rec.State),
		PostalCode: strings.TrimSpace(rec.PostalCode),
		Type:       strings.TrimSpace(rec.PropertyType),
		UnitCount:  rec.UnitCount,
		Active:     active,
	}
	if t := parseSourceTime(rec.UpdatedAt); t != nil {
		p.SourceUpdatedAt = t
	}
	if p.Name == "" {
		p.Name = "Property " + p.ExternalId
	}
	return p
}

func syncProperties(ctx context.Context, env *syncEnv) (resourceCounts, error) {
	return runResource(ctx, env, models.ResourceProperties, func(ctx context.Context, raw json.RawMessage) outcome {
		var rec rawProperty
		if err := json.Unmarshal(raw, &rec); err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceProperties, "", "invalid_payload", err.Error(), raw)
			return outcomeErrored
		}
		if strings.TrimSpace(rec.ID) == "" {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceProperties, "", "missing_id", "property id missing", raw)
			return outcomeErrored
		}

		entity := mapProperty(rec)
		created, _, err := upsertProperty(ctx, env.db, entity)
		if err != nil {
			recordSyncError(ctx, env.db, env.run.ID, models.ResourceProperties, entity.ExternalId, "upsert_failed", err.Error(), raw)
			return outcomeErrored
		}
		return upsertOutcome(created)
	})
}

// upsertProperty creates or refreshes a row keyed on external_id. Only the
// synced columns are written, so notes, manual rank and geocoding results
// survive every sync. A stale source timestamp skips the write.
func upsertProperty(ctx context.Context, db *gorm.DB, p models.Property) (created bool, changed bool, err error) {
	var existing models.Property
	err = db.WithContext(ctx).Where("external_id = ?", p.ExternalId).Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if cerr := db.WithContext(ctx).Create(&p).Error; cerr != nil {
				return false, false, cerr
			}
			return true, false, nil
		}
		return false, false, err
	}

	if sourceUnchanged(existing.SourceUpdatedAt, p.SourceUpdatedAt) {
		return false, false, nil
	}

	updates := map[string]interface{}{
		"name":              p.Name,
		"address":           p.Address,
		"city":              p.City,
		"state":             p.State,
		"postal_code":       p.PostalCode,
		"type":              p.Type,
		"unit_count":        p.UnitCount,
		"active":            p.Active,
		"source_updated_at": p.SourceUpdatedAt,
	}
	if addressChanged(existing, p) {
		// stale coordinates, the geocode job will pick the row back up
		updates["latitude"] = nil
		updates["longitude"] = nil
		updates["geocoded_at"] = nil
	}
	if uerr := db.WithContext(ctx).Model(&models.Property{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; uerr != nil {
		return false, false, uerr
	}
	return false, true, nil
}

func addressChanged(existing models.Property, incoming models.Property) bool {
	return existing.Address != incoming.Address ||
		existing.City != incoming.City ||
		existing.State != incoming.State ||
		existing.PostalCode != incoming.PostalCode
}

// sourceUnchanged reports whether the incoming record carries a source
// timestamp no newer than the stored one. Records without timestamps are
// always written.
func sourceUnchanged(stored *time.Time, incoming *time.Time) bool {
	return stored != nil && incoming != nil && !incoming.After(*stored)
}

func parseSourceTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t
	}
	return nil
}

// resolvePropertyId maps a source property id to the local primary key,
// consulting the per-run cache first.
func resolvePropertyId(ctx context.Context, env *syncEnv, externalId string) (uint, error) {
	externalId = strings.TrimSpace(externalId)
	if externalId == "" {
		return 0, errors.New("property reference missing")
	}
	if env.propertyIds == nil {
		env.propertyIds = map[string]uint{}
	}
	if id, ok := env.propertyIds[externalId]; ok {
		return id, nil
	}

	var property models.Property
	err := env.db.WithContext(ctx).Where("external_id = ?", externalId).Take(&property).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errors.New("property not synced: " + externalId)
		}
		return 0, err
	}
	env.propertyIds[externalId] = property.ID
	return property.ID, nil
}
