package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GlAccountMapping maps a source GL account code to a utility type for
// expense auto-categorization.
type GlAccountMapping struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	GlAccountCode string    `gorm:"uniqueIndex;size:64;not null" json:"gl_account_code"`
	UtilityType   string    `gorm:"size:64;not null" json:"utility_type"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ResolveUtilityType returns the utility type for a GL account code, or ""
// when the account is unmapped.
func ResolveUtilityType(ctx context.Context, db *gorm.DB, glAccountCode string) (string, error) {
	if glAccountCode == "" {
		return "", nil
	}
	var mapping GlAccountMapping
	err := db.WithContext(ctx).
		Where("gl_account_code = ?", glAccountCode).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return mapping.UtilityType, nil
}
