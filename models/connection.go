package models

import (
	"context"
	"errors"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"gorm.io/gorm"
)

// ApiConnection holds the external API credentials and settings. The service
// is single tenant so there is normally exactly one row per provider. The
// client secret is stored encrypted (utils.EncryptSecret) and decrypted only
// when a client is built for a run.
type ApiConnection struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	Provider        string     `gorm:"uniqueIndex;size:50;not null" json:"provider"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	BaseURL         string     `gorm:"size:255" json:"base_url"`
	ClientID        string     `gorm:"size:128" json:"client_id"`
	ClientSecretEnc []byte     `gorm:"type:blob" json:"-"`
	SettingsJSON    []byte     `gorm:"type:json" json:"settings"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	LastSuccessAt   *time.Time `json:"last_success_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetConnection(ctx context.Context, provider string) (*ApiConnection, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var conn ApiConnection
	err := db.WithContext(ctx).Where("provider = ?", provider).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}
