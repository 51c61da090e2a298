package models

import "time"

const (
	UserRoleAdmin    = "admin"
	UserRoleOperator = "operator"
)

// User is an operator account for the trigger surface.
type User struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:128;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:32;not null" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
