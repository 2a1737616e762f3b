package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey stores a hashed credential acting on behalf of one user.
type APIKey struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	Owner            string       `gorm:"type:varchar(150);not null;index"`
	KeyID            string       `gorm:"column:key_id;type:varchar(64);not null;uniqueIndex"`
	Name             string       `gorm:"type:varchar(128);not null"`
	KeyHash          string       `gorm:"column:key_hash;type:varchar(64);not null;uniqueIndex"`
	IsActive         bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`
	LastUsedAt       *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time   `gorm:"column:expires_at"`
	RotatedFromKeyID *string      `gorm:"column:rotated_from_key_id;type:varchar(64)"`
}

func (APIKey) TableName() string { return "api_keys" }

// Usable reports whether the key may authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	return k.IsActive && (k.ExpiresAt == nil || now.Before(*k.ExpiresAt))
}
