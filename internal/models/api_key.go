package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey lets an unattended print station act on behalf of a staff user.
// UseCount is bumped on every authenticated request, so a desk lead can see
// which scanners are live during check-in.
type APIKey struct {
	gorm.Model
	UserID     uint `gorm:"index"`
	User       User
	Key        string `gorm:"uniqueIndex;size:64"`
	Name       string `gorm:"size:64"`
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	UseCount   int64 `gorm:"not null;default:0"`
}
