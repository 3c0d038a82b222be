package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a state-changing action.
type AuditLog struct {
	ID           uuid.UUID       `gorm:"primaryKey;type:uuid" json:"id"`
	Action       string          `gorm:"size:64;not null;index" json:"action"`
	ResourceType string          `gorm:"size:32;not null" json:"resource_type"`
	ResourceID   string          `gorm:"size:64;index" json:"resource_id"`
	ActorType    string          `gorm:"size:32;not null" json:"actor_type"`
	ActorID      string          `gorm:"size:128;not null" json:"actor_id"`
	Details      json.RawMessage `gorm:"type:text" json:"details,omitempty"`
	Timestamp    time.Time       `gorm:"not null;index" json:"timestamp"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	return nil
}
