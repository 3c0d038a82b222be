// Package audit writes append-only audit entries for state-changing actions.
//
// Recording is fire-and-forget: a failed write is logged and dropped, it never
// fails or rolls back the action being audited.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yescateam/camp-desk-api/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActorAdmin  = "admin"
	ActorSystem = "system"
	ActorMember = "member"
)

type Actor struct {
	Type string
	ID   string
}

func System(id string) Actor {
	return Actor{Type: ActorSystem, ID: id}
}

type Entry struct {
	Action       string
	ResourceType string
	ResourceID   string
	Actor        Actor
	Details      map[string]any
	Timestamp    time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

type DBRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDBRecorder(db *gorm.DB, logger *zap.Logger) *DBRecorder {
	return &DBRecorder{db: db, logger: logger}
}

func (r *DBRecorder) Record(ctx context.Context, e Entry) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		r.logger.Warn("audit details not serializable", zap.String("action", e.Action), zap.Error(err))
		details = nil
	}

	entry := models.AuditLog{
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		ActorType:    e.Actor.Type,
		ActorID:      e.Actor.ID,
		Details:      details,
		Timestamp:    e.Timestamp.UTC(),
	}

	// Detached from the request context so a client hang-up does not drop the entry.
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		r.logger.Error("failed to write audit log",
			zap.String("action", e.Action),
			zap.String("resource_id", e.ResourceID),
			zap.Error(err))
	}
}

// Nop drops every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
