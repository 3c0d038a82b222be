package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/counters"
	"github.com/yescateam/camp-desk-api/internal/models"
	"gorm.io/gorm"
)

var errRollback = errors.New("rollback: state changed since read")

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadRegistration(ctx context.Context, campID, registrationID string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.WithContext(ctx).
		Where("camp_id = ? AND registration_id = ?", campID, registrationID).
		First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("Registration not found")
	}
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to load registration")
	}
	return &reg, nil
}

func (s *GormStore) LoadCounter(ctx context.Context, name string) (models.Counter, error) {
	c, err := counters.Get(ctx, s.db, name)
	if err != nil {
		return models.Counter{}, apperr.Dependency(err, "Failed to read counters")
	}
	return c, nil
}

func (s *GormStore) CommitFirstPrint(ctx context.Context, fp FirstPrint) (TxResult, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := counters.CompareAndSet(tx, fp.Counter, fp.Next, fp.At)
		if err != nil {
			return err
		}
		if !ok {
			return errRollback
		}

		updates := map[string]any{
			"group_name":         fp.Group,
			"attended_number":    fp.Next,
			"attendance_status":  models.AttendanceCheckedIn,
			"id_card_printed":    true,
			"id_card_printed_at": fp.At,
			"updated_at":         fp.At,
		}
		collectedUpdates(updates, fp.CollectedItem, fp.At)

		res := tx.Model(&models.Registration{}).
			Where("camp_id = ? AND registration_id = ? AND group_name IS NULL", fp.CampID, fp.RegistrationID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errRollback
		}
		return nil
	})

	switch {
	case err == nil:
		return Committed, nil
	case errors.Is(err, errRollback), errors.Is(err, gorm.ErrDuplicatedKey):
		return Conflict, nil
	default:
		return Conflict, apperr.Dependency(err, "Failed to update registration")
	}
}

func (s *GormStore) CommitReprint(ctx context.Context, rp Reprint) (TxResult, error) {
	updates := map[string]any{
		"id_card_printed_at": rp.At,
		"updated_at":         rp.At,
	}
	collectedUpdates(updates, rp.CollectedItem, rp.At)

	res := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("camp_id = ? AND registration_id = ? AND group_name IS NOT NULL", rp.CampID, rp.RegistrationID).
		Updates(updates)
	if res.Error != nil {
		return Conflict, apperr.Dependency(res.Error, "Failed to update registration")
	}
	if res.RowsAffected != 1 {
		return Conflict, nil
	}
	return Committed, nil
}

func collectedUpdates(updates map[string]any, collected *bool, at time.Time) {
	if collected == nil {
		return
	}
	updates["collected_faithbox"] = *collected
	if *collected {
		updates["faithbox_collected_at"] = at
	} else {
		updates["faithbox_collected_at"] = nil
	}
}
