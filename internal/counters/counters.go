// Package counters issues values from the named sequences in the counters table.
//
// Writers never increment blindly. They read a counter, compute the next value
// and write it back only if the row still carries the version they read, so two
// issuers racing on the same row cannot both succeed.
package counters

import (
	"context"
	"errors"
	"time"

	"github.com/yescateam/camp-desk-api/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Get reads a counter. A missing row reads as value 0, version 0.
func Get(ctx context.Context, db *gorm.DB, name string) (models.Counter, error) {
	var c models.Counter
	err := db.WithContext(ctx).Where("name = ?", name).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Counter{Name: name}, nil
	}
	if err != nil {
		return models.Counter{}, err
	}
	return c, nil
}

// CompareAndSet writes next to the counter if it is still at the version in
// read. It reports false when another writer got there first.
func CompareAndSet(tx *gorm.DB, read models.Counter, next int64, at time.Time) (bool, error) {
	if read.Version == 0 {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Counter{
			Name:      read.Name,
			Value:     next,
			Version:   1,
			UpdatedAt: at,
		})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 1 {
			return true, nil
		}
		// The row was seeded at version 0; fall through to the versioned update.
	}

	res := tx.Model(&models.Counter{}).
		Where("name = ? AND version = ?", read.Name, read.Version).
		Updates(map[string]any{
			"value":      next,
			"version":    read.Version + 1,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// List returns every counter ordered by name.
func List(ctx context.Context, db *gorm.DB) ([]models.Counter, error) {
	var out []models.Counter
	err := db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}
