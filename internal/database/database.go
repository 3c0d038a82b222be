package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.DatabaseDriver) {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DatabaseDSN)
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// SQLite allows a single writer; one connection keeps transactions serialized.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	return db, nil
}

// Migrate creates the schema and makes sure every counter row exists.
func Migrate(db *gorm.DB, campID string) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Member{},
		&models.Registration{},
		&models.RegistrationHistory{},
		&models.Counter{},
		&models.PendingRegistration{},
		&models.Payment{},
		&models.AuditLog{},
		&models.OTPVerification{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	return SeedCounters(db, campID)
}

func SeedCounters(db *gorm.DB, campID string) error {
	now := time.Now().UTC()
	counters := []models.Counter{
		{Name: models.MemberCounter, UpdatedAt: now},
		{Name: models.RegistrationCounter(campID), UpdatedAt: now},
		{Name: models.AttendedCounter(campID), UpdatedAt: now},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counters).Error
}

// Connect opens and migrates the database.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cfg.CampID); err != nil {
		return nil, err
	}
	return db, nil
}
