package database

import (
	"errors"
	"time"

	"github.com/driftlabs/driftboard/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeEventTypes = "2026-07-18_normalize_event_types"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeEventTypes, apply: normalizeEventTypes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written by early builds carried uppercase event types.
func normalizeEventTypes(db *gorm.DB) error {
	return db.Model(&events.CanvasEvent{}).
		Where("event_type <> lower(event_type)").
		Update("event_type", gorm.Expr("lower(event_type)")).Error
}
