package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cryoqueue-backend/config"
	"cryoqueue-backend/internal/model"
)

// Init opens the postgres connection pool and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.LogQueries {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Msg("database initialization complete")
	return db, nil
}

// Migrate creates or updates the schema. It works on both postgres and sqlite.
func Migrate(db *gorm.DB) error {
	log.Debug().Msg("running database migrations")
	if err := db.AutoMigrate(
		&model.Machine{},
		&model.QueueEntry{},
		&model.Notification{},
		&model.ArchivedMeasurement{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	if err := applyQueueDDL(db); err != nil {
		return err
	}
	return nil
}

// applyQueueDDL installs the constraint that keeps queued positions unique per
// machine. Positions of non-queued entries are ignored, and NULL never collides.
func applyQueueDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_queue_entries_machine_position " +
			"ON queue_entries (assigned_machine_id, queue_position) WHERE status = 'queued'",
		"CREATE INDEX IF NOT EXISTS idx_queue_entries_machine_status " +
			"ON queue_entries (assigned_machine_id, status)",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
