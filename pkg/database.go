package pkg

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/edutrack/grade-service/internal/config"
	"github.com/edutrack/grade-service/internal/models"
)

// InitDatabase opens the Postgres connection, tunes the pool and runs
// migrations for the tables this service owns.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogLevel := logger.Warn
	if cfg.IsProduction() {
		gormLogLevel = logger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// Reference data mirrored from the school platform
		&models.User{},
		&models.Qualification{},
		&models.Board{},
		&models.Subject{},
		&models.Course{},
		&models.Topic{},
		&models.Subtopic{},
		&models.Term{},
		&models.Student{},
		&models.Class{},
		&models.Enrollment{},

		// Tables owned by this service
		&models.Grade{},
		&models.ParentContact{},
	)
}
