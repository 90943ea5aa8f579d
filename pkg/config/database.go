package config

import (
	"fmt"
	"time"

	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// OpenDB connects to postgres and configures the pool
func OpenDB(cfg DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// InitDB opens the database, migrates all models when enabled and seeds the
// platform stat row
func InitDB(cfg DBConfig) (*gorm.DB, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	if err := store.EnsurePlatformStat(db); err != nil {
		return nil, fmt.Errorf("failed to seed platform stat: %w", err)
	}

	DB = db
	logrus.WithFields(logrus.Fields{
		"host": cfg.Host,
		"name": cfg.Name,
	}).Info("Database connection initialized")
	return db, nil
}

// MustInitDB is InitDB for process entrypoints
func MustInitDB(cfg DBConfig) *gorm.DB {
	db, err := InitDB(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	return db
}

// AutoMigrate creates or updates every model table
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
