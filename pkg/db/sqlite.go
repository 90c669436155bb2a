package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// OpenSQLite opens a SQLite database and auto-migrates the schema.
// Pass ":memory:" (or a file::memory: DSN) for a throwaway database.
func OpenSQLite(logger *logrus.Logger, path string) (*gorm.DB, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogrusLogger(logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// A single connection keeps in-memory databases alive and avoids "database is locked"
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate sqlite schema: %w", err)
	}

	logger.WithField("path", path).Debug("SQLite database ready")
	return db, nil
}
