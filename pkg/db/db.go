package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// SetupDatabase opens the configured database and brings its schema up to date
func SetupDatabase(logger *logrus.Logger, config *DBConfig) (*gorm.DB, error) {
	logger.WithField("driver", config.Driver).Debug("Starting database setup")

	if config.Driver == DriverSQLite {
		return OpenSQLite(logger, config.SQLitePath)
	}

	migrationsDir := config.MigrationsDir
	if migrationsDir == "" {
		projectRoot, err := findProjectRoot()
		if err != nil {
			return nil, fmt.Errorf("failed to find project root: %w", err)
		}
		migrationsDir = projectRoot + "/migrations"
	}

	if err := RunMigrations(logger, migrationsDir, config.URL()); err != nil {
		return nil, err
	}

	logger.Debug("Establishing GORM database connection")

	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{
		Logger:         NewGormLogrusLogger(logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Migrations own the schema; AutoMigrate only fills columns added since the last release
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	logger.Info("Database setup completed successfully")
	return db, nil
}
