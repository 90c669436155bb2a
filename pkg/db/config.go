package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig holds connection settings for the interaction store
type DBConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string

	// MigrationsDir overrides the migrations location, defaults to <project root>/migrations
	MigrationsDir string
}

// NewDBConfig creates a DBConfig from environment variables
func NewDBConfig() (*DBConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &DBConfig{
		Driver:        getEnvOrDefault("DB_DRIVER", DriverPostgres),
		Host:          getEnvOrDefault("DB_HOST", "localhost"),
		Port:          getEnvOrDefault("DB_PORT", "5432"),
		User:          os.Getenv("DB_USER"),
		Password:      os.Getenv("DB_PASSWORD"),
		Name:          getEnvOrDefault("DB_NAME", "replydesk"),
		SQLitePath:    getEnvOrDefault("DB_SQLITE_PATH", "replydesk.db"),
		MigrationsDir: os.Getenv("DB_MIGRATIONS_DIR"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *DBConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.User == "" {
			return fmt.Errorf("DB_USER is required for the postgres driver")
		}
		if c.Host == "" || c.Name == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Driver)
	}
	return nil
}

// DSN returns the gorm postgres DSN
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// URL returns the postgres URL used by the migrator
func (c *DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// findProjectRoot looks for go.mod file to determine project root
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
