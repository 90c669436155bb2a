package marketplace

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// MarketplaceConfig configures the HTTP connector and its guard
type MarketplaceConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration

	// Retry and rate limiting
	RetryAttempts     int
	RequestsPerSecond float64
	Burst             int

	Logger *logrus.Logger
}

// NewMarketplaceConfig loads the connector configuration from the environment
func NewMarketplaceConfig(logger *logrus.Logger) (*MarketplaceConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	timeout, err := time.ParseDuration(getEnvOrDefault("MARKETPLACE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKETPLACE_TIMEOUT: %w", err)
	}
	retryAttempts, err := strconv.Atoi(getEnvOrDefault("MARKETPLACE_RETRY_ATTEMPTS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKETPLACE_RETRY_ATTEMPTS: %w", err)
	}
	rps, err := strconv.ParseFloat(getEnvOrDefault("MARKETPLACE_RPS", "3"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MARKETPLACE_RPS: %w", err)
	}
	burst, err := strconv.Atoi(getEnvOrDefault("MARKETPLACE_BURST", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKETPLACE_BURST: %w", err)
	}

	config := &MarketplaceConfig{
		BaseURL:           getEnvOrDefault("MARKETPLACE_BASE_URL", "http://localhost:9090/api/v1"),
		APIToken:          os.Getenv("MARKETPLACE_API_TOKEN"),
		Timeout:           timeout,
		RetryAttempts:     retryAttempts,
		RequestsPerSecond: rps,
		Burst:             burst,
		Logger:            logger,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.Logger.WithFields(logrus.Fields{
		"base_url":     config.BaseURL,
		"token_exists": config.APIToken != "",
		"rps":          config.RequestsPerSecond,
	}).Debug("Marketplace config initialized")

	return config, nil
}

// Validate checks the configuration and fills defaults
func (c *MarketplaceConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("marketplace base url is required")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
