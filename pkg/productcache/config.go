package productcache

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// CacheConfig configures the product cache and its HTTP source
type CacheConfig struct {
	SourceURL    string
	TTL          time.Duration
	FetchTimeout time.Duration
}

// NewCacheConfig loads the product cache configuration from the environment
func NewCacheConfig() (*CacheConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	ttl, err := time.ParseDuration(getEnvOrDefault("PRODUCT_CACHE_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRODUCT_CACHE_TTL: %w", err)
	}
	timeout, err := time.ParseDuration(getEnvOrDefault("PRODUCT_FETCH_TIMEOUT", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRODUCT_FETCH_TIMEOUT: %w", err)
	}

	config := &CacheConfig{
		SourceURL:    os.Getenv("PRODUCT_SOURCE_URL"),
		TTL:          ttl,
		FetchTimeout: timeout,
	}
	if config.TTL <= 0 || config.FetchTimeout <= 0 {
		return nil, fmt.Errorf("product cache ttl and fetch timeout must be positive")
	}
	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
