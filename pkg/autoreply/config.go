package autoreply

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config tunes delivery of scheduled replies
type Config struct {
	// MaxAttempts bounds transport attempts per job
	MaxAttempts int
	// RetryBackoff is the delay before the second attempt, doubled for each later one
	RetryBackoff time.Duration
	Logger       *logrus.Logger
}

// DefaultConfig returns 3 attempts starting at a 30s backoff
func DefaultConfig(logger *logrus.Logger) Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: 30 * time.Second,
		Logger:       logger,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

func (c Config) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	return c.RetryBackoff * time.Duration(1<<uint(attempt-1))
}
