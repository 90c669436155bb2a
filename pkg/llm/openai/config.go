package openai

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Logger      *logrus.Logger
}

// NewOpenAIConfig creates a new OpenAIConfig from environment variables
func NewOpenAIConfig(logger *logrus.Logger) (*OpenAIConfig, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	temperature, err := strconv.ParseFloat(getEnvOrDefault("OPENAI_TEMPERATURE", "0.4"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OPENAI_TEMPERATURE: %w", err)
	}

	config := &OpenAIConfig{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:       os.Getenv("OPENAI_MODEL"),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		Temperature: temperature,
		Logger:      logger,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Enabled reports whether a key is configured; without one drafts use templates only
func (c *OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c *OpenAIConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
