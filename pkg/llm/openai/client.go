package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/lisanmuaddib/replydesk/pkg/llm"
)

// Client is a Completer backed by the OpenAI chat API through langchaingo
type Client struct {
	logger *logrus.Logger
	model  llms.Model
	config *OpenAIConfig
}

var _ llm.Completer = (*Client)(nil)

func NewClient(config *OpenAIConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !config.Enabled() {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI: %w", err)
	}

	return &Client{
		logger: config.Logger,
		model:  model,
		config: config,
	}, nil
}

// Complete generates a completion capped at maxTokens
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	c.logger.WithFields(logrus.Fields{
		"temperature": c.config.Temperature,
		"maxTokens":   maxTokens,
		"model":       c.config.Model,
	}).Debug("Generating completion")

	completion, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(c.config.Temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}

	completion = strings.TrimSpace(completion)
	if completion == "" {
		return "", llm.ErrEmptyCompletion
	}
	return completion, nil
}
