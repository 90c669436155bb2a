// Package deskconfig loads process-level settings and wires the periodic actions.
package deskconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lisanmuaddib/replydesk/pkg/agent"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// Task names
const (
	TaskChatSync   = "sync_chats"
	TaskReviewSync = "sync_reviews_questions"
	TaskFullSync   = "sync_full"
	TaskEscalation = "sla_escalation"
	TaskPlanner    = "auto_reply_planner"
)

// DeskConfig holds process settings
type DeskConfig struct {
	HTTPAddr  string
	RedisAddr string
	// SellerIDs are seeded with default settings on startup
	SellerIDs       []string
	SyncConcurrency int
	PlannerBatch    int

	AutoReplyDelay     time.Duration
	AutoReplyDailyCap  int
	AutoReplyMinRating int

	Schedule *agent.SchedulerConfig
}

// NewDeskConfig loads the configuration from the environment
func NewDeskConfig() (*DeskConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &DeskConfig{
		HTTPAddr:  getEnvOrDefault("HTTP_ADDR", ":8080"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		SellerIDs: splitList(os.Getenv("SELLER_IDS")),
		Schedule:  agent.NewDefaultSchedulerConfig(),
	}

	var err error
	if config.SyncConcurrency, err = intEnv("SYNC_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if config.PlannerBatch, err = intEnv("AUTO_REPLY_PLANNER_BATCH", 20); err != nil {
		return nil, err
	}
	if config.AutoReplyDelay, err = durationEnv("AUTO_REPLY_DELAY", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.AutoReplyDailyCap, err = intEnv("AUTO_REPLY_DAILY_CAP", 50); err != nil {
		return nil, err
	}
	if config.AutoReplyMinRating, err = intEnv("AUTO_REPLY_MIN_RATING", 5); err != nil {
		return nil, err
	}

	tasks := []struct {
		name     string
		env      string
		fallback time.Duration
		enabled  bool
	}{
		{TaskChatSync, "CHAT_SYNC_INTERVAL", agent.DefaultChatSyncInterval, true},
		{TaskReviewSync, "REVIEW_SYNC_INTERVAL", agent.DefaultReviewSyncInterval, true},
		{TaskFullSync, "FULL_SYNC_INTERVAL", agent.DefaultFullSyncInterval, true},
		{TaskEscalation, "ESCALATION_INTERVAL", agent.DefaultEscalationInterval, true},
		{TaskPlanner, "AUTO_REPLY_PLANNER_INTERVAL", agent.DefaultPlannerInterval, os.Getenv("AUTO_REPLY_PLANNER_DISABLED") != "true"},
	}
	for _, t := range tasks {
		interval, err := durationEnv(t.env, t.fallback)
		if err != nil {
			return nil, err
		}
		if err := config.Schedule.AddTask(t.name, interval, t.enabled); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration
func (c *DeskConfig) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR cannot be empty")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1")
	}
	if c.AutoReplyDelay < 0 {
		return fmt.Errorf("AUTO_REPLY_DELAY cannot be negative")
	}
	if c.AutoReplyDailyCap < 0 {
		return fmt.Errorf("AUTO_REPLY_DAILY_CAP cannot be negative")
	}
	if c.AutoReplyMinRating < 1 || c.AutoReplyMinRating > 5 {
		return fmt.Errorf("AUTO_REPLY_MIN_RATING must be between 1 and 5")
	}
	return nil
}

// SellerDefaults returns the settings seeded for a new seller. Auto-reply
// starts disabled; the seller opts in through the API.
func (c *DeskConfig) SellerDefaults(sellerID string) models.SellerSettings {
	settings := models.DefaultSellerSettings(sellerID)
	settings.MinRating = c.AutoReplyMinRating
	settings.DelaySeconds = int(c.AutoReplyDelay / time.Second)
	settings.DailyCap = c.AutoReplyDailyCap
	settings.MinRating = settings.EffectiveMinRating()
	return settings
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
