package agent

import (
	"fmt"
	"time"
)

const (
	// MinActionInterval keeps periodic actions from hammering the marketplace
	MinActionInterval = 10 * time.Second
	// MaxActionInterval keeps the queue responsive
	MaxActionInterval = 24 * time.Hour
)

// Default intervals of the periodic actions
const (
	DefaultChatSyncInterval   = time.Minute
	DefaultReviewSyncInterval = 10 * time.Minute
	DefaultFullSyncInterval   = 24 * time.Hour
	DefaultEscalationInterval = time.Minute
	DefaultPlannerInterval    = 2 * time.Minute
)

// TaskConfig holds configuration for a scheduled action
type TaskConfig struct {
	Interval time.Duration
	Name     string
	Enabled  bool
}

// SchedulerConfig holds timing configurations for the periodic actions
type SchedulerConfig struct {
	Tasks map[string]TaskConfig
}

// NewDefaultSchedulerConfig creates an empty SchedulerConfig
func NewDefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Tasks: make(map[string]TaskConfig),
	}
}

// AddTask adds a new scheduled action configuration
func (c *SchedulerConfig) AddTask(name string, interval time.Duration, enabled bool) error {
	if interval < MinActionInterval || interval > MaxActionInterval {
		return fmt.Errorf("interval of %s must be between %v and %v, got %v", name, MinActionInterval, MaxActionInterval, interval)
	}

	c.Tasks[name] = TaskConfig{
		Interval: interval,
		Name:     name,
		Enabled:  enabled,
	}
	return nil
}

// Enabled reports whether a task is configured and enabled
func (c *SchedulerConfig) Enabled(name string) bool {
	t, ok := c.Tasks[name]
	return ok && t.Enabled
}

// Interval returns a task's interval, or fallback when it is not configured
func (c *SchedulerConfig) Interval(name string, fallback time.Duration) time.Duration {
	if t, ok := c.Tasks[name]; ok {
		return t.Interval
	}
	return fallback
}
