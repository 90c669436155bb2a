package actions

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Action represents a single periodic job run by the agent
type Action interface {
	// Name returns the unique identifier for this action
	Name() string
	// Execute runs the action until ctx is done or Stop is called
	Execute(ctx context.Context) error
	// Stop cleanly stops the action
	Stop()
}

// ActionConfig holds common configuration for actions
type ActionConfig struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs one pass before waiting for the first tick
	RunOnStart bool
}

// ticker drives one action on a fixed interval
type ticker struct {
	config ActionConfig
	logger *logrus.Logger
	done   chan struct{}
	once   sync.Once
}

func newTicker(config ActionConfig, fallback time.Duration, logger *logrus.Logger) *ticker {
	if config.Interval <= 0 {
		config.Interval = fallback
	}
	return &ticker{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (t *ticker) run(ctx context.Context, pass func(ctx context.Context) error) error {
	log := t.logger.WithFields(logrus.Fields{
		"action":   t.config.Name,
		"interval": t.config.Interval,
	})
	log.Info("Starting action loop")

	tick := time.NewTicker(t.config.Interval)
	defer tick.Stop()

	if t.config.RunOnStart {
		if err := pass(ctx); err != nil {
			log.WithError(err).Error("Action pass failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-tick.C:
			if err := pass(ctx); err != nil {
				log.WithError(err).Error("Action pass failed")
			}
		}
	}
}

func (t *ticker) stop() {
	t.once.Do(func() { close(t.done) })
}
