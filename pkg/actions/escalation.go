package actions

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper escalates interactions nearing their deadline
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// EscalationAction runs the SLA sweep on an interval
type EscalationAction struct {
	*ticker
	sweeper Sweeper
	logger  *logrus.Logger
	now     func() time.Time
}

// NewEscalationAction creates an EscalationAction
func NewEscalationAction(sweeper Sweeper, logger *logrus.Logger, config ActionConfig) *EscalationAction {
	if config.Name == "" {
		config.Name = "sla_escalation"
	}
	return &EscalationAction{
		ticker:  newTicker(config, time.Minute, logger),
		sweeper: sweeper,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the unique identifier for this action
func (a *EscalationAction) Name() string {
	return a.config.Name
}

// Execute implements the Action interface
func (a *EscalationAction) Execute(ctx context.Context) error {
	return a.run(ctx, a.RunOnce)
}

// Stop implements the Action interface
func (a *EscalationAction) Stop() {
	a.stop()
}

// RunOnce performs one sweep
func (a *EscalationAction) RunOnce(ctx context.Context) error {
	_, err := a.sweeper.Sweep(ctx, a.now())
	return err
}
