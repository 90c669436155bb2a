package actions

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/autoreply"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/drafts"
)

// PlannerSettings exposes seller auto-reply settings
type PlannerSettings interface {
	AutoReplySellers(ctx context.Context) ([]string, error)
	Get(ctx context.Context, sellerID string) (models.SellerSettings, error)
}

// CandidateLister finds reviews that may be answered automatically
type CandidateLister interface {
	ListAutoReplyCandidates(ctx context.Context, sellerID string, minRating, limit int) ([]models.Interaction, error)
}

// Drafter produces a reply draft
type Drafter interface {
	Generate(ctx context.Context, interactionID string) (drafts.DraftResult, error)
}

// AutoReplyScheduler reserves interactions for automatic replies and records the ones turned down
type AutoReplyScheduler interface {
	Schedule(ctx context.Context, interactionID, draftText string) (*models.AutoReplyJob, error)
	Block(ctx context.Context, interactionID, draftText, reason string, violations []string) (*models.AutoReplyJob, error)
}

// PlannerOptions configures the AutoReplyPlanner
type PlannerOptions struct {
	ActionConfig
	// BatchSize bounds candidates per seller per pass
	BatchSize int
}

// AutoReplyPlanner drafts and schedules replies for eligible positive reviews.
// Reviews it turns down get a blocked job so they leave the candidate set.
type AutoReplyPlanner struct {
	*ticker
	settings   PlannerSettings
	candidates CandidateLister
	drafter    Drafter
	scheduler  AutoReplyScheduler
	options    PlannerOptions
	logger     *logrus.Logger
}

// NewAutoReplyPlanner creates an AutoReplyPlanner
func NewAutoReplyPlanner(settings PlannerSettings, candidates CandidateLister, drafter Drafter, scheduler AutoReplyScheduler, logger *logrus.Logger, options PlannerOptions) *AutoReplyPlanner {
	if options.Name == "" {
		options.Name = "auto_reply_planner"
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 20
	}
	return &AutoReplyPlanner{
		ticker:     newTicker(options.ActionConfig, 2*time.Minute, logger),
		settings:   settings,
		candidates: candidates,
		drafter:    drafter,
		scheduler:  scheduler,
		options:    options,
		logger:     logger,
	}
}

// Name returns the unique identifier for this action
func (p *AutoReplyPlanner) Name() string {
	return p.options.Name
}

// Execute implements the Action interface
func (p *AutoReplyPlanner) Execute(ctx context.Context) error {
	return p.run(ctx, func(ctx context.Context) error {
		_, err := p.RunOnce(ctx)
		return err
	})
}

// Stop implements the Action interface
func (p *AutoReplyPlanner) Stop() {
	p.stop()
}

// RunOnce schedules what it can and returns how many jobs were created
func (p *AutoReplyPlanner) RunOnce(ctx context.Context) (int, error) {
	sellers, err := p.settings.AutoReplySellers(ctx)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, sellerID := range sellers {
		n, err := p.planSeller(ctx, sellerID)
		scheduled += n
		if err != nil {
			return scheduled, err
		}
	}
	return scheduled, nil
}

func (p *AutoReplyPlanner) planSeller(ctx context.Context, sellerID string) (int, error) {
	settings, err := p.settings.Get(ctx, sellerID)
	if err != nil {
		return 0, err
	}
	candidates, err := p.candidates.ListAutoReplyCandidates(ctx, sellerID, settings.EffectiveMinRating(), p.options.BatchSize)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, in := range candidates {
		if ctx.Err() != nil {
			return scheduled, ctx.Err()
		}
		log := p.logger.WithFields(logrus.Fields{
			"action":         p.options.Name,
			"seller_id":      sellerID,
			"interaction_id": in.ID,
		})
		if ok, reason := autoreply.Eligible(&in, settings); !ok {
			log.WithField("reason", reason).Debug("Not eligible for auto-reply")
			if err := p.block(ctx, in.ID, "", reason, nil); err != nil {
				return scheduled, err
			}
			continue
		}

		draft, err := p.drafter.Generate(ctx, in.ID)
		if err != nil {
			log.WithError(err).Warn("Draft generation failed")
			continue
		}
		if !draft.Valid {
			log.WithField("violations", draft.Violations).Warn("Draft failed validation, leaving for an operator")
			if err := p.block(ctx, in.ID, draft.Text, "draft failed validation", draft.Violations); err != nil {
				return scheduled, err
			}
			continue
		}

		_, err = p.scheduler.Schedule(ctx, in.ID, draft.Text)
		switch {
		case errors.Is(err, autoreply.ErrAlreadyScheduled):
			log.WithError(err).Debug("Skipped")
		case errors.Is(err, autoreply.ErrIneligible):
			log.WithError(err).Debug("Refused by the scheduler")
			if err := p.block(ctx, in.ID, draft.Text, err.Error(), nil); err != nil {
				return scheduled, err
			}
		case err != nil:
			return scheduled, err
		default:
			scheduled++
		}
	}
	return scheduled, nil
}

// block takes a turned-down review out of the candidate set
func (p *AutoReplyPlanner) block(ctx context.Context, interactionID, draftText, reason string, violations []string) error {
	_, err := p.scheduler.Block(ctx, interactionID, draftText, reason, violations)
	if errors.Is(err, autoreply.ErrAlreadyScheduled) {
		return nil
	}
	return err
}
