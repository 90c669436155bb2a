// Package desk is the operator-facing surface of the reply desk: sync triggers,
// drafts, manual replies, auto-reply settings and the work queue.
package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/autoreply"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/drafts"
	"github.com/lisanmuaddib/replydesk/pkg/guardrail"
	"github.com/lisanmuaddib/replydesk/pkg/ingest"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

var (
	// ErrGuardrail is returned when reply text fails validation
	ErrGuardrail = errors.New("reply rejected by guardrail")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
	// ErrClosed is returned when replying to a closed interaction
	ErrClosed = errors.New("interaction is closed")
)

// GuardrailError carries the verdict of a rejected reply
type GuardrailError struct {
	Verdict guardrail.Verdict
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGuardrail, strings.Join(e.Verdict.Strings(), "; "))
}

func (e *GuardrailError) Unwrap() error {
	return ErrGuardrail
}

// InteractionView is an interaction with its thread and latest auto-reply job
type InteractionView struct {
	Interaction *models.Interaction         `json:"interaction"`
	Messages    []models.InteractionMessage `json:"messages"`
	AutoReply   *models.AutoReplyJob        `json:"auto_reply,omitempty"`
}

// AutoReplySettings updates a seller's auto-reply configuration; nil fields are left unchanged
type AutoReplySettings struct {
	Enabled      *bool `json:"enabled"`
	MinRating    *int  `json:"min_rating"`
	DelaySeconds *int  `json:"delay_seconds"`
	DailyCap     *int  `json:"daily_cap"`
}

// Config wires the Service
type Config struct {
	Interactions *memory.InteractionStore
	Settings     *memory.SettingsStore
	Syncer       *ingest.Engine
	Drafts       *drafts.Generator
	AutoReply    *autoreply.Scheduler
	Sender       marketplace.Connector
	Logger       *logrus.Logger
	// ThreadSize bounds the messages returned with an interaction
	ThreadSize int
}

// Service implements the desk operations
type Service struct {
	interactions *memory.InteractionStore
	settings     *memory.SettingsStore
	syncer       *ingest.Engine
	drafts       *drafts.Generator
	autoReply    *autoreply.Scheduler
	sender       marketplace.Connector
	logger       *logrus.Logger
	threadSize   int
}

// New creates a Service
func New(config Config) (*Service, error) {
	switch {
	case config.Interactions == nil:
		return nil, fmt.Errorf("interaction store is required")
	case config.Settings == nil:
		return nil, fmt.Errorf("settings store is required")
	case config.Syncer == nil:
		return nil, fmt.Errorf("sync engine is required")
	case config.Drafts == nil:
		return nil, fmt.Errorf("draft generator is required")
	case config.AutoReply == nil:
		return nil, fmt.Errorf("auto-reply scheduler is required")
	case config.Sender == nil:
		return nil, fmt.Errorf("marketplace connector is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.ThreadSize <= 0 {
		config.ThreadSize = 50
	}
	return &Service{
		interactions: config.Interactions,
		settings:     config.Settings,
		syncer:       config.Syncer,
		drafts:       config.Drafts,
		autoReply:    config.AutoReply,
		sender:       config.Sender,
		logger:       config.Logger,
		threadSize:   config.ThreadSize,
	}, nil
}

// TriggerSync syncs one channel, or every channel when channel is empty
func (s *Service) TriggerSync(ctx context.Context, sellerID string, channel models.Channel, mode models.SyncMode) (ingest.SyncResult, error) {
	if sellerID == "" {
		return ingest.SyncResult{}, fmt.Errorf("%w: seller id is required", ErrInvalidInput)
	}
	if mode == "" {
		mode = models.SyncModeIncremental
	}
	if !mode.Valid() {
		return ingest.SyncResult{}, fmt.Errorf("%w: unknown sync mode %q", ErrInvalidInput, mode)
	}
	channels := models.Channels
	if channel != "" {
		if !channel.Valid() {
			return ingest.SyncResult{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, channel)
		}
		channels = []models.Channel{channel}
	}

	var total ingest.SyncResult
	for _, ch := range channels {
		result, err := s.syncer.Sync(ctx, sellerID, ch, mode)
		total.Fetched += result.Fetched
		total.Created += result.Created
		total.Updated += result.Updated
		total.Skipped += result.Skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// GetInteraction returns an interaction with its thread
func (s *Service) GetInteraction(ctx context.Context, id string) (*InteractionView, error) {
	in, err := s.interactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.interactions.Messages(ctx, id, s.threadSize)
	if err != nil {
		return nil, err
	}
	job, err := s.interactions.LatestJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InteractionView{Interaction: in, Messages: messages, AutoReply: job}, nil
}

// GenerateDraft drafts a reply and marks the interaction as being worked on
func (s *Service) GenerateDraft(ctx context.Context, id string) (drafts.DraftResult, error) {
	result, err := s.drafts.Generate(ctx, id)
	if err != nil {
		return drafts.DraftResult{}, err
	}
	if err := s.interactions.MarkWaiting(ctx, id); err != nil {
		s.logger.WithError(err).WithField("interaction_id", id).Warn("Failed to mark interaction waiting")
	}
	return result, nil
}

// SendReply validates text and delivers it as the seller's manual reply.
// A pending auto-reply is cancelled before anything is sent.
func (s *Service) SendReply(ctx context.Context, id, text string) (marketplace.Ack, error) {
	in, err := s.interactions.Get(ctx, id)
	if err != nil {
		return marketplace.Ack{}, err
	}
	if in.Status == models.StatusClosed {
		return marketplace.Ack{}, fmt.Errorf("%w: %s", ErrClosed, id)
	}

	messages, err := s.interactions.Messages(ctx, id, s.threadSize)
	if err != nil {
		return marketplace.Ack{}, err
	}
	text = strings.TrimSpace(text)
	if verdict := guardrail.Validate(text, in.Channel, drafts.CustomerSource(in, messages)); !verdict.Valid {
		return marketplace.Ack{}, &GuardrailError{Verdict: verdict}
	}

	if err := s.autoReply.Cancel(ctx, id, "manual reply"); err != nil {
		return marketplace.Ack{}, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"method":         "SendReply",
		"interaction_id": in.ID,
		"seller_id":      in.SellerID,
		"channel":        in.Channel,
	})

	ack, err := s.sender.SendReply(ctx, in.SellerID, in.Channel, in.ExternalID, text)
	if err != nil {
		log.WithError(err).Error("Failed to deliver reply")
		return marketplace.Ack{}, err
	}
	if err := s.interactions.MarkResponded(ctx, id, text, models.StatusResponded); err != nil {
		// delivered upstream; the next sync reconciles the local state
		log.WithError(err).Error("Reply delivered but not recorded")
		return ack, err
	}

	log.WithField("reply_id", ack.ReplyID).Info("Reply sent")
	return ack, nil
}

// ScheduleAutoReplySettings updates a seller's auto-reply settings.
// Disabling auto-reply cancels every pending job of the seller.
func (s *Service) ScheduleAutoReplySettings(ctx context.Context, sellerID string, cfg AutoReplySettings) (models.SellerSettings, error) {
	if sellerID == "" {
		return models.SellerSettings{}, fmt.Errorf("%w: seller id is required", ErrInvalidInput)
	}
	if cfg.MinRating != nil && (*cfg.MinRating < 1 || *cfg.MinRating > 5) {
		return models.SellerSettings{}, fmt.Errorf("%w: min_rating must be between 1 and 5", ErrInvalidInput)
	}
	if cfg.DelaySeconds != nil && *cfg.DelaySeconds < 0 {
		return models.SellerSettings{}, fmt.Errorf("%w: delay_seconds cannot be negative", ErrInvalidInput)
	}
	if cfg.DailyCap != nil && *cfg.DailyCap < 0 {
		return models.SellerSettings{}, fmt.Errorf("%w: daily_cap cannot be negative", ErrInvalidInput)
	}

	settings, err := s.settings.Get(ctx, sellerID)
	if err != nil {
		return models.SellerSettings{}, err
	}
	if cfg.Enabled != nil {
		settings.AutoReplyEnabled = *cfg.Enabled
	}
	if cfg.MinRating != nil {
		settings.MinRating = *cfg.MinRating
	}
	if cfg.DelaySeconds != nil {
		settings.DelaySeconds = *cfg.DelaySeconds
	}
	if cfg.DailyCap != nil {
		settings.DailyCap = *cfg.DailyCap
	}

	saved, err := s.settings.Save(ctx, settings)
	if err != nil {
		return models.SellerSettings{}, err
	}
	if !saved.AutoReplyEnabled {
		if _, err := s.autoReply.CancelSeller(ctx, sellerID, "auto-reply disabled"); err != nil {
			return saved, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"method":     "ScheduleAutoReplySettings",
		"seller_id":  sellerID,
		"enabled":    saved.AutoReplyEnabled,
		"min_rating": saved.MinRating,
		"delay":      saved.Delay(),
		"daily_cap":  saved.DailyCap,
	}).Info("Auto-reply settings updated")
	return saved, nil
}

// CancelAutoReply cancels the pending auto-reply of an interaction
func (s *Service) CancelAutoReply(ctx context.Context, id string) error {
	return s.autoReply.Cancel(ctx, id, "cancelled by operator")
}

// ListQueue returns the operator queue
func (s *Service) ListQueue(ctx context.Context, filter memory.QueueFilter) ([]memory.QueueItem, error) {
	if filter.SellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", ErrInvalidInput)
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, filter.Channel)
	}
	return s.interactions.ListQueue(ctx, filter)
}

// CloseInteraction closes an interaction and revokes any pending auto-reply
func (s *Service) CloseInteraction(ctx context.Context, id string) error {
	if err := s.interactions.Close(ctx, id); err != nil {
		return err
	}
	return s.autoReply.Cancel(ctx, id, "closed")
}
