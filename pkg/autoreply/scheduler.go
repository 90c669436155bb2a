// Package autoreply delivers delayed, revocable automatic replies to positive reviews.
//
// A job moves none -> pending -> sent | cancelled | blocked | failed. Scheduling
// reserves a token on the interaction with a conditional update; revoking the
// token (manual reply, close, upstream change, kill-switch) cancels the job.
// Every rule is checked again when the job fires, and the attempt claim is the
// last point where a cancellation still prevents the send.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/guardrail"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

var (
	// ErrAlreadyScheduled is returned when the interaction already holds an active token
	ErrAlreadyScheduled = errors.New("auto-reply already scheduled")
	// ErrIneligible is returned when the interaction may not be answered automatically
	ErrIneligible = errors.New("interaction is not eligible for auto-reply")
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("auto-reply job not found")
)

// Sender delivers a reply upstream
type Sender interface {
	SendReply(ctx context.Context, sellerID string, channel models.Channel, externalID, text string) (marketplace.Ack, error)
}

// SettingsReader loads seller settings
type SettingsReader interface {
	Get(ctx context.Context, sellerID string) (models.SellerSettings, error)
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler owns auto-reply jobs and their timers
type Scheduler struct {
	db       *gorm.DB
	settings SettingsReader
	sender   Sender
	counter  *Counter
	config   Config
	logger   *logrus.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewScheduler creates a Scheduler
func NewScheduler(db *gorm.DB, settings SettingsReader, sender Sender, config Config, opts ...Option) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auto-reply config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		db:       db,
		settings: settings,
		sender:   sender,
		counter:  NewCounter(db),
		config:   config,
		logger:   config.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		baseCtx:  ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Counter exposes the daily counter
func (s *Scheduler) Counter() *Counter {
	return s.counter
}

// Schedule validates the draft and reserves the interaction for an automatic reply
func (s *Scheduler) Schedule(ctx context.Context, interactionID, draftText string) (*models.AutoReplyJob, error) {
	in, err := s.loadInteraction(s.db.WithContext(ctx), interactionID)
	if err != nil {
		return nil, err
	}
	if in.AutoReplyToken != "" {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyScheduled, interactionID)
	}

	settings, err := s.settings.Get(ctx, in.SellerID)
	if err != nil {
		return nil, err
	}
	if reason := ineligibility(in, settings); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrIneligible, reason)
	}
	if verdict := guardrail.Validate(draftText, in.Channel, in.Text); !verdict.Valid {
		return nil, fmt.Errorf("%w: %s %v", ErrIneligible, reasonInvalidText, verdict.Strings())
	}

	now := s.now()
	job := &models.AutoReplyJob{
		ID:            uuid.NewString(),
		InteractionID: in.ID,
		SellerID:      in.SellerID,
		Token:         uuid.NewString(),
		DraftText:     draftText,
		ScheduledAt:   now.Add(settings.Delay()),
		Status:        models.JobPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// rating >= floor stays in the WHERE clause whatever the seller configured
		result := tx.Model(&models.Interaction{}).
			Where("id = ? AND auto_reply_token = ''", in.ID).
			Where("channel = ? AND rating >= ? AND rating >= ?", models.ChannelReview, models.AutoReplyRatingFloor, settings.EffectiveMinRating()).
			Where("needs_response = ? AND status IN ?", true, []models.Status{models.StatusOpen, models.StatusWaiting}).
			Updates(map[string]interface{}{
				"auto_reply_token": job.Token,
				"updated_at":       now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to reserve auto-reply token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			current, err := s.loadInteraction(tx, in.ID)
			if err != nil {
				return err
			}
			if current.AutoReplyToken != "" {
				return fmt.Errorf("%w: %s", ErrAlreadyScheduled, in.ID)
			}
			return fmt.Errorf("%w: interaction changed while scheduling", ErrIneligible)
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to create auto-reply job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"method":         "Schedule",
		"job_id":         job.ID,
		"interaction_id": in.ID,
		"seller_id":      in.SellerID,
		"scheduled_at":   job.ScheduledAt,
	}).Info("Auto-reply scheduled")

	s.arm(job.ID, job.ScheduledAt.Sub(now))
	return job, nil
}

// Block records a terminal blocked job for an interaction the planner turned down,
// so it leaves the candidate set and shows up in the operator queue.
// It returns ErrAlreadyScheduled when the interaction holds an active token.
func (s *Scheduler) Block(ctx context.Context, interactionID, draftText, reason string, violations []string) (*models.AutoReplyJob, error) {
	in, err := s.loadInteraction(s.db.WithContext(ctx), interactionID)
	if err != nil {
		return nil, err
	}
	if in.AutoReplyToken != "" {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyScheduled, interactionID)
	}

	now := s.now()
	job := &models.AutoReplyJob{
		ID:            uuid.NewString(),
		InteractionID: in.ID,
		SellerID:      in.SellerID,
		DraftText:     draftText,
		ScheduledAt:   now,
		Status:        models.JobBlocked,
		LastError:     reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(violations) > 0 {
		job.Violations = datatypes.JSONSlice[string](violations)
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to record blocked auto-reply: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"method":         "Block",
		"job_id":         job.ID,
		"interaction_id": in.ID,
		"seller_id":      in.SellerID,
		"reason":         reason,
	}).Info("Auto-reply blocked")
	return job, nil
}

// Cancel revokes the interaction's token and cancels its pending job.
// It is a no-op when nothing is scheduled.
func (s *Scheduler) Cancel(ctx context.Context, interactionID, reason string) error {
	var jobIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadInteraction(tx, interactionID); err != nil {
			return err
		}
		// terminate only touches pending rows; the rest are collected to drop stale timers
		if err := tx.Model(&models.AutoReplyJob{}).
			Where("interaction_id = ?", interactionID).
			Pluck("id", &jobIDs).Error; err != nil {
			return fmt.Errorf("failed to list pending jobs: %w", err)
		}
		if err := s.revoke(tx, interactionID); err != nil {
			return err
		}
		return s.terminate(tx, jobIDs, models.JobCancelled, reason, nil)
	})
	if err != nil {
		return err
	}

	s.disarm(jobIDs...)
	if len(jobIDs) > 0 {
		s.logger.WithFields(logrus.Fields{
			"method":         "Cancel",
			"interaction_id": interactionID,
			"reason":         reason,
		}).Info("Auto-reply cancelled")
	}
	return nil
}

// CancelSeller cancels every pending job of a seller
func (s *Scheduler) CancelSeller(ctx context.Context, sellerID, reason string) (int, error) {
	var jobs []models.AutoReplyJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("seller_id = ? AND status = ?", sellerID, models.JobPending).Find(&jobs).Error; err != nil {
			return fmt.Errorf("failed to list pending jobs: %w", err)
		}
		ids := make([]string, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
			if err := s.revoke(tx, job.InteractionID); err != nil {
				return err
			}
		}
		return s.terminate(tx, ids, models.JobCancelled, reason, nil)
	})
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		s.disarm(job.ID)
	}
	s.logger.WithFields(logrus.Fields{
		"method":    "CancelSeller",
		"seller_id": sellerID,
		"cancelled": len(jobs),
	}).Info("Seller auto-replies cancelled")
	return len(jobs), nil
}

// Restore re-arms timers for pending jobs; overdue jobs fire immediately.
// A job interrupted between its attempt claim and a recorded outcome is failed instead.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	var jobs []models.AutoReplyJob
	if err := s.db.WithContext(ctx).Where("status = ?", models.JobPending).Find(&jobs).Error; err != nil {
		return 0, fmt.Errorf("failed to load pending jobs: %w", err)
	}
	now := s.now()
	armed := 0
	for i := range jobs {
		job := &jobs[i]
		if job.LastError == attemptInFlight {
			// the reply may have reached the marketplace; never send it twice
			s.logger.WithFields(logrus.Fields{
				"method":         "Restore",
				"job_id":         job.ID,
				"interaction_id": job.InteractionID,
			}).Warn("Auto-reply outcome unknown, leaving it to an operator")
			if err := s.finish(ctx, job, models.JobFailed, reasonOutcomeUnknown, nil, true); err != nil {
				return armed, err
			}
			continue
		}
		s.arm(job.ID, job.ScheduledAt.Sub(now))
		armed++
	}
	s.logger.WithFields(logrus.Fields{
		"method":  "Restore",
		"pending": armed,
	}).Info("Auto-reply timers restored")
	return armed, nil
}

// Job returns a job by id
func (s *Scheduler) Job(ctx context.Context, jobID string) (*models.AutoReplyJob, error) {
	var job models.AutoReplyJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return &job, nil
}

// Fire runs one delivery attempt of a job after re-checking every rule
func (s *Scheduler) Fire(ctx context.Context, jobID string) error {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return err
	}
	log := s.logger.WithFields(logrus.Fields{
		"method":         "Fire",
		"job_id":         job.ID,
		"interaction_id": job.InteractionID,
		"seller_id":      job.SellerID,
	})
	if job.Status != models.JobPending {
		s.disarm(job.ID)
		log.WithField("status", job.Status).Debug("Job already finished")
		return nil
	}
	if job.LastError == attemptInFlight {
		log.Debug("Attempt already in flight")
		return nil
	}

	now := s.now()
	if wait := job.ScheduledAt.Sub(now); wait > 0 {
		s.arm(job.ID, wait)
		return nil
	}

	in, err := s.loadInteraction(s.db.WithContext(ctx), job.InteractionID)
	if err != nil {
		return err
	}
	if in.AutoReplyToken != job.Token {
		log.Info("Token revoked, cancelling job")
		return s.finish(ctx, job, models.JobCancelled, "token revoked", nil, false)
	}
	if in.Status.Answered() || !in.NeedsResponse {
		log.Info("Interaction answered, cancelling job")
		return s.finish(ctx, job, models.JobCancelled, reasonAnswered, nil, true)
	}

	settings, err := s.settings.Get(ctx, job.SellerID)
	if err != nil {
		return err
	}
	if reason := ineligibility(in, settings); reason != "" {
		log.WithField("reason", reason).Warn("Auto-reply blocked")
		return s.finish(ctx, job, models.JobBlocked, reason, nil, true)
	}
	if verdict := guardrail.Validate(job.DraftText, in.Channel, in.Text); !verdict.Valid {
		log.WithField("violations", verdict.Strings()).Warn("Auto-reply blocked by guardrail")
		return s.finish(ctx, job, models.JobBlocked, reasonInvalidText, verdict.Strings(), true)
	}

	day := Day(now)
	claimed, deferred, err := s.claim(ctx, job, settings.DailyCap, day, now)
	if err != nil {
		return err
	}
	if deferred {
		next := nextDay(now)
		log.WithField("scheduled_at", next).Info("Daily cap reached, deferring")
		s.arm(job.ID, next.Sub(now))
		return nil
	}
	if !claimed {
		log.Info("Job changed before the attempt claim")
		return nil
	}

	attempt := job.AttemptCount + 1
	_, sendErr := s.sender.SendReply(ctx, in.SellerID, in.Channel, in.ExternalID, job.DraftText)
	if sendErr != nil {
		if ctx.Err() == nil {
			if err := s.counter.Refund(ctx, job.SellerID, day); err != nil {
				log.WithError(err).Error("Failed to refund daily slot")
			}
		}
		return s.attemptFailed(ctx, log, job, attempt, sendErr)
	}

	if err := s.delivered(ctx, job, in); err != nil {
		return err
	}
	s.disarm(job.ID)
	log.WithField("attempt", attempt).Info("Auto-reply sent")
	return nil
}

// claim reserves a daily slot and the next attempt in one transaction.
// deferred is true when the cap is reached; claimed is false when the job
// was cancelled or picked up by another attempt in the meantime.
func (s *Scheduler) claim(ctx context.Context, job *models.AutoReplyJob, dailyCap int, day string, now time.Time) (claimed, deferred bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Interaction
		if err := tx.Select("auto_reply_token").First(&current, "id = ?", job.InteractionID).Error; err != nil {
			return fmt.Errorf("failed to reload interaction: %w", err)
		}
		if current.AutoReplyToken != job.Token {
			return nil
		}

		reserved, err := s.counter.reserve(tx, job.SellerID, day, dailyCap)
		if err != nil {
			return err
		}
		if !reserved {
			deferred = true
			return tx.Model(&models.AutoReplyJob{}).
				Where("id = ? AND status = ?", job.ID, models.JobPending).
				Updates(map[string]interface{}{
					"scheduled_at": nextDay(now),
					"last_error":   "daily cap reached",
					"updated_at":   now,
				}).Error
		}

		result := tx.Model(&models.AutoReplyJob{}).
			Where("id = ? AND status = ? AND attempt_count = ?", job.ID, models.JobPending, job.AttemptCount).
			Where("(last_error IS NULL OR last_error <> ?)", attemptInFlight).
			Updates(map[string]interface{}{
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"last_error":    attemptInFlight,
				"updated_at":    now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to claim attempt: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// give the slot back by rolling back the whole transaction
			return errClaimLost
		}
		claimed = true
		return nil
	})
	if errors.Is(err, errClaimLost) {
		return false, false, nil
	}
	return claimed, deferred, err
}

var errClaimLost = errors.New("attempt claim lost")

// attemptInFlight marks a claimed attempt whose outcome is not recorded yet
const attemptInFlight = "attempt in flight"

func (s *Scheduler) attemptFailed(ctx context.Context, log *logrus.Entry, job *models.AutoReplyJob, attempt int, sendErr error) error {
	log = log.WithError(sendErr).WithField("attempt", attempt)
	if ctx.Err() != nil {
		// shutting down mid-request; Restore fails the job since delivery is unknown
		log.Warn("Auto-reply attempt interrupted")
		return ctx.Err()
	}
	if attempt >= s.config.MaxAttempts || !marketplace.IsTransient(sendErr) {
		log.Error("Auto-reply failed")
		return s.finish(ctx, job, models.JobFailed, sendErr.Error(), nil, true)
	}

	retryAt := s.now().Add(s.config.backoff(attempt))
	err := s.db.WithContext(ctx).Model(&models.AutoReplyJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobPending).
		Updates(map[string]interface{}{
			"scheduled_at": retryAt,
			"last_error":   sendErr.Error(),
			"updated_at":   s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
	}
	log.WithField("retry_at", retryAt).Warn("Auto-reply attempt failed, retrying")
	s.arm(job.ID, retryAt.Sub(s.now()))
	return nil
}

func (s *Scheduler) delivered(ctx context.Context, job *models.AutoReplyJob, in *models.Interaction) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AutoReplyJob{}).Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.JobSent,
				"last_error": "",
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to mark job sent: %w", err)
		}
		if err := tx.Model(&models.Interaction{}).
			Where("id = ? AND status <> ?", in.ID, models.StatusClosed).
			Updates(map[string]interface{}{
				"status":           models.StatusAutoResponse,
				"needs_response":   false,
				"answer_text":      job.DraftText,
				"auto_reply_token": "",
				"updated_at":       now,
			}).Error; err != nil {
			return fmt.Errorf("failed to mark interaction answered: %w", err)
		}
		msg := models.InteractionMessage{
			InteractionID: in.ID,
			ExternalID:    "auto-" + job.ID,
			Author:        models.AuthorSeller,
			Text:          job.DraftText,
			SentAt:        now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to store reply message: %w", err)
		}
		return nil
	})
}

// finish moves a pending job to a terminal status, optionally revoking its token
func (s *Scheduler) finish(ctx context.Context, job *models.AutoReplyJob, status models.JobStatus, reason string, violations []string, revoke bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if revoke {
			if err := tx.Model(&models.Interaction{}).
				Where("id = ? AND auto_reply_token = ?", job.InteractionID, job.Token).
				Updates(map[string]interface{}{
					"auto_reply_token": "",
					"updated_at":       s.now(),
				}).Error; err != nil {
				return fmt.Errorf("failed to revoke token: %w", err)
			}
		}
		return s.terminate(tx, []string{job.ID}, status, reason, violations)
	})
	s.disarm(job.ID)
	return err
}

func (s *Scheduler) terminate(tx *gorm.DB, jobIDs []string, status models.JobStatus, reason string, violations []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	updates := map[string]interface{}{
		"status":     status,
		"last_error": reason,
		"updated_at": s.now(),
	}
	if len(violations) > 0 {
		updates["violations"] = datatypes.JSONSlice[string](violations)
	}
	err := tx.Model(&models.AutoReplyJob{}).
		Where("id IN ? AND status = ?", jobIDs, models.JobPending).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to move jobs to %s: %w", status, err)
	}
	return nil
}

func (s *Scheduler) revoke(tx *gorm.DB, interactionID string) error {
	err := tx.Model(&models.Interaction{}).
		Where("id = ? AND auto_reply_token <> ''", interactionID).
		Updates(map[string]interface{}{
			"auto_reply_token": "",
			"updated_at":       s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke token for %s: %w", interactionID, err)
	}
	return nil
}

func (s *Scheduler) loadInteraction(db *gorm.DB, id string) (*models.Interaction, error) {
	var in models.Interaction
	err := db.First(&in, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction %s: %w", id, err)
	}
	return &in, nil
}

// arm sets a one-shot timer that fires the job after d
func (s *Scheduler) arm(jobID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
	}
	s.timers[jobID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, jobID)
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		if err := s.Fire(s.baseCtx, jobID); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).WithField("job_id", jobID).Error("Auto-reply fire failed")
		}
	})
}

func (s *Scheduler) disarm(jobIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range jobIDs {
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// Armed returns the number of timers waiting to fire
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop stops all timers and waits for running attempts
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func nextDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
