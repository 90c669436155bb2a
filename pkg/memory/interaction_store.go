package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// ErrNotFound is returned when an interaction does not exist
var ErrNotFound = errors.New("interaction not found")

// Outcome is what an upsert did to the stored row
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeCreated
	OutcomeUpdated
)

// Record is a normalized upstream interaction ready for storage.
// Interaction carries content, the derived needs_response flag and the
// classification; Answered is the upstream answered flag.
type Record struct {
	Interaction models.Interaction
	Answered    bool
	Messages    []models.InteractionMessage
}

// BatchResult counts upsert outcomes of one batch
type BatchResult struct {
	Created   int
	Updated   int
	Unchanged int
	// Changed holds the ids of created and updated interactions
	Changed []string
}

// InteractionStore persists interactions and their thread messages
type InteractionStore struct {
	logger *logrus.Logger
	db     *gorm.DB
	now    func() time.Time
}

// NewInteractionStore creates an InteractionStore
func NewInteractionStore(logger *logrus.Logger, db *gorm.DB) *InteractionStore {
	return &InteractionStore{
		logger: logger,
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle for components that need their own transactions
func (s *InteractionStore) DB() *gorm.DB {
	return s.db
}

// UpsertBatch stores a page of records in one transaction
func (s *InteractionStore) UpsertBatch(ctx context.Context, records []Record) (BatchResult, error) {
	var result BatchResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			outcome, id, err := s.upsert(tx, &records[i])
			if err != nil {
				return err
			}
			switch outcome {
			case OutcomeCreated:
				result.Created++
				result.Changed = append(result.Changed, id)
			case OutcomeUpdated:
				result.Updated++
				result.Changed = append(result.Changed, id)
			default:
				result.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to upsert interactions: %w", err)
	}

	return result, nil
}

// upsert applies last-write-wins on content fields and never regresses an answered status
func (s *InteractionStore) upsert(tx *gorm.DB, rec *Record) (Outcome, string, error) {
	in := &rec.Interaction
	log := s.logger.WithFields(logrus.Fields{
		"seller_id":   in.SellerID,
		"channel":     in.Channel,
		"external_id": in.ExternalID,
	})

	var existing models.Interaction
	err := tx.Where("seller_id = ? AND channel = ? AND external_id = ?", in.SellerID, in.Channel, in.ExternalID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := s.now()
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		if rec.Answered {
			in.Status = models.StatusResponded
			in.NeedsResponse = false
		} else if in.Status == "" {
			in.Status = models.StatusOpen
		}
		in.AutoReplyToken = ""
		in.CreatedAt, in.UpdatedAt = now, now

		if err := tx.Create(in).Error; err != nil {
			return OutcomeUnchanged, "", fmt.Errorf("failed to create interaction %s: %w", in.ExternalID, err)
		}
		if _, err := insertMessages(tx, in.ID, rec.Messages); err != nil {
			return OutcomeUnchanged, "", err
		}

		log.WithField("interaction_id", in.ID).Debug("Created interaction")
		return OutcomeCreated, in.ID, nil
	}
	if err != nil {
		return OutcomeUnchanged, "", fmt.Errorf("failed to load interaction %s: %w", in.ExternalID, err)
	}

	newCustomerMessages, err := insertMessages(tx, existing.ID, rec.Messages)
	if err != nil {
		return OutcomeUnchanged, "", err
	}

	updates := map[string]interface{}{}
	contentChanged := false
	setContent := func(column string, changed bool, value interface{}) {
		if changed {
			updates[column] = value
			contentChanged = true
		}
	}
	setContent("text", existing.Text != in.Text, in.Text)
	setContent("rating", !sameRating(existing.Rating, in.Rating), in.Rating)
	setContent("product_id", existing.ProductID != in.ProductID, in.ProductID)
	setContent("customer_name", existing.CustomerName != in.CustomerName, in.CustomerName)
	setContent("occurred_at", !existing.OccurredAt.Equal(in.OccurredAt), in.OccurredAt)
	// An answered flag without text keeps the answer we already know
	setContent("answer_text", in.AnswerText != "" && existing.AnswerText != in.AnswerText, in.AnswerText)

	status, needsResponse := mergeStatus(&existing, rec, newCustomerMessages)
	if status != existing.Status {
		updates["status"] = status
	}
	if needsResponse != existing.NeedsResponse {
		updates["needs_response"] = needsResponse
	}

	if contentChanged {
		updates["priority"] = in.Priority
		updates["deadline"] = in.Deadline
	}

	if existing.AutoReplyToken != "" && (contentChanged || status.Answered()) {
		updates["auto_reply_token"] = ""
		if err := cancelPendingJobs(tx, existing.ID, "interaction changed upstream", s.now()); err != nil {
			return OutcomeUnchanged, "", err
		}
	}

	if len(updates) == 0 && newCustomerMessages == 0 {
		return OutcomeUnchanged, existing.ID, nil
	}

	updates["updated_at"] = s.now()
	if err := tx.Model(&models.Interaction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return OutcomeUnchanged, "", fmt.Errorf("failed to update interaction %s: %w", in.ExternalID, err)
	}

	log.WithFields(logrus.Fields{
		"interaction_id": existing.ID,
		"status":         status,
	}).Debug("Updated interaction")
	return OutcomeUpdated, existing.ID, nil
}

// mergeStatus derives the stored status from the local state and the upstream flag.
// Closed is terminal. Answered local states only reopen for a chat that received
// new customer messages the upstream still reports as unanswered.
func mergeStatus(existing *models.Interaction, rec *Record, newCustomerMessages int) (models.Status, bool) {
	switch {
	case existing.Status == models.StatusClosed:
		return existing.Status, false
	case rec.Answered:
		if existing.Status.Answered() {
			return existing.Status, false
		}
		return models.StatusResponded, false
	case existing.Status.Answered():
		if existing.Channel == models.ChannelChat && newCustomerMessages > 0 {
			return models.StatusOpen, rec.Interaction.NeedsResponse
		}
		return existing.Status, false
	default:
		return existing.Status, rec.Interaction.NeedsResponse
	}
}

// insertMessages adds unseen messages, refreshes edited ones and returns how many new customer messages were stored
func insertMessages(tx *gorm.DB, interactionID string, messages []models.InteractionMessage) (int, error) {
	customer := 0
	for i := range messages {
		msg := messages[i]
		msg.ID = 0
		msg.InteractionID = interactionID

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interaction_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).Create(&msg)
		if result.Error != nil {
			return 0, fmt.Errorf("failed to store message %s: %w", msg.ExternalID, result.Error)
		}
		if result.RowsAffected == 0 {
			// upstream edits replace the text but never count as a new message
			if err := tx.Model(&models.InteractionMessage{}).
				Where("interaction_id = ? AND external_id = ? AND text <> ?", interactionID, msg.ExternalID, msg.Text).
				Update("text", msg.Text).Error; err != nil {
				return 0, fmt.Errorf("failed to update message %s: %w", msg.ExternalID, err)
			}
			continue
		}
		if msg.Author == models.AuthorCustomer {
			customer++
		}
	}
	return customer, nil
}

func sameRating(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Get returns one interaction by id
func (s *InteractionStore) Get(ctx context.Context, id string) (*models.Interaction, error) {
	var in models.Interaction
	err := s.db.WithContext(ctx).First(&in, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction %s: %w", id, err)
	}
	return &in, nil
}

// Messages returns the last limit thread messages in chronological order
func (s *InteractionStore) Messages(ctx context.Context, interactionID string, limit int) ([]models.InteractionMessage, error) {
	var messages []models.InteractionMessage
	query := s.db.WithContext(ctx).
		Where("interaction_id = ?", interactionID).
		Order("sent_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", interactionID, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkResponded records a reply that went out and revokes any auto-reply token
func (s *InteractionStore) MarkResponded(ctx context.Context, id, text string, status models.Status) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Interaction{}).
			Where("id = ? AND status <> ?", id, models.StatusClosed).
			Updates(map[string]interface{}{
				"status":           status,
				"needs_response":   false,
				"answer_text":      text,
				"auto_reply_token": "",
				"updated_at":       now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to mark interaction %s responded: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := cancelPendingJobs(tx, id, "answered", now); err != nil {
			return err
		}

		msg := models.InteractionMessage{
			InteractionID: id,
			ExternalID:    "seller-" + uuid.NewString(),
			Author:        models.AuthorSeller,
			Text:          text,
			SentAt:        now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to store reply message: %w", err)
		}
		return nil
	})
}

// MarkWaiting moves an open interaction to waiting once a reply is being prepared
func (s *InteractionStore) MarkWaiting(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.Interaction{}).
		Where("id = ? AND status = ?", id, models.StatusOpen).
		Updates(map[string]interface{}{
			"status":     models.StatusWaiting,
			"updated_at": s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark interaction %s waiting: %w", id, err)
	}
	return nil
}

// Close moves an interaction to the terminal closed state
func (s *InteractionStore) Close(ctx context.Context, id string) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Interaction{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":           models.StatusClosed,
				"needs_response":   false,
				"auto_reply_token": "",
				"updated_at":       now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to close interaction %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return cancelPendingJobs(tx, id, "closed", now)
	})
}

// cancelPendingJobs terminates the pending auto-reply of an interaction whose token was revoked
func cancelPendingJobs(tx *gorm.DB, interactionID, reason string, now time.Time) error {
	err := tx.Model(&models.AutoReplyJob{}).
		Where("interaction_id = ? AND status = ?", interactionID, models.JobPending).
		Updates(map[string]interface{}{
			"status":     models.JobCancelled,
			"last_error": reason,
			"updated_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to cancel pending auto-reply for %s: %w", interactionID, err)
	}
	return nil
}
