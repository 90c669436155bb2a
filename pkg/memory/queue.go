package memory

import (
	"context"
	"fmt"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// QueueFilter selects the operator queue of one seller
type QueueFilter struct {
	SellerID string
	Channel  models.Channel
	Priority models.Priority
	Limit    int
	Offset   int
}

// QueueItem is an interaction awaiting a human, with its latest auto-reply job if any
type QueueItem struct {
	Interaction models.Interaction   `json:"interaction"`
	AutoReply   *models.AutoReplyJob `json:"auto_reply,omitempty"`
}

const priorityOrder = "CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END"

// ListQueue returns interactions needing a response ordered by priority then deadline
func (s *InteractionStore) ListQueue(ctx context.Context, filter QueueFilter) ([]QueueItem, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	query := s.db.WithContext(ctx).
		Where("seller_id = ? AND needs_response = ?", filter.SellerID, true).
		Where("status IN ?", []models.Status{models.StatusOpen, models.StatusWaiting})
	if filter.Channel != "" {
		query = query.Where("channel = ?", filter.Channel)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}

	var interactions []models.Interaction
	err := query.
		Order(priorityOrder).
		Order("deadline ASC").
		Order("id ASC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&interactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	ids := make([]string, len(interactions))
	for i := range interactions {
		ids[i] = interactions[i].ID
	}

	jobs := map[string]*models.AutoReplyJob{}
	if len(ids) > 0 {
		var rows []models.AutoReplyJob
		err := s.db.WithContext(ctx).
			Where("interaction_id IN ?", ids).
			Order("created_at ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load auto-reply jobs: %w", err)
		}
		for i := range rows {
			jobs[rows[i].InteractionID] = &rows[i]
		}
	}

	items := make([]QueueItem, len(interactions))
	for i := range interactions {
		items[i] = QueueItem{Interaction: interactions[i], AutoReply: jobs[interactions[i].ID]}
	}
	return items, nil
}

// ListAutoReplyCandidates returns unanswered reviews at or above minRating without an active token
func (s *InteractionStore) ListAutoReplyCandidates(ctx context.Context, sellerID string, minRating, limit int) ([]models.Interaction, error) {
	if minRating < models.AutoReplyRatingFloor {
		minRating = models.AutoReplyRatingFloor
	}
	if limit <= 0 {
		limit = 50
	}

	var interactions []models.Interaction
	err := s.db.WithContext(ctx).
		Where("seller_id = ? AND channel = ?", sellerID, models.ChannelReview).
		Where("needs_response = ? AND status = ?", true, models.StatusOpen).
		Where("rating >= ?", minRating).
		Where("auto_reply_token = ?", "").
		Where("NOT EXISTS (SELECT 1 FROM auto_reply_jobs j WHERE j.interaction_id = interactions.id)").
		Order("occurred_at ASC").
		Limit(limit).
		Find(&interactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-reply candidates: %w", err)
	}
	return interactions, nil
}

// LatestJob returns the most recent auto-reply job of an interaction, nil when it never had one
func (s *InteractionStore) LatestJob(ctx context.Context, interactionID string) (*models.AutoReplyJob, error) {
	var jobs []models.AutoReplyJob
	err := s.db.WithContext(ctx).
		Where("interaction_id = ?", interactionID).
		Order("created_at DESC").
		Limit(1).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-reply job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}
