package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// WatermarkStore persists sync resume points
type WatermarkStore struct {
	logger *logrus.Logger
	db     *gorm.DB
}

// NewWatermarkStore creates a WatermarkStore
func NewWatermarkStore(logger *logrus.Logger, db *gorm.DB) *WatermarkStore {
	return &WatermarkStore{logger: logger, db: db}
}

// Get returns the watermark of a feed, an empty one when none was stored yet
func (s *WatermarkStore) Get(ctx context.Context, sellerID string, channel models.Channel, mode models.SyncMode) (*models.SyncWatermark, error) {
	var w models.SyncWatermark
	err := s.db.WithContext(ctx).
		Where("seller_id = ? AND channel = ? AND mode = ?", sellerID, channel, mode).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SyncWatermark{
			SellerID: sellerID,
			Channel:  channel,
			Mode:     mode,
			Cursors:  datatypes.NewJSONType(map[string]string{}),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}
	return &w, nil
}

// Advance moves the cursor of one state. The row is left untouched when neither
// the cursor nor the last seen time changed. It reports whether a write happened.
func (s *WatermarkStore) Advance(ctx context.Context, sellerID string, channel models.Channel, mode models.SyncMode, state, cursor string, lastSeen *time.Time) (bool, error) {
	current, err := s.Get(ctx, sellerID, channel, mode)
	if err != nil {
		return false, err
	}

	seen := current.LastSeenAt
	if lastSeen != nil && (seen == nil || lastSeen.After(*seen)) {
		seen = lastSeen
	}

	if current.Cursor(state) == cursor && sameTime(seen, current.LastSeenAt) {
		return false, nil
	}

	cursors := make(map[string]string, len(current.Cursors.Data())+1)
	for k, v := range current.Cursors.Data() {
		cursors[k] = v
	}
	cursors[state] = cursor

	row := models.SyncWatermark{
		SellerID:   sellerID,
		Channel:    channel,
		Mode:       mode,
		Cursors:    datatypes.NewJSONType(cursors),
		LastSeenAt: seen,
		UpdatedAt:  time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "seller_id"}, {Name: "channel"}, {Name: "mode"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursors", "last_seen_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return false, fmt.Errorf("failed to advance watermark: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"method":    "Advance",
		"seller_id": sellerID,
		"channel":   channel,
		"mode":      mode,
		"state":     state,
		"cursor":    cursor,
	}).Debug("Watermark advanced")
	return true, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
