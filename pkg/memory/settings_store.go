package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// SettingsStore persists per-seller settings
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore creates a SettingsStore
func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the seller's settings, defaults when none were saved.
// The minimum rating is clamped to the hard floor on read.
func (s *SettingsStore) Get(ctx context.Context, sellerID string) (models.SellerSettings, error) {
	var settings models.SellerSettings
	err := s.db.WithContext(ctx).First(&settings, "seller_id = ?", sellerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultSellerSettings(sellerID), nil
	}
	if err != nil {
		return models.SellerSettings{}, fmt.Errorf("failed to load seller settings: %w", err)
	}
	settings.MinRating = settings.EffectiveMinRating()
	return settings, nil
}

// Save validates, clamps and stores the settings
func (s *SettingsStore) Save(ctx context.Context, settings models.SellerSettings) (models.SellerSettings, error) {
	if settings.SellerID == "" {
		return models.SellerSettings{}, fmt.Errorf("seller id is required")
	}
	settings.MinRating = settings.EffectiveMinRating()
	if settings.MinRating > 5 {
		settings.MinRating = 5
	}
	if settings.DelaySeconds < 0 {
		settings.DelaySeconds = 0
	}
	if settings.DailyCap < 0 {
		settings.DailyCap = 0
	}
	settings.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "seller_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sync_enabled", "auto_reply_enabled", "min_rating", "delay_seconds", "daily_cap", "updated_at"}),
	}).Create(&settings).Error
	if err != nil {
		return models.SellerSettings{}, fmt.Errorf("failed to save seller settings: %w", err)
	}
	return settings, nil
}

// Ensure stores default settings for sellers that have none yet
func (s *SettingsStore) Ensure(ctx context.Context, sellerIDs ...string) error {
	return s.EnsureWith(ctx, models.DefaultSellerSettings, sellerIDs...)
}

// EnsureWith is Ensure with caller-provided defaults. Existing settings are never touched.
func (s *SettingsStore) EnsureWith(ctx context.Context, defaultsFor func(sellerID string) models.SellerSettings, sellerIDs ...string) error {
	for _, id := range sellerIDs {
		defaults := defaultsFor(id)
		defaults.SellerID = id
		defaults.MinRating = defaults.EffectiveMinRating()
		defaults.UpdatedAt = time.Now().UTC()
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error
		if err != nil {
			return fmt.Errorf("failed to seed settings for seller %s: %w", id, err)
		}
	}
	return nil
}

// SyncSellers lists sellers with sync enabled
func (s *SettingsStore) SyncSellers(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.SellerSettings{}).
		Where("sync_enabled = ?", true).
		Order("seller_id").
		Pluck("seller_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sellers: %w", err)
	}
	return ids, nil
}

// AutoReplySellers lists sellers with auto-reply enabled
func (s *SettingsStore) AutoReplySellers(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.SellerSettings{}).
		Where("auto_reply_enabled = ?", true).
		Order("seller_id").
		Pluck("seller_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-reply sellers: %w", err)
	}
	return ids, nil
}
