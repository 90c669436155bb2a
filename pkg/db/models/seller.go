package models

import (
	"time"
)

// AutoReplyRatingFloor is the lowest rating that may ever receive an automatic reply
const AutoReplyRatingFloor = 4

// SellerSettings holds per-seller sync and auto-reply configuration
type SellerSettings struct {
	SellerID         string    `gorm:"primaryKey;column:seller_id" json:"seller_id"`
	SyncEnabled      bool      `gorm:"column:sync_enabled;not null" json:"sync_enabled"`
	AutoReplyEnabled bool      `gorm:"column:auto_reply_enabled;not null" json:"auto_reply_enabled"`
	MinRating        int       `gorm:"column:min_rating;not null" json:"min_rating"`
	DelaySeconds     int       `gorm:"column:delay_seconds;not null" json:"delay_seconds"`
	DailyCap         int       `gorm:"column:daily_cap;not null" json:"daily_cap"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// DefaultSellerSettings returns the settings of a seller that never configured anything
func DefaultSellerSettings(sellerID string) SellerSettings {
	return SellerSettings{
		SellerID:         sellerID,
		SyncEnabled:      true,
		AutoReplyEnabled: false,
		MinRating:        5,
		DelaySeconds:     300,
		DailyCap:         50,
	}
}

// TableName specifies the table name for the SellerSettings model
func (SellerSettings) TableName() string {
	return "seller_settings"
}

// EffectiveMinRating clamps the configured minimum to the hard floor
func (s *SellerSettings) EffectiveMinRating() int {
	if s == nil || s.MinRating < AutoReplyRatingFloor {
		return AutoReplyRatingFloor
	}
	return s.MinRating
}

// Delay returns the configured send delay
func (s *SellerSettings) Delay() time.Duration {
	if s == nil || s.DelaySeconds < 0 {
		return 0
	}
	return time.Duration(s.DelaySeconds) * time.Second
}

// AllModels lists every model managed by auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&Interaction{},
		&InteractionMessage{},
		&SyncWatermark{},
		&ProductCacheEntry{},
		&AutoReplyJob{},
		&AutoReplyCounter{},
		&SellerSettings{},
	}
}
