package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncMode selects between a from-scratch and a resumable sync
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// Valid reports whether m is a known sync mode
func (m SyncMode) Valid() bool {
	return m == SyncModeFull || m == SyncModeIncremental
}

// SyncWatermark is the resume point for one (seller, channel, mode) feed.
// Cursors holds one opaque connector cursor per upstream answer state.
type SyncWatermark struct {
	SellerID   string                                `gorm:"primaryKey;column:seller_id"`
	Channel    Channel                               `gorm:"primaryKey;column:channel;type:varchar(16)"`
	Mode       SyncMode                              `gorm:"primaryKey;column:mode;type:varchar(16)"`
	Cursors    datatypes.JSONType[map[string]string] `gorm:"column:cursors"`
	LastSeenAt *time.Time                            `gorm:"column:last_seen_at"`
	UpdatedAt  time.Time                             `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for the SyncWatermark model
func (SyncWatermark) TableName() string {
	return "sync_watermarks"
}

// Cursor returns the stored cursor for state, empty when none
func (w *SyncWatermark) Cursor(state string) string {
	if w == nil {
		return ""
	}
	return w.Cursors.Data()[state]
}
