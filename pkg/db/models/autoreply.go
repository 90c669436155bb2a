package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the state of an auto-reply job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSent      JobStatus = "sent"
	JobCancelled JobStatus = "cancelled"
	JobBlocked   JobStatus = "blocked"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can happen
func (s JobStatus) Terminal() bool {
	return s != JobPending
}

// AutoReplyJob is a delayed, revocable automatic reply to one interaction
type AutoReplyJob struct {
	ID            string                      `gorm:"primaryKey;column:id" json:"id"`
	InteractionID string                      `gorm:"column:interaction_id;not null;index" json:"interaction_id"`
	SellerID      string                      `gorm:"column:seller_id;not null;index" json:"seller_id"`
	Token         string                      `gorm:"column:token;not null" json:"-"`
	DraftText     string                      `gorm:"column:draft_text;not null" json:"draft_text"`
	ScheduledAt   time.Time                   `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	Status        JobStatus                   `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	AttemptCount  int                         `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	LastError     string                      `gorm:"column:last_error" json:"last_error,omitempty"`
	Violations    datatypes.JSONSlice[string] `gorm:"column:violations" json:"violations,omitempty"`
	CreatedAt     time.Time                   `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName specifies the table name for the AutoReplyJob model
func (AutoReplyJob) TableName() string {
	return "auto_reply_jobs"
}

// AutoReplyCounter counts automatic replies sent by a seller on one UTC day
type AutoReplyCounter struct {
	SellerID string `gorm:"primaryKey;column:seller_id"`
	Day      string `gorm:"primaryKey;column:day;type:varchar(10)"`
	Count    int    `gorm:"column:count;not null;default:0"`
}

// TableName specifies the table name for the AutoReplyCounter model
func (AutoReplyCounter) TableName() string {
	return "auto_reply_counters"
}
