package models

import (
	"time"
)

// Channel is the kind of customer interaction a marketplace exposes
type Channel string

const (
	ChannelReview   Channel = "review"
	ChannelQuestion Channel = "question"
	ChannelChat     Channel = "chat"
)

// Channels lists every supported channel in sync order
var Channels = []Channel{ChannelChat, ChannelQuestion, ChannelReview}

// Valid reports whether c is one of the known channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelReview, ChannelQuestion, ChannelChat:
		return true
	}
	return false
}

// Status is the lifecycle state of an interaction
type Status string

const (
	StatusOpen         Status = "open"
	StatusWaiting      Status = "waiting"
	StatusResponded    Status = "responded"
	StatusAutoResponse Status = "auto_response"
	StatusClosed       Status = "closed"
)

// Answered reports whether the status means a reply has already gone out
func (s Status) Answered() bool {
	return s == StatusResponded || s == StatusAutoResponse || s == StatusClosed
}

// Priority is the SLA tier used to order human attention
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, lower is more urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// Interaction is the unified record for a review, question or chat thread
type Interaction struct {
	ID         string  `gorm:"primaryKey;column:id" json:"id"`
	ExternalID string  `gorm:"column:external_id;not null;uniqueIndex:idx_interactions_source,priority:3" json:"external_id"`
	SellerID   string  `gorm:"column:seller_id;not null;uniqueIndex:idx_interactions_source,priority:1;index:idx_interactions_queue,priority:1" json:"seller_id"`
	Channel    Channel `gorm:"column:channel;type:varchar(16);not null;uniqueIndex:idx_interactions_source,priority:2" json:"channel"`

	// Content
	Rating       *int      `gorm:"column:rating" json:"rating,omitempty"`
	Text         string    `gorm:"column:text;not null;default:''" json:"text"`
	ProductID    string    `gorm:"column:product_id" json:"product_id,omitempty"`
	CustomerName string    `gorm:"column:customer_name" json:"customer_name,omitempty"`
	OccurredAt   time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
	AnswerText   string    `gorm:"column:answer_text;not null;default:''" json:"answer_text,omitempty"`

	// Operational Fields
	Status        Status    `gorm:"column:status;type:varchar(16);not null;default:'open';index:idx_interactions_queue,priority:2" json:"status"`
	NeedsResponse bool      `gorm:"column:needs_response;not null" json:"needs_response"`
	Priority      Priority  `gorm:"column:priority;type:varchar(16);not null;default:'normal'" json:"priority"`
	Deadline      time.Time `gorm:"column:deadline" json:"deadline"`

	// AutoReplyToken is the scheduling token of the active auto-reply job, empty when none
	AutoReplyToken string `gorm:"column:auto_reply_token;not null;default:'';check:chk_interactions_auto_reply_floor,auto_reply_token = '' OR (channel = 'review' AND rating >= 4)" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName specifies the table name for the Interaction model
func (Interaction) TableName() string {
	return "interactions"
}

// HasRating reports whether the interaction carries a star rating
func (i *Interaction) HasRating() bool {
	return i.Rating != nil
}

// RatingValue returns the rating or zero when absent
func (i *Interaction) RatingValue() int {
	if i.Rating == nil {
		return 0
	}
	return *i.Rating
}

// MessageAuthor identifies who wrote a thread message
type MessageAuthor string

const (
	AuthorCustomer MessageAuthor = "customer"
	AuthorSeller   MessageAuthor = "seller"
)

// InteractionMessage is a single message inside an interaction thread
type InteractionMessage struct {
	ID            uint          `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	InteractionID string        `gorm:"column:interaction_id;not null;uniqueIndex:idx_messages_source,priority:1" json:"interaction_id"`
	ExternalID    string        `gorm:"column:external_id;not null;uniqueIndex:idx_messages_source,priority:2" json:"external_id"`
	Author        MessageAuthor `gorm:"column:author;type:varchar(16);not null" json:"author"`
	Text          string        `gorm:"column:text;not null" json:"text"`
	SentAt        time.Time     `gorm:"column:sent_at;not null" json:"sent_at"`
}

// TableName specifies the table name for the InteractionMessage model
func (InteractionMessage) TableName() string {
	return "interaction_messages"
}
