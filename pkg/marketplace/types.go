// Package marketplace defines the connector contract for marketplace APIs and
// ships an HTTP implementation plus a rate-limited, retrying decorator.
package marketplace

import (
	"context"
	"time"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// AnswerState partitions an upstream feed into items with and without a seller answer
type AnswerState string

const (
	StateUnanswered AnswerState = "unanswered"
	StateAnswered   AnswerState = "answered"
)

// States lists answer states in sync order
var States = []AnswerState{StateUnanswered, StateAnswered}

// RawMessage is one upstream chat message
type RawMessage struct {
	ID       string    `json:"id"`
	FromUser bool      `json:"from_customer"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// RawItem is an interaction as the marketplace reports it
type RawItem struct {
	ID           string       `json:"id"`
	Rating       *int         `json:"rating,omitempty"`
	Text         string       `json:"text"`
	ProductID    string       `json:"product_id,omitempty"`
	CustomerName string       `json:"customer_name,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Answered     bool         `json:"answered"`
	AnswerText   string       `json:"answer_text,omitempty"`
	Messages     []RawMessage `json:"messages,omitempty"`
}

// ListRequest selects one page of a (seller, channel, state) feed
type ListRequest struct {
	SellerID string
	Channel  models.Channel
	State    AnswerState
	Cursor   string
	PageSize int
}

// Page is one page of items.
// NextCursor resumes after the last item; empty means the feed cannot be resumed.
// Total is the number of items the source reports for the state, zero when unknown.
type Page struct {
	Items      []RawItem `json:"items"`
	NextCursor string    `json:"next_cursor"`
	Total      int       `json:"total"`
}

// Ack confirms that a reply was accepted upstream
type Ack struct {
	ReplyID    string    `json:"reply_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Connector is the consumed marketplace API
type Connector interface {
	ListItems(ctx context.Context, req ListRequest) (Page, error)
	SendReply(ctx context.Context, sellerID string, channel models.Channel, externalID, text string) (Ack, error)
}
