package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

// ErrMalformed marks an upstream item that cannot be stored
var ErrMalformed = errors.New("malformed item")

// NormalizeExternalID trims and lower-cases an upstream id
func NormalizeExternalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Normalize converts one raw item into a storable record.
// Items fetched from the answered state count as answered regardless of their flag.
func Normalize(sellerID string, channel models.Channel, state marketplace.AnswerState, raw marketplace.RawItem) (memory.Record, error) {
	externalID := NormalizeExternalID(raw.ID)
	if externalID == "" {
		return memory.Record{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if raw.CreatedAt.IsZero() {
		return memory.Record{}, fmt.Errorf("%w: %s has no timestamp", ErrMalformed, externalID)
	}

	occurred := raw.CreatedAt.UTC().Truncate(time.Microsecond)
	answered := raw.Answered || state == marketplace.StateAnswered
	text := strings.TrimSpace(raw.Text)

	in := models.Interaction{
		ExternalID:   externalID,
		SellerID:     sellerID,
		Channel:      channel,
		Text:         text,
		ProductID:    strings.TrimSpace(raw.ProductID),
		CustomerName: strings.TrimSpace(raw.CustomerName),
		OccurredAt:   occurred,
		AnswerText:   strings.TrimSpace(raw.AnswerText),
	}

	var messages []models.InteractionMessage
	switch channel {
	case models.ChannelReview:
		if raw.Rating == nil || *raw.Rating < 1 || *raw.Rating > 5 {
			return memory.Record{}, fmt.Errorf("%w: review %s has no valid rating", ErrMalformed, externalID)
		}
		rating := *raw.Rating
		in.Rating = &rating
		messages = singleExchange(in)

	case models.ChannelQuestion:
		if text == "" {
			return memory.Record{}, fmt.Errorf("%w: question %s has no text", ErrMalformed, externalID)
		}
		messages = singleExchange(in)

	case models.ChannelChat:
		messages = chatMessages(raw.Messages)
		if in.Text == "" {
			in.Text = lastCustomerText(messages)
		}
		if in.Text == "" {
			return memory.Record{}, fmt.Errorf("%w: chat %s has no customer message", ErrMalformed, externalID)
		}

	default:
		return memory.Record{}, fmt.Errorf("%w: unknown channel %q", ErrMalformed, channel)
	}

	// A rating-only review has nothing to answer
	in.NeedsResponse = !answered && in.Text != ""
	if answered {
		in.Status = models.StatusResponded
	} else {
		in.Status = models.StatusOpen
	}

	return memory.Record{Interaction: in, Answered: answered, Messages: messages}, nil
}

func singleExchange(in models.Interaction) []models.InteractionMessage {
	var messages []models.InteractionMessage
	if in.Text != "" {
		messages = append(messages, models.InteractionMessage{
			ExternalID: "customer",
			Author:     models.AuthorCustomer,
			Text:       in.Text,
			SentAt:     in.OccurredAt,
		})
	}
	if in.AnswerText != "" {
		messages = append(messages, models.InteractionMessage{
			ExternalID: "answer",
			Author:     models.AuthorSeller,
			Text:       in.AnswerText,
			SentAt:     in.OccurredAt,
		})
	}
	return messages
}

func chatMessages(raw []marketplace.RawMessage) []models.InteractionMessage {
	messages := make([]models.InteractionMessage, 0, len(raw))
	for _, m := range raw {
		id := NormalizeExternalID(m.ID)
		text := strings.TrimSpace(m.Text)
		if id == "" || text == "" {
			continue
		}
		author := models.AuthorSeller
		if m.FromUser {
			author = models.AuthorCustomer
		}
		messages = append(messages, models.InteractionMessage{
			ExternalID: id,
			Author:     author,
			Text:       text,
			SentAt:     m.SentAt.UTC().Truncate(time.Microsecond),
		})
	}
	return messages
}

func lastCustomerText(messages []models.InteractionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Author == models.AuthorCustomer {
			return messages[i].Text
		}
	}
	return ""
}
