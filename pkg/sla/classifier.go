// Package sla assigns a priority tier and a response deadline to interactions.
package sla

import (
	"time"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/textsignal"
)

// Response windows per tier
const (
	UrgentWindow   = 30 * time.Minute
	HighWindow     = 4 * time.Hour
	QuestionWindow = 2 * time.Hour
	NormalWindow   = 24 * time.Hour
	LowWindow      = 48 * time.Hour

	// EscalationHorizon is how close to its deadline an open interaction must be to become urgent
	EscalationHorizon = 30 * time.Minute
)

// Classification is the result of classifying one interaction
type Classification struct {
	Priority models.Priority
	Deadline time.Time
	Reason   string
}

type rule struct {
	name     string
	priority models.Priority
	window   time.Duration
	match    func(in *models.Interaction, tokens []string) bool
}

// Classifier applies the ordered rule list; the first matching rule wins
type Classifier struct {
	rules []rule
}

// NewClassifier builds the default rule set
func NewClassifier() *Classifier {
	return &Classifier{rules: []rule{
		{
			name:     "low_rating_or_defect",
			priority: models.PriorityUrgent,
			window:   UrgentWindow,
			match: func(in *models.Interaction, tokens []string) bool {
				if in.HasRating() && in.RatingValue() <= 2 {
					return true
				}
				_, ok := textsignal.Defect.FindTokens(tokens)
				return ok
			},
		},
		{
			name:     "neutral_rating_or_logistics",
			priority: models.PriorityHigh,
			window:   HighWindow,
			match: func(in *models.Interaction, tokens []string) bool {
				if in.HasRating() && in.RatingValue() == 3 {
					return true
				}
				_, ok := textsignal.Logistics.FindTokens(tokens)
				return ok
			},
		},
		{
			name:     "pre_purchase_question",
			priority: models.PriorityHigh,
			window:   QuestionWindow,
			match: func(in *models.Interaction, _ []string) bool {
				return in.Channel == models.ChannelQuestion
			},
		},
		{
			name:     "positive_review",
			priority: models.PriorityLow,
			window:   LowWindow,
			match: func(in *models.Interaction, tokens []string) bool {
				if !in.HasRating() || in.RatingValue() < 4 {
					return false
				}
				_, negative := textsignal.Negative.FindTokens(tokens)
				return !negative
			},
		},
	}}
}

// Classify derives the priority tier and deadline of an interaction
func (c *Classifier) Classify(in *models.Interaction) Classification {
	tokens := textsignal.Tokens(in.Text)
	for _, r := range c.rules {
		if r.match(in, tokens) {
			return Classification{
				Priority: r.priority,
				Deadline: in.OccurredAt.Add(r.window),
				Reason:   r.name,
			}
		}
	}
	return Classification{
		Priority: models.PriorityNormal,
		Deadline: in.OccurredAt.Add(NormalWindow),
		Reason:   "default",
	}
}

// Apply classifies in and writes the result onto it
func (c *Classifier) Apply(in *models.Interaction) Classification {
	result := c.Classify(in)
	in.Priority = result.Priority
	in.Deadline = result.Deadline
	return result
}
