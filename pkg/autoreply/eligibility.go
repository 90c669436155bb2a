package autoreply

import (
	"fmt"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/textsignal"
)

// Reasons an interaction may not receive an automatic reply
const (
	reasonChannel     = "only reviews are answered automatically"
	reasonNoRating    = "review has no rating"
	reasonAnswered    = "interaction was already answered"
	reasonNotNeeded   = "interaction does not need a response"
	reasonDisabled    = "auto-reply is disabled for the seller"
	reasonInvalidText = "draft failed validation"

	reasonOutcomeUnknown = "delivery outcome unknown after restart"
)

// ineligibility returns why in may not be auto-answered under settings, or "" when it may.
// The daily cap is checked separately at fire time.
func ineligibility(in *models.Interaction, settings models.SellerSettings) string {
	if in.Channel != models.ChannelReview {
		return reasonChannel
	}
	if !in.HasRating() {
		return reasonNoRating
	}
	if minRating := settings.EffectiveMinRating(); in.RatingValue() < minRating {
		return fmt.Sprintf("rating %d is below the minimum of %d", in.RatingValue(), minRating)
	}
	if in.Status.Answered() {
		return reasonAnswered
	}
	if !in.NeedsResponse {
		return reasonNotNeeded
	}
	if !settings.AutoReplyEnabled {
		return reasonDisabled
	}
	if m, ok := textsignal.NegativeSignal(in.Text); ok {
		return fmt.Sprintf("review contains a %s signal %q", m.Lexicon, m.Term)
	}
	return ""
}

// Eligible reports whether an interaction may be auto-answered under settings
func Eligible(in *models.Interaction, settings models.SellerSettings) (bool, string) {
	reason := ineligibility(in, settings)
	return reason == "", reason
}
