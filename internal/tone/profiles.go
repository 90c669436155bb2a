// Package tone selects the reply voice for an interaction: the instruction
// block handed to the language model and the deterministic fallback template.
package tone

import (
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/guardrail"
	"github.com/lisanmuaddib/replydesk/pkg/textsignal"
)

// Bucket groups ratings that share a tone
type Bucket string

const (
	BucketPositive Bucket = "positive"
	BucketNeutral  Bucket = "neutral"
	BucketNegative Bucket = "negative"
	BucketNone     Bucket = "none"
)

// ProfileName identifies an instruction profile
type ProfileName string

const (
	EmpatheticHelp ProfileName = "empathetic_help"
	Gratitude      ProfileName = "gratitude"
	NoPromises     ProfileName = "no_promises"
)

// Profile is the per-channel strategy threaded through draft generation
type Profile struct {
	Name      ProfileName
	Channel   models.Channel
	Bucket    Bucket
	Sections  map[string]string
	MaxTokens int
	Limit     int
	Template  string
}

// Sections shared by every profile
var baseSections = map[string]string{
	"Role": `   - You are a customer care specialist answering on behalf of a marketplace seller
   - You write in the language of the customer's message, usually Russian
   - You address the customer politely and by name when it is known`,

	"Hard Rules": `   - Never promise refunds, replacements, compensation, discounts or promo codes
   - Never blame the customer or suggest they used the product incorrectly
   - Never mention bots, automation, neural networks or AI
   - Do not invent product facts that are not in the context`,
}

var profileSections = map[ProfileName]map[string]string{
	EmpatheticHelp: {
		"Goal": `   - Answer the customer's question directly using the product context
   - If the answer is not in the context, say the seller will clarify in this chat
   - Keep a warm, helpful tone`,
	},
	Gratitude: {
		"Goal": `   - Thank the customer for the rating and the review
   - Mention one concrete detail from their text when there is one
   - Invite them back without any offers`,
	},
	NoPromises: {
		"Goal": `   - Acknowledge the customer's experience and apologise for the inconvenience
   - Ask them to contact the seller through the marketplace chat to sort it out
   - Stay calm and factual, make no commitments`,
	},
}

// templates are the deterministic fallbacks, keyed by channel and bucket
var templates = map[models.Channel]map[Bucket]string{
	models.ChannelReview: {
		BucketPositive: "Спасибо за высокую оценку и тёплый отзыв! Рады, что покупка вам понравилась. Будем рады видеть вас снова.",
		BucketNeutral:  "Спасибо за отзыв и за то, что поделились впечатлениями. Мы внимательно изучим ваши замечания, чтобы стать лучше.",
		BucketNegative: "Нам очень жаль, что покупка вас огорчила. Пожалуйста, напишите нам в чат продавца, чтобы мы разобрались в ситуации.",
	},
	models.ChannelQuestion: {
		BucketNone: "Спасибо за вопрос! Основные характеристики указаны в карточке товара. Если останутся вопросы, напишите нам, мы с радостью поможем.",
	},
	models.ChannelChat: {
		BucketNone: "Здравствуйте! Спасибо за обращение. Мы уже изучаем ваш вопрос и скоро ответим в этом чате.",
	},
}

// maxTokens per channel keeps completions inside the channel's length bound
var maxTokens = map[models.Channel]int{
	models.ChannelReview:   300,
	models.ChannelQuestion: 300,
	models.ChannelChat:     250,
}

// BucketFor places an interaction in a rating bucket.
// Positive ratings that still carry a complaint count as neutral.
func BucketFor(in *models.Interaction) Bucket {
	if in.Channel != models.ChannelReview || !in.HasRating() {
		return BucketNone
	}
	switch r := in.RatingValue(); {
	case r <= 2:
		return BucketNegative
	case r == 3:
		return BucketNeutral
	default:
		if _, negative := textsignal.NegativeSignal(in.Text); negative {
			return BucketNeutral
		}
		return BucketPositive
	}
}

// Select picks the profile for an interaction
func Select(in *models.Interaction) Profile {
	bucket := BucketFor(in)

	name := EmpatheticHelp
	if in.Channel == models.ChannelReview {
		name = NoPromises
		if bucket == BucketPositive {
			name = Gratitude
		}
	}

	sections := make(map[string]string, len(baseSections)+1)
	for k, v := range baseSections {
		sections[k] = v
	}
	for k, v := range profileSections[name] {
		sections[k] = v
	}

	return Profile{
		Name:      name,
		Channel:   in.Channel,
		Bucket:    bucket,
		Sections:  sections,
		MaxTokens: maxTokensFor(in.Channel),
		Limit:     guardrail.LimitFor(in.Channel),
		Template:  Template(in.Channel, bucket),
	}
}

// Template returns the fallback reply for a channel and bucket
func Template(channel models.Channel, bucket Bucket) string {
	if byBucket, ok := templates[channel]; ok {
		if t, ok := byBucket[bucket]; ok {
			return t
		}
		if t, ok := byBucket[BucketNone]; ok {
			return t
		}
	}
	return "Спасибо за обращение! Мы ответим вам в ближайшее время."
}

func maxTokensFor(channel models.Channel) int {
	if n, ok := maxTokens[channel]; ok {
		return n
	}
	return 200
}

// SectionOrder is the order sections appear in a prompt
var SectionOrder = []string{"Role", "Goal", "Hard Rules"}
