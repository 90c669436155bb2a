package drafts

import (
	"fmt"
	"strings"

	langchainprompts "github.com/tmc/langchaingo/prompts"

	"github.com/lisanmuaddib/replydesk/internal/tone"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

var replyPrompt = langchainprompts.NewPromptTemplate(
	`You are writing a reply to a marketplace customer. Follow these instructions:
{{.sections}}
Channel: {{.channel}}
{{.rating}}{{.product}}
Conversation, oldest first:
{{.history}}

Requirements:
1. Your reply MUST be under {{.limit}} characters
2. Reply with the message text only, no greeting placeholders or signatures
3. Respond directly to the customer's last message

Your reply:`,
	[]string{"sections", "channel", "rating", "product", "history", "limit"},
)

// buildPrompt renders the instruction profile and context into the completion prompt
func buildPrompt(in *models.Interaction, profile tone.Profile, messages []models.InteractionMessage, productSummary string) (string, error) {
	var sections strings.Builder
	for i, name := range tone.SectionOrder {
		if content, ok := profile.Sections[name]; ok {
			sections.WriteString(fmt.Sprintf("\n%d. %s:\n%s\n", i+1, name, content))
		}
	}

	rating := ""
	if in.HasRating() {
		rating = fmt.Sprintf("Rating: %d/5\n", in.RatingValue())
	}

	product := ""
	if productSummary != "" {
		product = productSummary + "\n"
	}

	var history strings.Builder
	if len(messages) == 0 {
		history.WriteString("Customer: " + in.Text + "\n")
	}
	for _, m := range messages {
		speaker := "Customer"
		if m.Author == models.AuthorSeller {
			speaker = "Seller"
		}
		history.WriteString(speaker + ": " + m.Text + "\n")
	}

	prompt, err := replyPrompt.Format(map[string]any{
		"sections": sections.String(),
		"channel":  string(in.Channel),
		"rating":   rating,
		"product":  product,
		"history":  history.String(),
		"limit":    profile.Limit,
	})
	if err != nil {
		return "", fmt.Errorf("error formatting reply prompt: %w", err)
	}
	return prompt, nil
}

// CustomerSource collects the customer's own words for promise checks
func CustomerSource(in *models.Interaction, messages []models.InteractionMessage) string {
	parts := []string{in.Text}
	for _, m := range messages {
		if m.Author == models.AuthorCustomer && m.Text != in.Text {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}
