// Package drafts produces guarded reply drafts for interactions, from a
// language model when available and from fixed templates otherwise.
package drafts

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/internal/tone"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/guardrail"
	"github.com/lisanmuaddib/replydesk/pkg/llm"
	"github.com/lisanmuaddib/replydesk/pkg/productcache"
)

// Source tells where a draft came from
type Source string

const (
	SourceLLM      Source = "llm"
	SourceTemplate Source = "template"
)

// DraftResult is a sanitized and validated draft
type DraftResult struct {
	Text         string   `json:"text"`
	Source       Source   `json:"source"`
	Valid        bool     `json:"valid"`
	Violations   []string `json:"violations,omitempty"`
	ProductStale bool     `json:"product_stale,omitempty"`
}

// InteractionReader is the part of the interaction store drafts need
type InteractionReader interface {
	Get(ctx context.Context, id string) (*models.Interaction, error)
	Messages(ctx context.Context, interactionID string, limit int) ([]models.InteractionMessage, error)
}

// ProductLookup resolves product context
type ProductLookup interface {
	Get(ctx context.Context, productID string) (productcache.Lookup, error)
}

// Config bounds draft generation
type Config struct {
	ContextMessages int
	LLMTimeout      time.Duration
	ProductTimeout  time.Duration
}

// DefaultConfig returns 10 messages of context, an 8s model budget and a 2s product budget
func DefaultConfig() Config {
	return Config{
		ContextMessages: 10,
		LLMTimeout:      8 * time.Second,
		ProductTimeout:  2 * time.Second,
	}
}

// Generator builds drafts
type Generator struct {
	interactions InteractionReader
	products     ProductLookup
	completer    llm.Completer
	config       Config
	logger       *logrus.Logger
}

// NewGenerator creates a Generator. A nil completer always uses templates;
// a nil products lookup drafts without product context.
func NewGenerator(interactions InteractionReader, products ProductLookup, completer llm.Completer, config Config, logger *logrus.Logger) *Generator {
	defaults := DefaultConfig()
	if config.ContextMessages <= 0 {
		config.ContextMessages = defaults.ContextMessages
	}
	if config.LLMTimeout <= 0 {
		config.LLMTimeout = defaults.LLMTimeout
	}
	if config.ProductTimeout <= 0 {
		config.ProductTimeout = defaults.ProductTimeout
	}
	return &Generator{
		interactions: interactions,
		products:     products,
		completer:    completer,
		config:       config,
		logger:       logger,
	}
}

// Generate drafts a reply for one interaction
func (g *Generator) Generate(ctx context.Context, interactionID string) (DraftResult, error) {
	in, err := g.interactions.Get(ctx, interactionID)
	if err != nil {
		return DraftResult{}, err
	}

	log := g.logger.WithFields(logrus.Fields{
		"method":         "Generate",
		"interaction_id": in.ID,
		"seller_id":      in.SellerID,
		"channel":        in.Channel,
	})

	messages, err := g.interactions.Messages(ctx, in.ID, g.config.ContextMessages)
	if err != nil {
		return DraftResult{}, err
	}

	profile := tone.Select(in)
	summary, stale := g.productContext(ctx, log, in.ProductID)

	result := DraftResult{Source: SourceTemplate, ProductStale: stale}
	text := profile.Template
	if g.completer != nil {
		if completion, err := g.complete(ctx, in, profile, messages, summary); err != nil {
			log.WithError(err).Warn("Completion failed, using template")
		} else {
			text = completion
			result.Source = SourceLLM
		}
	}

	source := CustomerSource(in, messages)
	result.Text = guardrail.Sanitize(text, in.Channel, source)
	verdict := guardrail.Validate(result.Text, in.Channel, source)
	result.Valid = verdict.Valid
	result.Violations = verdict.Strings()

	log.WithFields(logrus.Fields{
		"source":     result.Source,
		"valid":      result.Valid,
		"violations": result.Violations,
		"profile":    profile.Name,
	}).Info("Draft generated")

	return result, nil
}

func (g *Generator) complete(ctx context.Context, in *models.Interaction, profile tone.Profile, messages []models.InteractionMessage, summary string) (string, error) {
	prompt, err := buildPrompt(in, profile, messages, summary)
	if err != nil {
		return "", err
	}

	llmCtx, cancel := context.WithTimeout(ctx, g.config.LLMTimeout)
	defer cancel()

	type completion struct {
		text string
		err  error
	}
	done := make(chan completion, 1)
	go func() {
		text, err := g.completer.Complete(llmCtx, prompt, profile.MaxTokens)
		done <- completion{text, err}
	}()

	// A backend that ignores its context still cannot hold the draft past the timeout
	select {
	case <-llmCtx.Done():
		return "", fmt.Errorf("completion timed out: %w", llmCtx.Err())
	case c := <-done:
		if c.err != nil {
			return "", c.err
		}
		if c.text == "" {
			return "", llm.ErrEmptyCompletion
		}
		return c.text, nil
	}
}

func (g *Generator) productContext(ctx context.Context, log *logrus.Entry, productID string) (string, bool) {
	if productID == "" || g.products == nil {
		return "", false
	}

	pctx, cancel := context.WithTimeout(ctx, g.config.ProductTimeout)
	defer cancel()

	lookup, err := g.products.Get(pctx, productID)
	if err != nil {
		log.WithError(err).WithField("product_id", productID).Info("Drafting without product context")
		return "", false
	}
	return lookup.Product.Summary(), lookup.Stale
}
