// Package llm defines the text completion backend used for reply drafts.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the backend answered with no text
var ErrEmptyCompletion = errors.New("empty completion")

// Completer produces a completion for a prompt. Callers bound latency through ctx.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// CompleterFunc adapts a function to the Completer interface
type CompleterFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Complete calls f
func (f CompleterFunc) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}
