package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/ratelimit"
)

// Limiter is the per-seller admission gate for outbound calls
type Limiter interface {
	Wait(ctx context.Context, sellerID string) error
}

// RetryPolicy bounds retries of transient failures
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns 4 attempts starting at 200ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Guarded wraps a Connector so that every attempt passes through the seller's
// rate limiter and transient failures are retried with exponential backoff.
// Replies are only retried when the marketplace throttled them, since any other
// failure may have been applied upstream.
type Guarded struct {
	next    Connector
	limiter Limiter
	policy  RetryPolicy
	logger  *logrus.Logger
}

var _ Connector = (*Guarded)(nil)

// NewGuarded creates a Guarded connector
func NewGuarded(next Connector, limiter Limiter, policy RetryPolicy, logger *logrus.Logger) *Guarded {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Guarded{next: next, limiter: limiter, policy: policy, logger: logger}
}

// NewGuardedFromConfig builds the HTTP client behind a Guarded connector with a fresh limiter registry
func NewGuardedFromConfig(config *MarketplaceConfig, opts ...ClientOption) (*Guarded, *ratelimit.Registry, error) {
	client, err := NewHTTPClient(config, opts...)
	if err != nil {
		return nil, nil, err
	}
	registry := ratelimit.NewRegistry(ratelimit.Config{
		RequestsPerSecond: config.RequestsPerSecond,
		Burst:             config.Burst,
		Logger:            config.Logger,
	})
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = config.RetryAttempts
	return NewGuarded(client, registry, policy, config.Logger), registry, nil
}

// ListItems fetches a page, retrying transient failures
func (g *Guarded) ListItems(ctx context.Context, req ListRequest) (Page, error) {
	var page Page
	err := g.do(ctx, req.SellerID, "ListItems", func(err error) bool {
		return IsTransient(err)
	}, func() error {
		var err error
		page, err = g.next.ListItems(ctx, req)
		return err
	})
	return page, err
}

// SendReply publishes a reply, retrying only throttled attempts
func (g *Guarded) SendReply(ctx context.Context, sellerID string, channel models.Channel, externalID, text string) (Ack, error) {
	var ack Ack
	err := g.do(ctx, sellerID, "SendReply", throttled, func() error {
		var err error
		ack, err = g.next.SendReply(ctx, sellerID, channel, externalID, text)
		return err
	})
	return ack, err
}

func (g *Guarded) do(ctx context.Context, sellerID, method string, retryable func(error) bool, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < g.policy.MaxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx, sellerID); err != nil {
			return err
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == g.policy.MaxAttempts-1 {
			break
		}

		delay := calculateBackoff(attempt, g.policy.BaseBackoff, g.policy.MaxBackoff)
		if te, ok := asTransient(lastErr); ok && te.RetryAfter > delay {
			delay = te.RetryAfter
		}

		g.logger.WithFields(logrus.Fields{
			"method":    method,
			"seller_id": sellerID,
			"attempt":   attempt + 1,
			"backoff":   delay.String(),
		}).WithError(lastErr).Warn("Retrying marketplace call")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("marketplace retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

// calculateBackoff doubles the base delay per retry and clamps it to [base, max]
func calculateBackoff(retry int, base, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if retry > 20 {
		retry = 20
	}
	backoff := base * time.Duration(1<<retry)
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

func throttled(err error) bool {
	te, ok := asTransient(err)
	return ok && te.Throttled()
}
