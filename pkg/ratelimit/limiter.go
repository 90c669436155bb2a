// Package ratelimit keeps one token bucket per seller so that every outbound
// marketplace call of a seller shares the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds the default bucket shape applied to every seller
type Config struct {
	// RequestsPerSecond is the steady refill rate
	RequestsPerSecond float64
	// Burst is the bucket size
	Burst  int
	Logger *logrus.Logger
}

// DefaultConfig returns a conservative budget of 5 requests per second
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             1,
	}
}

// Registry hands out per-seller limiters
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	logger   *logrus.Logger
}

// NewRegistry creates a Registry
func NewRegistry(config Config) *Registry {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(config.RequestsPerSecond),
		burst:    config.Burst,
		logger:   config.Logger,
	}
}

func (r *Registry) limiter(sellerID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[sellerID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[sellerID] = l
	}
	return l
}

// Wait blocks until the seller's bucket has a token or ctx is done
func (r *Registry) Wait(ctx context.Context, sellerID string) error {
	l := r.limiter(sellerID)

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed for seller %s: %w", sellerID, err)
	}

	if waited := time.Since(start); waited > time.Second {
		r.logger.WithFields(logrus.Fields{
			"method":    "Wait",
			"seller_id": sellerID,
			"waited":    waited.String(),
		}).Debug("Rate limiter delayed outbound call")
	}
	return nil
}

// Allow reports whether a call may proceed right now, consuming a token if so
func (r *Registry) Allow(sellerID string) bool {
	return r.limiter(sellerID).Allow()
}

// SetLimit overrides the bucket of one seller, for sellers with a negotiated quota
func (r *Registry) SetLimit(sellerID string, requestsPerSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l := r.limiter(sellerID)
	l.SetLimit(rate.Limit(requestsPerSecond))
	l.SetBurst(burst)
}
