package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// PerSecond is the sustained number of envelopes let through.
	PerSecond int `json:"per_second" yaml:"per_second"`
	// Burst is the bucket capacity. Defaults to PerSecond.
	Burst int `json:"burst" yaml:"burst"`
	// PerIntegration keeps one bucket per integration name instead of a
	// single shared bucket.
	PerIntegration bool `json:"per_integration" yaml:"per_integration"`

	Logger logger.Logger `json:"-" yaml:"-"`
	// Now overrides the clock in tests.
	Now func() time.Time `json:"-" yaml:"-"`
}

// tokenBucket refills refillRate tokens every interval up to capacity.
type tokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	interval   time.Duration
	lastRefill time.Time
}

func (tb *tokenBucket) take(now time.Time) bool {
	if elapsed := now.Sub(tb.lastRefill); elapsed >= tb.interval {
		intervals := int(elapsed / tb.interval)
		tb.tokens += intervals * tb.refillRate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = tb.lastRefill.Add(time.Duration(intervals) * tb.interval)
	}
	if tb.tokens == 0 {
		return false
	}
	tb.tokens--
	return true
}

// RateLimit drops envelopes once the token bucket is empty.
type RateLimit struct {
	BaseStage
	cfg    RateLimitConfig
	logger logger.Logger

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// NewRateLimit creates a rate limiting stage. A non-positive PerSecond
// yields a stage that never drops.
func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerSecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimit{
		BaseStage: NewBaseStage("rate_limit"),
		cfg:       cfg,
		logger:    logger.OrDiscard(cfg.Logger),
		buckets:   make(map[string]*tokenBucket),
	}
}

// Handle implements the Stage interface
func (r *RateLimit) Handle(_ context.Context, msg *message.Envelope, scope Scope) (Result, error) {
	if r.cfg.PerSecond <= 0 {
		return Forward(msg), nil
	}

	key := ""
	if r.cfg.PerIntegration {
		key = scope.Integration
	}

	r.mu.Lock()
	now := r.cfg.Now()
	b, ok := r.buckets[key]
	if !ok {
		b = &tokenBucket{
			capacity:   r.cfg.Burst,
			tokens:     r.cfg.Burst,
			refillRate: r.cfg.PerSecond,
			interval:   time.Second,
			lastRefill: now,
		}
		r.buckets[key] = b
	}
	allowed := b.take(now)
	r.mu.Unlock()

	if !allowed {
		r.logger.Warn("Rate limit exceeded, dropping message",
			"chain", scope.Kind, "integration", scope.Integration, "message_id", msg.MessageID)
		return Drop(), nil
	}
	return Forward(msg), nil
}
