package metrics

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Defaults for Sampled.
const (
	DefaultMaxQueueSize  = 20
	DefaultFlushInterval = 30 * time.Second
)

type increment struct {
	metric string
	tags   map[string]string
}

// Sampled keeps a random fraction of increments in a bounded queue and
// forwards them to an inner recorder on Flush. A sample rate of 0 disables
// recording entirely.
type Sampled struct {
	inner        Recorder
	sampleRate   float64
	maxQueueSize int
	random       func() float64

	mu    sync.Mutex
	queue []increment
}

// SampledOption configures a Sampled recorder.
type SampledOption func(*Sampled)

// WithMaxQueueSize caps the number of increments held between flushes.
func WithMaxQueueSize(n int) SampledOption {
	return func(s *Sampled) {
		if n > 0 {
			s.maxQueueSize = n
		}
	}
}

// WithRandom replaces the sampling source, which must return values in
// [0, 1).
func WithRandom(fn func() float64) SampledOption {
	return func(s *Sampled) {
		if fn != nil {
			s.random = fn
		}
	}
}

// NewSampled wraps inner. sampleRate is clamped to [0, 1].
func NewSampled(inner Recorder, sampleRate float64, opts ...SampledOption) *Sampled {
	if sampleRate < 0 {
		sampleRate = 0
	}
	if sampleRate > 1 {
		sampleRate = 1
	}
	s := &Sampled{
		inner:        OrNoop(inner),
		sampleRate:   sampleRate,
		maxQueueSize: DefaultMaxQueueSize,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment implements Recorder
func (s *Sampled) Increment(_ context.Context, metric string, tags map[string]string) {
	if s.sampleRate <= 0 || metric == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.maxQueueSize {
		return
	}
	if s.random() >= s.sampleRate {
		return
	}
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	s.queue = append(s.queue, increment{metric: metric, tags: cp})
}

// Len returns the number of queued increments.
func (s *Sampled) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush forwards every queued increment to the inner recorder.
func (s *Sampled) Flush(ctx context.Context) {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, inc := range queue {
		s.inner.Increment(ctx, inc.metric, inc.tags)
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (s *Sampled) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			s.Flush(context.WithoutCancel(ctx))
			return
		}
	}
}
