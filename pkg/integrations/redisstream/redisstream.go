// Package redisstream provides an integration that appends every envelope
// to a Redis stream with XADD.
package redisstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
)

const (
	// Name is the registration name.
	Name = "Redis Stream"
	// DefaultStream is used when the "stream" setting is absent.
	DefaultStream = "trackhub:events"
	// DefaultTimeout bounds PING and XADD.
	DefaultTimeout = 2 * time.Second
)

// Stream delivers envelopes to a Redis stream. It does not own the client.
type Stream struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  logger.Logger
}

// Descriptor registers the integration on client. Settings: "stream"
// (default DefaultStream), "max_len" (approximate trim length, 0 keeps
// everything), "timeout_ms".
func Descriptor(client redis.UniversalClient, log logger.Logger) integration.Descriptor {
	return integration.Descriptor{
		Name: Name,
		Factory: func(s integration.Settings) (integration.Integration, error) {
			if client == nil {
				return nil, errors.New(errors.ErrIntegrationInit, "redis client is nil").WithIntegration(Name)
			}
			timeout := DefaultTimeout
			if ms := s.Int("timeout_ms", 0); ms > 0 {
				timeout = time.Duration(ms) * time.Millisecond
			}
			return &Stream{
				client:  client,
				stream:  s.String("stream", DefaultStream),
				maxLen:  s.Int("max_len", 0),
				timeout: timeout,
				logger:  logger.OrDiscard(log).With("integration", Name),
			}, nil
		},
	}
}

// Name implements integration.Integration
func (s *Stream) Name() string { return Name }

// StreamKey returns the stream the integration writes to.
func (s *Stream) StreamKey() string { return s.stream }

// Initialize pings Redis and signals ready on success.
func (s *Stream) Initialize(ctx context.Context, ready integration.ReadyFunc) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("Failed to connect to Redis", "error", err)
		return errors.Wrap(err, errors.ErrIntegrationInit, "failed to connect to Redis").WithIntegration(Name)
	}
	ready()
	return nil
}

// Invoke appends msg to the stream.
func (s *Stream) Invoke(ctx context.Context, method message.Type, msg *message.Envelope) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageEncoding, "failed to encode envelope").WithIntegration(Name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":       string(method),
			"message_id": msg.MessageID,
			"payload":    string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrIntegrationInvoke, "XADD failed").
			WithIntegration(Name).
			WithContext("stream", s.stream)
	}
	s.logger.Debug("Envelope appended", "stream", s.stream, "entry", id, "message_id", msg.MessageID)
	return nil
}
