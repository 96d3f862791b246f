package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxAge is the lifetime of values in the cookie tier.
const DefaultMaxAge = 365 * 24 * time.Hour

// RedisOptions configures the Redis-backed cookie tier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key. Default "trackhub:cookie:".
	KeyPrefix string
	// Domain scopes keys the way a cookie domain scopes cookies; hosts that
	// share a domain share identity.
	Domain string
	// MaxAge is applied as a TTL on every write. Default one year.
	MaxAge time.Duration
	// OpTimeout bounds every Redis round trip. Default 500ms.
	OpTimeout time.Duration
}

func (o *RedisOptions) setDefaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "trackhub:cookie:"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 500 * time.Millisecond
	}
}

// RedisStore is the durable, cross-host tier.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
	owned  bool
	logger logger.Logger
}

// NewRedisStore connects to Redis with opts. The connection is verified
// lazily: an unreachable server makes the tier report absent values.
func NewRedisStore(opts RedisOptions, log logger.Logger) *RedisStore {
	opts.setDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.OpTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
		MaxRetries:   1,
	})
	s := NewRedisStoreFromClient(client, opts, log)
	s.owned = true
	return s
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreFromClient(client redis.UniversalClient, opts RedisOptions, log logger.Logger) *RedisStore {
	opts.setDefaults()
	return &RedisStore{client: client, opts: opts, logger: logger.OrDiscard(log)}
}

func (s *RedisStore) key(k string) string {
	if s.opts.Domain == "" {
		return s.opts.KeyPrefix + k
	}
	return s.opts.KeyPrefix + s.opts.Domain + ":" + k
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.OpTimeout)
}

func (s *RedisStore) Get(key string) (string, bool) {
	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Debug("Cookie tier read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *RedisStore) Set(key, value string) bool {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.Set(ctx, s.key(key), value, s.opts.MaxAge).Err(); err != nil {
		s.logger.Debug("Cookie tier write failed", "key", key, "error", err)
		return false
	}
	return true
}

func (s *RedisStore) Remove(key string) bool {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.Debug("Cookie tier remove failed", "key", key, "error", err)
		return false
	}
	return true
}

// Enabled pings the server.
func (s *RedisStore) Enabled() bool {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
