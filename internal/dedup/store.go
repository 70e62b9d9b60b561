package dedup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "sendinblue-relay:sent:"
)

// Option customises a Store.
type Option func(*Store)

// WithTTL sets how long a claimed message id is remembered.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Store remembers message ids in Redis so a redelivered Kafka record is not
// sent twice. A claim is held from just before the send until the TTL runs
// out; failed sends release it.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// New wraps an existing Redis client.
func New(client redis.UniversalClient, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("dedup: redis client is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &Store{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Dial connects to the Redis server described by a redis:// URL.
func Dial(ctx context.Context, url string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("dedup: parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dedup: ping redis: %w", err)
	}
	return New(client, logger, opts...)
}

// Claim records messageID. It returns false when the id was already claimed.
func (s *Store) Claim(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.prefix+messageID, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: claim %s: %w", messageID, err)
	}
	if !ok {
		s.logger.Debug().Str("message_id", messageID).Msg("dedup: message id already claimed")
	}
	return ok, nil
}

// Release forgets messageID so a later delivery may send it.
func (s *Store) Release(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.prefix+messageID).Err(); err != nil {
		return fmt.Errorf("dedup: release %s: %w", messageID, err)
	}
	return nil
}

// IsReady pings Redis; it backs the readiness endpoint.
func (s *Store) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
