package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "intake:session:"

// RedisStore is a Store backed by Redis. Each session is one JSON value
// whose key expiry implements the inactivity window.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the key expiry. Zero or negative keeps DefaultTTL.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client: client,
		ttl:    DefaultTTL,
		prefix: DefaultRedisPrefix,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Load fetches and decodes a session.
func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: redis get %q: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %q: %w", id, err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]FieldValue)
	}
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	return &s, nil
}

// Save encodes s and resets its expiry.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session: save requires a session with an ID")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %q: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set %q: %w", s.ID, err)
	}
	return nil
}

// Delete removes id.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("session: redis del %q: %w", id, err)
	}
	return nil
}

// Touch resets the expiry of id.
func (r *RedisStore) Touch(ctx context.Context, id string) error {
	ok, err := r.client.Expire(ctx, r.key(id), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("session: redis expire %q: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity. Used by the readiness check.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
