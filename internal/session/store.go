package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/roomchat/internal/protocol"
)

const (
	// DefaultPrefix is the Redis key prefix for the session pair.
	DefaultPrefix = "roomchat:"

	// DefaultTTL is the time-to-live for the session keys in Redis.
	DefaultTTL = 24 * time.Hour
)

// RedisStore keeps the session in Redis, shared by every client process
// pointed at the same prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store connected to Redis. An empty prefix or a
// non-positive ttl selects the defaults.
func NewRedisStore(redisAddr, prefix string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) tokenKey() string { return s.prefix + TokenKey }
func (s *RedisStore) userKey() string  { return s.prefix + UserKey }

// Save stores both keys atomically with the store's TTL.
func (s *RedisStore) Save(ctx context.Context, sess protocol.Session) error {
	user, err := encodeUser(sess)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(), sess.Token, s.ttl)
	pipe.Set(ctx, s.userKey(), user, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Load returns the stored session. Returns nil if not found.
func (s *RedisStore) Load(ctx context.Context) (*protocol.Session, error) {
	vals, err := s.client.MGet(ctx, s.tokenKey(), s.userKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if len(vals) != 2 {
		return nil, nil
	}
	token, _ := vals[0].(string)
	user, _ := vals[1].(string)
	return decodeSession(token, []byte(user))
}

// Clear removes both keys.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.tokenKey(), s.userKey()).Err(); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
