// Package ratelimit throttles outbound chat actions with a fixed window kept in
// Redis (INCR + EXPIRE), so every terminal a user has open shares one budget.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// actions allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "roomchat:rl:send:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleSend allows 5 messages per 10 seconds per user.
	RuleSend = Rule{Key: "roomchat:rl:send:", Limit: 5, Window: 10 * time.Second}

	// RuleRoomAction allows 10 create, join or rename calls per minute per user.
	RuleRoomAction = Rule{Key: "roomchat:rl:room:", Limit: 10, Window: time.Minute}
)

// Limiter performs rate limit checks against Redis. A nil *Limiter allows
// everything.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one action by identifier under rule and reports whether it is
// within the limit. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[ratelimit] INCR failed, allowing")
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("[ratelimit] EXPIRE failed, allowing")
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many actions identifier has left in the current
// window. Redis errors report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[ratelimit] GET failed")
		return rule.Limit, err
	}
	if count >= rule.Limit {
		return 0, nil
	}
	return rule.Limit - count, nil
}

// RetryAfter returns the time left in identifier's current window, or zero
// when no window is open.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	if l == nil {
		return 0
	}
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
