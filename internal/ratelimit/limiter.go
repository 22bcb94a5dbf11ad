// Package ratelimit provides Redis-backed per-user throttling using the
// INCR + EXPIRE fixed-window algorithm. Each interaction kind (like, message,
// gift) carries its own rule so that one noisy flow cannot exhaust another.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fiqir/dating-app/internal/logger"
)

// Rule defines a throttling policy: the Redis key prefix, the maximum number
// of actions allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleLike allows 30 like actions per minute per user.
	RuleLike = Rule{Key: "rl:like:", Limit: 30, Window: time.Minute}

	// RuleMessage allows 10 messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleGift allows 5 gift sends per minute per user.
	RuleGift = Rule{Key: "rl:gift:", Limit: 5, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow reports whether the identifier is within the limit defined by rule,
// counting this call. The counter key expires at the window boundary.
//
// On Redis errors Allow fails open so that a Redis outage never blocks
// legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		logger.Warn("rate limit INCR failed, failing open", "key", key, "err", err)
		return true, err
	}

	// The first increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			logger.Warn("rate limit EXPIRE failed, failing open", "key", key, "err", err)
			// The key has no TTL and would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many actions the identifier has left in the current
// window. A missing key means the full limit. On Redis errors it returns the
// full limit, failing open.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		logger.Warn("rate limit GET failed, failing open", "key", key, "err", err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
