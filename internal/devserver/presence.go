package devserver

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// presencePrefix is the Redis key prefix for push presence hashes.
	presencePrefix = "push-presence:"

	// presenceTTL is the time-to-live for presence keys. The heartbeat
	// refreshes it while the connection stays alive.
	presenceTTL = 2 * time.Minute
)

// Presence records which server instance holds a user's push connection.
// With multiple dev server instances behind one Redis, presence answers
// "is this user reachable, and where".
type Presence struct {
	UserID      string `redis:"user_id"`
	Server      string `redis:"server"`
	ConnectedAt int64  `redis:"connected_at"`
	LastActive  int64  `redis:"last_active"`
}

// PresenceStore tracks push connection presence.
type PresenceStore interface {
	Connect(ctx context.Context, userID string) error
	Lookup(ctx context.Context, userID string) (*Presence, error)
	Refresh(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) error
	Close() error
}

// RedisPresence is the Redis-backed PresenceStore shared by all instances.
type RedisPresence struct {
	client     *redis.Client
	serverName string
}

// NewRedisPresence connects to Redis and verifies the connection.
func NewRedisPresence(redisAddr, serverName string) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("devserver: redis connection failed: %w", err)
	}

	return &RedisPresence{client: client, serverName: serverName}, nil
}

// Client exposes the underlying Redis client so other Redis-backed pieces
// can share the connection.
func (p *RedisPresence) Client() *redis.Client { return p.client }

// Connect records the user's push connection on this instance with a TTL.
func (p *RedisPresence) Connect(ctx context.Context, userID string) error {
	key := presencePrefix + userID
	now := time.Now().Unix()

	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      userID,
		"server":       p.serverName,
		"connected_at": now,
		"last_active":  now,
	})
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Lookup returns the user's presence, or nil if not connected anywhere.
func (p *RedisPresence) Lookup(ctx context.Context, userID string) (*Presence, error) {
	var pr Presence
	if err := p.client.HGetAll(ctx, presencePrefix+userID).Scan(&pr); err != nil {
		return nil, err
	}
	if pr.UserID == "" {
		return nil, nil
	}
	return &pr, nil
}

// Refresh bumps last_active and extends the TTL.
func (p *RedisPresence) Refresh(ctx context.Context, userID string) error {
	key := presencePrefix + userID
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnect removes the presence record.
func (p *RedisPresence) Disconnect(ctx context.Context, userID string) error {
	return p.client.Del(ctx, presencePrefix+userID).Err()
}

// Close closes the Redis connection.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}

// NoopPresence is the PresenceStore used when no Redis is configured; a
// single-instance dev server needs no shared presence.
type NoopPresence struct{}

func (NoopPresence) Connect(context.Context, string) error { return nil }
func (NoopPresence) Lookup(context.Context, string) (*Presence, error) {
	return nil, nil
}
func (NoopPresence) Refresh(context.Context, string) error    { return nil }
func (NoopPresence) Disconnect(context.Context, string) error { return nil }
func (NoopPresence) Close() error                             { return nil }
