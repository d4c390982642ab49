package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/telecare-labs/callbridge/internal/models"
)

const (
	// A mailbox outlives any plausible call attempt; sessions are archived
	// or deleted long before this.
	inboxTTL    = 24 * time.Hour
	identityTTL = 5 * time.Minute
)

// RedisStore handles Redis operations: signal mailboxes, the auth identity
// cache, and rate-limit counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// inboxKey returns the key for one recipient's queue within a session.
func inboxKey(sessionID uuid.UUID, role models.Role) string {
	return fmt.Sprintf("call:%s:inbox:%s", sessionID, role)
}

// Append queues a signal for the recipient role. RPUSH keeps the list in
// send order; PollOne's LPOP consumes from the head, giving FIFO per
// (session, recipient).
func (s *RedisStore) Append(ctx context.Context, msg *models.SignalMessage, to models.Role) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := inboxKey(msg.SessionID, to)
	if err := s.client.RPush(ctx, key, string(data)).Err(); err != nil {
		return err
	}
	s.client.Expire(ctx, key, inboxTTL)
	return nil
}

// PollOne pops the oldest unconsumed message for role. LPOP's atomicity is
// what makes delivery at-most-once across concurrent pollers.
func (s *RedisStore) PollOne(ctx context.Context, sessionID uuid.UUID, role models.Role) (*models.SignalMessage, error) {
	data, err := s.client.LPop(ctx, inboxKey(sessionID, role)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	msg := &models.SignalMessage{}
	if err := json.Unmarshal([]byte(data), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Purge drops both recipients' queues for a session.
func (s *RedisStore) Purge(ctx context.Context, sessionID uuid.UUID) error {
	return s.client.Del(ctx,
		inboxKey(sessionID, models.RolePatient),
		inboxKey(sessionID, models.RoleDoctor),
	).Err()
}

// identityKey returns the cache key for a token hash.
func identityKey(tokenHash string) string {
	return fmt.Sprintf("auth:%s", tokenHash)
}

// CacheIdentity stores a resolved identity so polling clients don't hit
// the database on every 2-3 second tick.
func (s *RedisStore) CacheIdentity(ctx context.Context, tokenHash string, ident *models.Identity) {
	data, err := json.Marshal(ident)
	if err != nil {
		return
	}
	s.client.Set(ctx, identityKey(tokenHash), string(data), identityTTL)
}

// GetCachedIdentity retrieves a cached identity, nil on miss.
func (s *RedisStore) GetCachedIdentity(ctx context.Context, tokenHash string) *models.Identity {
	data, err := s.client.Get(ctx, identityKey(tokenHash)).Result()
	if err != nil {
		return nil
	}
	ident := &models.Identity{}
	if err := json.Unmarshal([]byte(data), ident); err != nil {
		return nil
	}
	return ident
}

// rateLimitKey returns the key for a caller's rate limit counter.
func rateLimitKey(bucket, caller string) string {
	return fmt.Sprintf("ratelimit:%s:%s", bucket, caller)
}

// IncrRateLimit increments a caller's counter for the bucket and returns
// the new count. The window TTL is set on first increment.
func (s *RedisStore) IncrRateLimit(ctx context.Context, bucket, caller string, window time.Duration) (int64, error) {
	key := rateLimitKey(bucket, caller)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
