// Package presence implements the distributed, TTL-backed liveness map
// described for PresenceStore: a per-user set of live connection ids, a
// last-seen timestamp, and a sorted-set index of currently online users,
// all backed by Redis so any gateway pod can answer presence queries
// regardless of which pod holds the live connection.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connsKeyPrefix    = "presence:"
	connsKeySuffix    = ":conns"
	lastSeenKeyPrefix = "presence:"
	lastSeenKeySuffix = ":lastSeen"
	onlineIndexKey    = "presence:online"
)

// Store wraps a Redis client with the presence key conventions above.
// Every exported method degrades gracefully on a Redis error: it logs and
// returns the conservative zero value rather than surfacing the error, so a
// transient Redis outage never turns into a failed chat request.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Store backed by connString (a redis:// URL) with the given
// liveness TTL. Returns an error only if connString fails to parse — it
// does not dial Redis eagerly.
func New(connString string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	return &Store{rdb: redis.NewClient(opts), ttl: ttl}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, useful for
// tests against miniredis or a shared client instance.
func NewFromClient(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func connsKey(userID string) string    { return connsKeyPrefix + userID + connsKeySuffix }
func lastSeenKey(userID string) string { return lastSeenKeyPrefix + userID + lastSeenKeySuffix }

// MarkOnline adds connectionID to userID's connection set, refreshes the
// set's TTL, rescores userID in the online index at the current wall time,
// and updates lastSeen. Returns whether this transitioned the user from
// offline to online (connection count 0 → 1), so the caller knows whether
// to broadcast UserPresenceChanged.
func (s *Store) MarkOnline(ctx context.Context, userID, connectionID string) (becameOnline bool, err error) {
	key := connsKey(userID)

	countBefore, err := s.rdb.SCard(ctx, key).Result()
	if err != nil && err != redis.Nil {
		slog.Warn("presence: failed to read connection count before mark online", "user_id", userID, "error", err)
		return false, nil
	}

	now := time.Now().Unix()
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, connectionID)
	pipe.Expire(ctx, key, s.ttl)
	pipe.ZAdd(ctx, onlineIndexKey, redis.Z{Score: float64(now), Member: userID})
	pipe.Set(ctx, lastSeenKey(userID), now, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("presence: failed to mark user online", "user_id", userID, "connection_id", connectionID, "error", err)
		return false, nil
	}

	return countBefore == 0, nil
}

// MarkOffline removes connectionID from userID's connection set. If the
// remaining connection count is zero, the user is removed from the online
// index. Returns whether this transitioned the user from online to offline.
func (s *Store) MarkOffline(ctx context.Context, userID, connectionID string) (becameOffline bool, err error) {
	key := connsKey(userID)

	if err := s.rdb.SRem(ctx, key, connectionID).Err(); err != nil {
		slog.Warn("presence: failed to remove connection", "user_id", userID, "connection_id", connectionID, "error", err)
		return false, nil
	}

	remaining, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		slog.Warn("presence: failed to read remaining connection count", "user_id", userID, "error", err)
		return false, nil
	}
	if remaining > 0 {
		return false, nil
	}

	if err := s.rdb.ZRem(ctx, onlineIndexKey, userID).Err(); err != nil {
		slog.Warn("presence: failed to remove user from online index", "user_id", userID, "error", err)
		return false, nil
	}
	return true, nil
}

// IsOnline reports whether userID has at least one live connection and its
// online-index score is within TTL of now. A Redis error degrades to false.
func (s *Store) IsOnline(ctx context.Context, userID string) bool {
	score, err := s.rdb.ZScore(ctx, onlineIndexKey, userID).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		slog.Warn("presence: failed to check online status", "user_id", userID, "error", err)
		return false
	}
	if time.Unix(int64(score), 0).Add(s.ttl).Before(time.Now()) {
		return false
	}

	count, err := s.rdb.SCard(ctx, connsKey(userID)).Result()
	if err != nil {
		slog.Warn("presence: failed to check connection count", "user_id", userID, "error", err)
		return false
	}
	return count > 0
}

// LastSeen returns the most recent MarkOnline timestamp for userID, or the
// zero time if unknown or on a Redis error.
func (s *Store) LastSeen(ctx context.Context, userID string) time.Time {
	val, err := s.rdb.Get(ctx, lastSeenKey(userID)).Int64()
	if err == redis.Nil {
		return time.Time{}
	}
	if err != nil {
		slog.Warn("presence: failed to read last seen", "user_id", userID, "error", err)
		return time.Time{}
	}
	return time.Unix(val, 0)
}

// GetOnlineUsers prunes online-index entries older than TTL, then returns
// the ids of all users still considered online. A Redis error degrades to
// an empty slice.
func (s *Store) GetOnlineUsers(ctx context.Context) []string {
	cutoff := float64(time.Now().Add(-s.ttl).UnixMilli()) / 1000

	if err := s.rdb.ZRemRangeByScore(ctx, onlineIndexKey, "-inf", fmt.Sprintf("(%f", cutoff)).Err(); err != nil {
		slog.Warn("presence: failed to prune stale online entries", "error", err)
	}

	users, err := s.rdb.ZRange(ctx, onlineIndexKey, 0, -1).Result()
	if err != nil {
		slog.Warn("presence: failed to list online users", "error", err)
		return []string{}
	}
	return users
}
