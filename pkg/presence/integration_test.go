package presence

import (
	"context"
	"testing"
	"time"

	testredis "github.com/codeready-toolchain/chatd/test/redis"
	"github.com/stretchr/testify/require"
)

// TestIntegration_MarkOnlineOffline_RealRedis exercises the store against a
// real Redis instance (testcontainers) rather than miniredis, to catch any
// divergence between miniredis's emulation and actual Redis semantics for
// the pipelined SADD/EXPIRE/ZADD/SET sequence in MarkOnline.
func TestIntegration_MarkOnlineOffline_RealRedis(t *testing.T) {
	rdb := testredis.NewTestClient(t)
	store := NewFromClient(rdb, 2*time.Second)
	ctx := context.Background()

	becameOnline, err := store.MarkOnline(ctx, "user-1", "conn-1")
	require.NoError(t, err)
	require.True(t, becameOnline)
	require.True(t, store.IsOnline(ctx, "user-1"))
	require.Contains(t, store.GetOnlineUsers(ctx), "user-1")

	becameOffline, err := store.MarkOffline(ctx, "user-1", "conn-1")
	require.NoError(t, err)
	require.True(t, becameOffline)
	require.False(t, store.IsOnline(ctx, "user-1"))
}

func TestIntegration_TTLExpiry_RealRedis(t *testing.T) {
	rdb := testredis.NewTestClient(t)
	store := NewFromClient(rdb, 1*time.Second)
	ctx := context.Background()

	_, err := store.MarkOnline(ctx, "user-ttl", "conn-1")
	require.NoError(t, err)
	require.True(t, store.IsOnline(ctx, "user-ttl"))

	time.Sleep(2 * time.Second)
	require.False(t, store.IsOnline(ctx, "user-ttl"))
	require.NotContains(t, store.GetOnlineUsers(ctx), "user-ttl")
}
