package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr(), TTL: ttl}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return mr, store
}

func TestRedisStore_RecordSeen(t *testing.T) {
	mr, store := setupTestRedis(t, time.Hour)
	ctx := context.Background()
	key := Key("owner/repo", 7, "diff")

	seen, err := store.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Record(ctx, key, Entry{Repo: "owner/repo", Number: 7, CommentID: 99}))

	seen, err = store.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	assert.True(t, mr.Exists(defaultRedisPrefix+key))
	assert.Equal(t, time.Hour, mr.TTL(defaultRedisPrefix+key))

	raw, err := mr.Get(defaultRedisPrefix + key)
	require.NoError(t, err)
	assert.Contains(t, raw, `"commentId":99`)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr, store := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "k", Entry{}))
	mr.FastForward(2 * time.Minute)

	seen, err := store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStore_ClearAndStats(t *testing.T) {
	mr, store := setupTestRedis(t, 0)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, k, Entry{}))
	}
	require.NoError(t, mr.Set("unrelated", "x"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, 3, stats.Entries)

	removed, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.True(t, mr.Exists("unrelated"))

	removed, err = store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(RedisConfig{Addr: addr}, nil)
	assert.Error(t, err)
}

func TestOpen_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := Open(Config{Enabled: true, Backend: "redis", RedisAddr: mr.Addr(), RedisPrefix: "test:"}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(context.Background(), "k", Entry{}))
	assert.True(t, mr.Exists("test:k"))
}
