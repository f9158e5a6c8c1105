package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	store, err := NewRedisStore(client, "test")
	require.NoError(t, err)

	return store, server
}

func TestRedisStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, "greeting", []byte("hello"), 0))

	value, ok, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), value)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, "ephemeral", []byte("x"), 10*time.Second))

	_, ok, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.True(t, ok)

	server.FastForward(11 * time.Second)

	_, ok, err = store.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire with its redis TTL")
}

func TestRedisStoreNamespacing(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, "k", []byte("v"), 0))

	// The raw key carries the namespace prefix
	raw, err := server.Get("test:k")
	require.NoError(t, err)
	assert.Equal(t, "v", raw)
}

func TestRedisStoreClear(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, "a", []byte("1"), 0))
	require.NoError(t, store.Put(ctx, "b", []byte("2"), 0))

	// A key outside the namespace survives Clear
	server.Set("other:key", "untouched")

	require.NoError(t, store.Clear(ctx))

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, server.Exists("other:key"))
}
