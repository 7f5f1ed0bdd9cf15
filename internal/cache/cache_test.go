package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGetSetDel(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(b))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "ttl expired")

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Del(ctx, "k"))
	assert.False(t, mr.Exists("k"))
	require.NoError(t, c.Del(ctx))
}

func TestInvalidateChannel(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, RememberChannelView(ctx, c, 7, ChannelDetailKey(7), []byte("{}"), time.Minute))
	require.NoError(t, RememberChannelView(ctx, c, 7, "channel:7:other", []byte("[]"), time.Minute))
	require.NoError(t, RememberChannelView(ctx, c, 8, ChannelDetailKey(8), []byte("{}"), time.Minute))

	require.NoError(t, InvalidateChannel(ctx, c, 7))

	assert.False(t, mr.Exists(ChannelDetailKey(7)))
	assert.False(t, mr.Exists("channel:7:other"))
	assert.False(t, mr.Exists(ChannelKeysSetKey(7)))
	assert.True(t, mr.Exists(ChannelDetailKey(8)))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "channel:3:detail", ChannelDetailKey(3))
	assert.Equal(t, "message:01ABC:detail", MessageDetailKey(" 01ABC "))
	assert.Equal(t, "channel:3:keys", ChannelKeysSetKey(3))
}

func TestParseUsedMemory(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\n"
	assert.Equal(t, int64(1048576), parseUsedMemory(info))
	assert.Zero(t, parseUsedMemory("# Memory\r\n"))
}
