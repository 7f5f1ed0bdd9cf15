package cache

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Close() error
}

// RememberChannelView кладёт представление в кеш и запоминает ключ в set'е
// канала, чтобы InvalidateChannel снёс его без SCAN.
func RememberChannelView(ctx context.Context, c Cache, channelID int64, key string, value []byte, ttl time.Duration) error {
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	setKey := ChannelKeysSetKey(channelID)
	if err := c.SAdd(ctx, setKey, key); err != nil {
		return err
	}
	return c.Expire(ctx, setKey, ttl)
}

func InvalidateChannel(ctx context.Context, c Cache, channelID int64) error {
	setKey := ChannelKeysSetKey(channelID)
	keys, err := c.SMembers(ctx, setKey)
	if err != nil {
		return err
	}
	return c.Del(ctx, append(keys, setKey)...)
}
