package cache

import (
	"context"
	"errors"
	"time"

	"coffeeshop/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const component = "cache"

type RedisCache struct {
	c *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{c: rdb}
}

func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{c: rdb}
}

func (r *RedisCache) Close() error { return r.c.Close() }

const (
	opGet    = "get"
	opSet    = "set"
	opDelete = "delete"
)

func observe(op string) func() {
	start := time.Now()
	metrics.IncRedisRequest(component, op)
	return func() { metrics.ObserveRedisDuration(component, op, time.Since(start)) }
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	defer observe(opGet)()

	b, err := r.c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		metrics.IncRedisError(component, opGet)
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer observe(opSet)()

	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.IncRedisError(component, opSet)
		return err
	}
	return nil
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer observe(opDelete)()

	if err := r.c.Del(ctx, keys...).Err(); err != nil {
		metrics.IncRedisError(component, opDelete)
		return err
	}
	return nil
}

// set ключей канала учитываем как get/set
func (r *RedisCache) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	defer observe(opSet)()

	if err := r.c.SAdd(ctx, key, members).Err(); err != nil {
		metrics.IncRedisError(component, opSet)
		return err
	}
	return nil
}

func (r *RedisCache) SMembers(ctx context.Context, key string) ([]string, error) {
	defer observe(opGet)()

	res, err := r.c.SMembers(ctx, key).Result()
	if err != nil {
		metrics.IncRedisError(component, opGet)
		return nil, err
	}
	return res, nil
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	defer observe(opSet)()

	if err := r.c.Expire(ctx, key, ttl).Err(); err != nil {
		metrics.IncRedisError(component, opSet)
		return err
	}
	return nil
}

func (r *RedisCache) RawClient() *redis.Client { return r.c }
