package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"brewledger/backend/internal/domain"
)

type RedisBalanceCache struct {
	client *redis.Client
}

func NewRedisBalanceCache(addr string, password string, db int) *RedisBalanceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBalanceCache{client: client}
}

func (c *RedisBalanceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBalanceCache) Close() error {
	return c.client.Close()
}

func (c *RedisBalanceCache) Get(ctx context.Context, key string) (*domain.Balance, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var balance domain.Balance
	if err := json.Unmarshal([]byte(val), &balance); err != nil {
		return nil, false, err
	}
	return &balance, true, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, key string, value *domain.Balance, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisBalanceCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
