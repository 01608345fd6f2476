package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// BalanceCache holds derived balances. The ledger sum stays authoritative;
// entries are dropped after every committed write that touches the user.
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (balance int64, ok bool, err error)
	Set(ctx context.Context, userID uuid.UUID, balance int64) error
	Invalidate(ctx context.Context, userIDs ...uuid.UUID) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func balanceKey(userID uuid.UUID) string {
	return "balance:" + userID.String()
}

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	v, err := c.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID uuid.UUID, balance int64) error {
	return c.client.Set(ctx, balanceKey(userID), balance, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, balanceKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

// NopCache never hits. Used when REDIS_URL is unset.
type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID) (int64, bool, error) { return 0, false, nil }
func (NopCache) Set(context.Context, uuid.UUID, int64) error         { return nil }
func (NopCache) Invalidate(context.Context, ...uuid.UUID) error      { return nil }
