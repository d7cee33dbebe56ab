package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/wallet-connector/internal/config"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

var (
	Redis       *redis.Client
	RateLimiter *redis_rate.Limiter
)

func Init(cred *config.DBCredential) error {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	Redis = redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := Redis.Ping(context.TODO()).Result(); err != nil {
		return errors.WrapAndReport(err, "ping to redis")
	}
	RateLimiter = redis_rate.NewLimiter(Redis)
	return nil
}

func Close() {
	if Redis != nil {
		Redis.Close()
		Redis = nil
	}
}

// client is the part of *redis.Client the cache uses.
type client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func deleteFromPrefix(ctx context.Context, c client, prefix string) error {
	var (
		cursor uint64
		match        = fmt.Sprintf("%v*", prefix)
		count  int64 = 200
	)
	log.Debugf("deleting cache pattern %v", match)
	for {
		keys, next, err := c.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return errors.WrapAndReport(err, "scan caches")
		}
		cursor = next
		if len(keys) > 0 {
			if err := c.Del(ctx, keys...).Err(); err != nil {
				return errors.WrapAndReport(err, "delete caches")
			}
		}
		if next == 0 {
			return nil
		}
	}
}
