package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"moff.io/wallet-connector/pkg/errors"
)

// ConnectLimiter limits connect attempts per key, usually the client ip.
type ConnectLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

func NewConnectLimiter(limiter *redis_rate.Limiter, perMinute int) *ConnectLimiter {
	return &ConnectLimiter{limiter: limiter, limit: redis_rate.PerMinute(perMinute)}
}

// Allow reports whether key may connect now, otherwise how long to wait.
func (l *ConnectLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, "connect:"+key, l.limit)
	if err != nil {
		return false, 0, errors.WrapAndReport(err, "rate limit connect")
	}
	return res.Allowed > 0, res.RetryAfter, nil
}
