package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter counts hits per key in a sorted set scored by time and
// allows at most limit hits per window.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
}

func NewSlidingWindowLimiter(rdb *redis.Client, scope string, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
	}
}

// Allow records a hit for id. When the window is full it reports how long to
// wait until the oldest hit leaves it.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, id string) (bool, time.Duration, error) {
	if l.limit <= 0 {
		return true, 0, nil
	}

	key := KeyRateLimit(l.scope, id)
	now := time.Now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - l.window.Milliseconds()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
		p.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: uuid.NewString()})
		card = p.ZCard(ctx, key)
		oldest = p.ZRangeWithScores(ctx, key, 0, 0)
		p.PExpire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: %w", err)
	}

	if card.Val() <= int64(l.limit) {
		return true, 0, nil
	}

	retry := l.window
	if zs := oldest.Val(); len(zs) > 0 {
		retry = time.Duration(int64(zs[0].Score)+l.window.Milliseconds()-nowMs) * time.Millisecond
		if retry < 0 {
			retry = 0
		}
	}

	return false, retry, nil
}
