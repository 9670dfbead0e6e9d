// Package ratelimit bounds how often a user may perform an action.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts hits per key in fixed windows aligned to the epoch. Each window has its
// own key, so hits late in a window never extend it.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

// New returns a Limiter allowing limit hits per window.
func New(rdb *redis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow records a hit for (userID, action) and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, userID int64, action string) (bool, error) {
	bucket := l.now().UnixNano() / l.window.Nanoseconds()
	k := fmt.Sprintf("rl:%s:%d:%d", action, userID, bucket)
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}
