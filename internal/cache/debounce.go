package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Debouncer rejects a repeat of the same action inside a short window.
type Debouncer struct {
	rdb    *redis.Client
	window time.Duration
}

// NewDebouncer returns a debouncer over rdb. A nil client or a non-positive
// window lets every call through.
func NewDebouncer(rdb *redis.Client, window time.Duration) *Debouncer {
	return &Debouncer{rdb: rdb, window: window}
}

// Allow claims the window for key. It returns false if the window is already
// claimed. Redis failures fail open.
func (d *Debouncer) Allow(ctx context.Context, key string) (bool, error) {
	if d == nil || d.rdb == nil || d.window <= 0 {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Release gives the window for key back, so a retry of an action that did not
// take effect is not rejected.
func (d *Debouncer) Release(ctx context.Context, key string) error {
	if d == nil || d.rdb == nil || d.window <= 0 {
		return nil
	}
	return d.rdb.Del(ctx, key).Err()
}
