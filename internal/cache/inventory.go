package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ProfileCardKeyPrefix = "user:%s:card"
	DebounceKeyPrefix    = "debounce:%s:%s:%s"
)

const (
	ProfileCardTTL = 5 * time.Minute
)

func ProfileCardKey(userID string) string {
	return fmt.Sprintf(ProfileCardKeyPrefix, userID)
}

// DebounceKey scopes a debounce window to one actor acting on one subject.
func DebounceKey(kind, actorID, subjectID string) string {
	return fmt.Sprintf(DebounceKeyPrefix, kind, actorID, subjectID)
}

// Invalidate deletes key. A nil client is a no-op.
func Invalidate(ctx context.Context, rdb *redis.Client, key string) {
	if rdb != nil {
		rdb.Del(ctx, key)
	}
}

func InvalidateProfileCard(ctx context.Context, rdb *redis.Client, userID string) {
	Invalidate(ctx, rdb, ProfileCardKey(userID))
}
