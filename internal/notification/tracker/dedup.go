package tracker

import (
	"context"
	"fmt"
	"time"

	"facility_portal_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// dedupTTL is how long a callback fingerprint is remembered. Providers retry
// for at most a day, so older duplicates are harmless replays of state the
// monotonic guard rejects anyway.
const dedupTTL = 24 * time.Hour

// Deduper answers whether a callback fingerprint has been seen before.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) bool
}

// RedisDeduper deduplicates callbacks with SET NX. It fails open: when redis
// is unreachable every callback is treated as new, and the store's monotonic
// transition guard keeps duplicates from doing damage.
type RedisDeduper struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisDeduper returns nil when no redis client is configured; the tracker
// then skips deduplication entirely.
func NewRedisDeduper(client *redis.Client, log *logger.Logger) *RedisDeduper {
	if client == nil {
		return nil
	}
	return &RedisDeduper{client: client, log: log}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) bool {
	if d == nil || d.client == nil {
		return true
	}

	ok, err := d.client.SetNX(ctx, fmt.Sprintf("notif:cb:%s", key), 1, dedupTTL).Result()
	if err != nil {
		d.log.Warn("callback dedup unavailable, processing anyway", "error", err.Error())
		return true
	}
	return ok
}
