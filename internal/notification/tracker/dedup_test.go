package tracker

import (
	"context"
	"testing"

	"facility_portal_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, logger.New("development")), mr
}

func TestRedisDeduperFirstSeen(t *testing.T) {
	dedup, _ := newTestDeduper(t)
	ctx := context.Background()

	if !dedup.FirstSeen(ctx, "abc:sms:delivered:SM1") {
		t.Fatal("first sighting must be new")
	}
	if dedup.FirstSeen(ctx, "abc:sms:delivered:SM1") {
		t.Fatal("second sighting must be a duplicate")
	}
	if !dedup.FirstSeen(ctx, "abc:sms:read:SM1") {
		t.Fatal("a different fingerprint must be new")
	}
}

func TestRedisDeduperExpiry(t *testing.T) {
	dedup, mr := newTestDeduper(t)
	ctx := context.Background()

	if !dedup.FirstSeen(ctx, "abc:email:read:") {
		t.Fatal("first sighting must be new")
	}

	mr.FastForward(dedupTTL + 1)

	// after the window the fingerprint counts as new again; the monotonic
	// store guard absorbs the replay
	if !dedup.FirstSeen(ctx, "abc:email:read:") {
		t.Fatal("expired fingerprint must count as new")
	}
}

func TestRedisDeduperFailsOpen(t *testing.T) {
	dedup, mr := newTestDeduper(t)
	mr.Close()

	if !dedup.FirstSeen(context.Background(), "abc:sms:delivered:SM1") {
		t.Fatal("redis outage must not block callback processing")
	}
}

func TestNilDeduper(t *testing.T) {
	if NewRedisDeduper(nil, logger.New("development")) != nil {
		t.Fatal("no client must yield a nil deduper")
	}

	var dedup *RedisDeduper
	if !dedup.FirstSeen(context.Background(), "anything") {
		t.Fatal("nil deduper must treat everything as new")
	}
}
