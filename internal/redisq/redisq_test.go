package redisq

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"filingctl/internal/dispatch"
	"filingctl/internal/model"
)

// These tests need a live Redis. Set FILINGCTL_TEST_REDIS_ADDR to run them.
func testClient(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := os.Getenv("FILINGCTL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FILINGCTL_TEST_REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	prefix := "filingctl-test-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		ctx := context.Background()
		iter := c.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			c.Del(ctx, iter.Val())
		}
		c.Close()
	})
	return c, prefix
}

func TestQueueLifecycle(t *testing.T) {
	c, prefix := testClient(t)
	q := New(c, WithPrefix(prefix))
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, dispatch.Unit{JobID: "j1", Payload: model.Payload{"v": "a"}, NotBefore: now.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if n, err := q.Depth(ctx); err != nil || n != 1 {
		t.Fatalf("depth = %d, %v", n, err)
	}
	if l, err := q.Claim(ctx, "w", now, time.Minute); err != nil || l != nil {
		t.Fatalf("claimed before not_before: %v %v", l, err)
	}

	l, err := q.Claim(ctx, "w", now.Add(time.Minute), time.Minute)
	if err != nil || l == nil {
		t.Fatalf("claim: %v %v", l, err)
	}
	if l.JobID != "j1" || l.Payload["v"] != "a" || l.Deliveries != 1 {
		t.Fatalf("lease = %+v", l)
	}

	// enqueue while leased is deferred
	if err := q.Enqueue(ctx, dispatch.Unit{JobID: "j1", Payload: model.Payload{"v": "b"}, NotBefore: now}); err != nil {
		t.Fatal(err)
	}
	if other, _ := q.Claim(ctx, "w2", now.Add(time.Minute), time.Minute); other != nil {
		t.Fatal("second lease granted")
	}

	if err := q.Ack(ctx, l); err != nil {
		t.Fatal(err)
	}
	next, err := q.Claim(ctx, "w2", now.Add(time.Minute), time.Minute)
	if err != nil || next == nil || next.Payload["v"] != "b" {
		t.Fatalf("deferred run: %+v %v", next, err)
	}

	if err := q.Retry(ctx, next, now.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if has, _ := q.Has(ctx, "j1"); !has {
		t.Fatal("retried unit missing")
	}
	again, err := q.Claim(ctx, "w", now.Add(5*time.Minute), time.Minute)
	if err != nil || again == nil {
		t.Fatalf("claim after retry: %v %v", again, err)
	}
	if err := q.Ack(ctx, again); err != nil {
		t.Fatal(err)
	}
	if has, _ := q.Has(ctx, "j1"); has {
		t.Fatal("acked unit still present")
	}
}

func TestQueueExpiredLeaseRedelivers(t *testing.T) {
	c, prefix := testClient(t)
	q := New(c, WithPrefix(prefix))
	ctx := context.Background()
	now := time.Now()

	_ = q.Enqueue(ctx, dispatch.Unit{JobID: "j1", Payload: model.Payload{}, NotBefore: now})
	first, _ := q.Claim(ctx, "dead", now, time.Second)
	if first == nil {
		t.Fatal("no first lease")
	}

	second, err := q.Claim(ctx, "live", now.Add(2*time.Second), time.Minute)
	if err != nil || second == nil {
		t.Fatalf("expired lease not reclaimed: %v", err)
	}
	if !second.Redelivered() {
		t.Fatalf("deliveries = %d", second.Deliveries)
	}

	// the dead holder's token no longer counts
	_ = q.Ack(ctx, first)
	if has, _ := q.Has(ctx, "j1"); !has {
		t.Fatal("stale ack removed the unit")
	}
}

func TestLocker(t *testing.T) {
	c, prefix := testClient(t)
	l := NewLocker(c, prefix)
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "j1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "j1", time.Minute); ok {
		t.Fatal("lock granted twice")
	}
	unlock()
	if _, ok, _ := l.TryLock(ctx, "j1", time.Minute); !ok {
		t.Fatal("lock not released")
	}
}
