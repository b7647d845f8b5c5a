package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/crawlcore/ingestion/internal/kv"
)

func TestAllowTokenBucket(t *testing.T) {
	c := New(kv.NewMemoryStore())
	ctx := context.Background()
	first, err := c.Allow(ctx, "example.com", 1, 0.5)
	if err != nil || !first {
		t.Fatalf("first Allow = %v, %v, want true, nil", first, err)
	}
	second, err := c.Allow(ctx, "example.com", 1, 0.5)
	if err != nil || second {
		t.Fatalf("second Allow = %v, %v, want false, nil (bucket just drained)", second, err)
	}
}

func TestAllowWindow(t *testing.T) {
	c := New(kv.NewMemoryStore())
	ctx := context.Background()
	a, _ := c.AllowWindow(ctx, "example.com", 60, 2)
	b, _ := c.AllowWindow(ctx, "example.com", 60, 2)
	d, _ := c.AllowWindow(ctx, "example.com", 60, 2)
	if !a || !b || d {
		t.Errorf("got %v, %v, %v, want true, true, false", a, b, d)
	}
}

func TestAcquireReleaseMutex(t *testing.T) {
	c := New(kv.NewMemoryStore())
	ctx := context.Background()
	ok, err := c.Acquire(ctx, "example.com", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v, want true, nil", ok, err)
	}
	blocked, err := c.Acquire(ctx, "example.com", "owner-2", time.Minute)
	if err != nil || blocked {
		t.Fatalf("second Acquire = %v, %v, want false, nil", blocked, err)
	}
	released, err := c.Release(ctx, "example.com", "owner-1")
	if err != nil || !released {
		t.Fatalf("Release = %v, %v, want true, nil", released, err)
	}
	ok, err = c.Acquire(ctx, "example.com", "owner-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire after release = %v, %v, want true, nil", ok, err)
	}
}

func TestReleaseWrongOwnerFails(t *testing.T) {
	c := New(kv.NewMemoryStore())
	ctx := context.Background()
	c.Acquire(ctx, "example.com", "owner-1", time.Minute)
	released, err := c.Release(ctx, "example.com", "owner-2")
	if err != nil || released {
		t.Fatalf("Release by wrong owner = %v, %v, want false, nil", released, err)
	}
}

func TestAcquireWithRetrySucceedsAfterRelease(t *testing.T) {
	c := New(kv.NewMemoryStore())
	ctx := context.Background()
	c.Acquire(ctx, "example.com", "owner-1", 50*time.Millisecond)
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Release(ctx, "example.com", "owner-1")
	}()
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ok, err := c.AcquireWithRetry(timeoutCtx, "example.com", "owner-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireWithRetry = %v, %v, want true, nil", ok, err)
	}
}

func TestRefillForCrawlDelay(t *testing.T) {
	if got := RefillForCrawlDelay(2 * time.Second); got != 0.5 {
		t.Errorf("RefillForCrawlDelay(2s) = %v, want 0.5", got)
	}
	if got := RefillForCrawlDelay(0); got != defaultRefillPerSec {
		t.Errorf("RefillForCrawlDelay(0) = %v, want default", got)
	}
}
