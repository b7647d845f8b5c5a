// Package ratelimit implements the §4.3 rate controller: a per-domain
// token bucket, sliding window and distributed mutex, all backed by a
// kv.Store so the critical section runs server-side.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/crawlcore/ingestion/internal/kv"
)

const (
	defaultBucketCapacity = 10
	defaultRefillPerSec   = 1
	bucketTTL             = 5 * time.Minute
	defaultMutexTTL       = 30 * time.Second
	backoffStart          = 100 * time.Millisecond
	backoffFactor         = 2
	backoffJitter         = 0.25
	backoffCap            = 10 * time.Second
)

// Controller exposes the three rate-limiting primitives of §4.3, all
// keyed by registrable domain.
type Controller struct {
	store kv.Store
}

// New creates a Controller over store.
func New(store kv.Store) *Controller {
	return &Controller{store: store}
}

// Allow runs the token-bucket check for domain: refill, then try to take
// one token. capacity and refillPerSec default to 10 and 1/s per §4.3 if
// zero is passed.
func (c *Controller) Allow(ctx context.Context, domain string, capacity, refillPerSec float64) (bool, error) {
	if capacity <= 0 {
		capacity = defaultBucketCapacity
	}
	if refillPerSec <= 0 {
		refillPerSec = defaultRefillPerSec
	}
	ok, err := c.store.TokenBucketTake(ctx, "tokens:"+domain, capacity, refillPerSec, bucketTTL)
	if err != nil {
		return false, fmt.Errorf("ratelimit: token bucket for %s: %w", domain, err)
	}
	return ok, nil
}

// RefillForCrawlDelay converts a robots.txt crawl-delay into the
// refill-per-second §4.3 specifies: refill = 1/crawl_delay.
func RefillForCrawlDelay(crawlDelay time.Duration) float64 {
	if crawlDelay <= 0 {
		return defaultRefillPerSec
	}
	return 1 / crawlDelay.Seconds()
}

// AllowWindow runs the sliding-window check for domain: trim expired
// entries, then add now if under maxRequests.
func (c *Controller) AllowWindow(ctx context.Context, domain string, windowSeconds, maxRequests int) (bool, error) {
	ok, err := c.store.WindowAdd(ctx, "window:"+domain, time.Now().UnixMilli(), windowSeconds, maxRequests, time.Duration(windowSeconds)*time.Second)
	if err != nil {
		return false, fmt.Errorf("ratelimit: sliding window for %s: %w", domain, err)
	}
	return ok, nil
}

// Acquire attempts to take the distributed mutex for resource under owner,
// returning whether it succeeded. ttl defaults to 30s if zero.
func (c *Controller) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultMutexTTL
	}
	ok, err := c.store.SetNX(ctx, "lock:"+resource, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("ratelimit: acquire %s: %w", resource, err)
	}
	return ok, nil
}

// Reset clears domain's token-bucket and sliding-window state entirely,
// the primitive behind the admin "reset domain rate limit" operation.
func (c *Controller) Reset(ctx context.Context, domain string) error {
	if err := c.store.ResetRateLimit(ctx, "tokens:"+domain); err != nil {
		return fmt.Errorf("ratelimit: reset token bucket for %s: %w", domain, err)
	}
	if err := c.store.ResetRateLimit(ctx, "window:"+domain); err != nil {
		return fmt.Errorf("ratelimit: reset window for %s: %w", domain, err)
	}
	return nil
}

// Release drops the mutex for resource iff owner currently holds it.
func (c *Controller) Release(ctx context.Context, resource, owner string) (bool, error) {
	ok, err := c.store.CompareAndDelete(ctx, "lock:"+resource, owner)
	if err != nil {
		return false, fmt.Errorf("ratelimit: release %s: %w", resource, err)
	}
	return ok, nil
}

// AcquireWithRetry retries Acquire with exponential backoff (start 100ms,
// factor 2, jitter ±25%, cap 10s) until ctx is done or the mutex is
// acquired. Cancellation is checked at least every 100ms, per §4.3.
func (c *Controller) AcquireWithRetry(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	delay := backoffStart
	for {
		ok, err := c.Acquire(ctx, resource, owner, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay = time.Duration(math.Min(float64(delay*backoffFactor), float64(backoffCap)))
	}
}

func jitter(d time.Duration) time.Duration {
	spread := float64(d) * backoffJitter
	offset := (rand.Float64()*2 - 1) * spread
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
