// Package dedup implements §4.4: the two-layer URL dedup (in-memory Bloom
// filter fronting an authoritative KV seen-set) and the SimHash+LSH
// content-similarity index.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/crawlcore/ingestion/internal/kv"
)

// seenTTL is the TTL on the authoritative seen:<hash> KV key, per §3.
const seenTTL = 30 * 24 * time.Hour

// URLDedup is the two-layer URL-seen check of §4.4: a process-wide Bloom
// filter over an authoritative KV seen-set.
type URLDedup struct {
	mu     sync.Mutex
	bloom  *bloom.BloomFilter
	store  kv.Store
}

// NewURLDedup sizes the Bloom filter from capacity/falsePositiveRate using
// the standard formulae referenced in §4.4 (bloom.NewWithEstimates applies
// them internally).
func NewURLDedup(store kv.Store, capacity uint, falsePositiveRate float64) *URLDedup {
	return &URLDedup{
		bloom: bloom.NewWithEstimates(capacity, falsePositiveRate),
		store: store,
	}
}

// URLHash returns the SHA-256 hex digest used as the KV seen-key and as
// PageNode.URLHash.
func URLHash(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

func seenKey(hash string) string { return "seen:" + hash }

// Check implements §4.4's two-layer lookup: a Bloom miss is definitely
// NEW; a Bloom hit falls through to the authoritative KV check.
func (d *URLDedup) Check(ctx context.Context, canonicalURL string) (seen bool, err error) {
	hash := URLHash(canonicalURL)
	d.mu.Lock()
	mightContain := d.bloom.Test([]byte(hash))
	d.mu.Unlock()
	if !mightContain {
		return false, nil
	}
	_, ok, err := d.store.Get(ctx, seenKey(hash))
	if err != nil {
		return false, fmt.Errorf("dedup: seen lookup for %s: %w", canonicalURL, err)
	}
	return ok, nil
}

// MarkSeen atomically records canonicalURL as seen in both layers. Callers
// should call this exactly once, on the NEW decision that leads to
// enqueuing a CrawlJob, per §4.4.
func (d *URLDedup) MarkSeen(ctx context.Context, canonicalURL string) error {
	hash := URLHash(canonicalURL)
	d.mu.Lock()
	d.bloom.Add([]byte(hash))
	d.mu.Unlock()
	if err := d.store.Set(ctx, seenKey(hash), "1", seenTTL); err != nil {
		return fmt.Errorf("dedup: mark seen for %s: %w", canonicalURL, err)
	}
	return nil
}

// MightContain exposes the Bloom-only layer, used by the invariant test
// "after markVisited(u), mightContain(u) == true".
func (d *URLDedup) MightContain(canonicalURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bloom.Test([]byte(URLHash(canonicalURL)))
}

// ApproximateCount and ExpectedFalsePositiveRate back the admin surface's
// deduplication-stats endpoint of §6.
func (d *URLDedup) ApproximateCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bloom.ApproximatedSize()
}

func (d *URLDedup) ExpectedFalsePositiveRate(insertions uint) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bloom.EstimateFalsePositiveRate(insertions)
}

// Rebuild repopulates the in-memory Bloom filter from an authoritative
// source of previously-seen hashes (e.g. a bounded scan of the KV seen
// keyspace), per §9's "rebuild on restart" guidance. Callers that cannot
// enumerate KV cheaply may instead accept a warm-up period where every
// lookup falls through to KV, which Check already does safely.
func (d *URLDedup) Rebuild(hashes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hashes {
		d.bloom.Add([]byte(h))
	}
}
