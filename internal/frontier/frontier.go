package frontier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/store"
)

// Frontier is the persistent priority queue of §4.5: CrawlJobs in
// PENDING status in the state store, scored by a pluggable Strategy and
// polled in priority order.
type Frontier struct {
	store store.Store

	mu       sync.RWMutex
	strategy Strategy
	opts     StrategyOptions
}

// New creates a Frontier over s, starting with the given strategy.
func New(s store.Store, initial StrategyName, opts StrategyOptions) *Frontier {
	return &Frontier{store: s, strategy: NewStrategy(initial, opts), opts: opts}
}

// SetStrategy switches the active prioritization strategy at runtime,
// backing the admin surface's "change strategy" operation. It only
// affects jobs enqueued after the switch; already-queued priorities are
// not recomputed.
func (f *Frontier) SetStrategy(name StrategyName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategy = NewStrategy(name, f.opts)
}

// StrategyName reports the active strategy, for the admin stats
// endpoint.
func (f *Frontier) StrategyName() StrategyName {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.strategy.Name()
}

// Enqueue scores in using the active strategy and inserts a new PENDING
// CrawlJob for url. Callers (seed API, Link ingestor) are responsible
// for normalization and dedup before calling Enqueue.
func (f *Frontier) Enqueue(ctx context.Context, url, domain string, depth, maxDepth int, in ScoreInput) (*model.CrawlJob, error) {
	f.mu.RLock()
	priority := f.strategy.Score(in)
	f.mu.RUnlock()

	job := &model.CrawlJob{
		URL:        url,
		Domain:     domain,
		Depth:      depth,
		MaxDepth:   maxDepth,
		Status:     model.StatusPending,
		Priority:   priority,
		MaxRetries: 3,
	}
	if err := f.store.InsertCrawlJob(ctx, job); err != nil {
		return nil, fmt.Errorf("frontier: enqueue %s: %w", url, err)
	}
	return job, nil
}

// PollReady returns up to limit PENDING jobs whose scheduled_at has
// elapsed, highest priority first.
func (f *Frontier) PollReady(ctx context.Context, limit int) ([]*model.CrawlJob, error) {
	jobs, err := f.store.PollReady(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("frontier: poll ready: %w", err)
	}
	return jobs, nil
}

// MarkInProgress CAS-transitions job from PENDING to IN_PROGRESS.
func (f *Frontier) MarkInProgress(ctx context.Context, job *model.CrawlJob) (bool, error) {
	ok, err := f.store.MarkInProgress(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("frontier: mark in progress %d: %w", job.ID, err)
	}
	return ok, nil
}

// MarkCompleted CAS-transitions job from IN_PROGRESS to COMPLETED.
func (f *Frontier) MarkCompleted(ctx context.Context, job *model.CrawlJob, crawledAt time.Time) error {
	if err := f.store.MarkCompleted(ctx, job.ID, crawledAt); err != nil {
		return fmt.Errorf("frontier: mark completed %d: %w", job.ID, err)
	}
	return nil
}

// MarkFailed terminates job as FAILED (exhausted retries or a
// non-retryable error), recording lastError.
func (f *Frontier) MarkFailed(ctx context.Context, job *model.CrawlJob, lastError string) error {
	if err := f.store.MarkFailed(ctx, job.ID, lastError); err != nil {
		return fmt.Errorf("frontier: mark failed %d: %w", job.ID, err)
	}
	return nil
}

// MarkBlocked terminates job as BLOCKED (e.g. robots-disallowed), first
// CAS-transitioning it to IN_PROGRESS since the store's MarkBlocked
// requires that as its precondition, keeping every terminal transition
// uniform in shape.
func (f *Frontier) MarkBlocked(ctx context.Context, job *model.CrawlJob, reason string) error {
	if _, err := f.store.MarkInProgress(ctx, job.ID); err != nil {
		return fmt.Errorf("frontier: mark blocked %d: %w", job.ID, err)
	}
	if err := f.store.MarkBlocked(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("frontier: mark blocked %d: %w", job.ID, err)
	}
	return nil
}

// InsertHistory appends an immutable fetch-outcome record, passed through
// from the Fetcher so every state-store write goes through the Frontier.
func (f *Frontier) InsertHistory(ctx context.Context, rec *model.CrawlHistoryRecord) error {
	if err := f.store.InsertCrawlHistory(ctx, rec); err != nil {
		return fmt.Errorf("frontier: insert history %d: %w", rec.JobID, err)
	}
	return nil
}

// IncrementDomainCounters bumps domain's discovered/crawled/failed
// totals, creating its profile row if absent.
func (f *Frontier) IncrementDomainCounters(ctx context.Context, domain string, discovered, crawled, failed int64) error {
	if err := f.store.IncrementDomainCounters(ctx, domain, discovered, crawled, failed); err != nil {
		return fmt.Errorf("frontier: increment domain counters %s: %w", domain, err)
	}
	return nil
}

// RequeueWithBackoff requeues job after a transient error, scheduling it
// at now + backoff (the caller chooses the delay), or terminates it as
// FAILED if its retry budget is exhausted (delegated to the store's CAS
// update, which requires job to be IN_PROGRESS).
func (f *Frontier) RequeueWithBackoff(ctx context.Context, job *model.CrawlJob, cause error, backoff time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := f.store.RequeueWithBackoff(ctx, job.ID, msg, time.Now().Add(backoff)); err != nil {
		return fmt.Errorf("frontier: requeue with backoff %d: %w", job.ID, err)
	}
	return nil
}
