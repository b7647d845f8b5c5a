// Package store persists the crawl_urls/crawl_history/domain_metadata/
// page_graph/page_links schema of §6. Store is the interface every other
// package depends on; postgres.go is the production github.com/lib/pq
// implementation and memory.go a mutex-guarded double for unit tests.
package store

import (
	"context"
	"time"

	"github.com/crawlcore/ingestion/internal/model"
)

// Store is the state-store contract used by the frontier, scheduler,
// fetcher, link ingestor, indexer, ranker and admin surface.
type Store interface {
	// InsertCrawlJob inserts job with status PENDING and populates job.ID.
	InsertCrawlJob(ctx context.Context, job *model.CrawlJob) error

	// PollReady returns up to limit PENDING jobs with scheduled_at <= now,
	// ordered by priority DESC, scheduled_at ASC, per §4.5's Frontier
	// contract.
	PollReady(ctx context.Context, limit int) ([]*model.CrawlJob, error)

	// MarkInProgress CAS-transitions a job from PENDING to IN_PROGRESS.
	// ok is false if the job was not in PENDING (already claimed).
	MarkInProgress(ctx context.Context, jobID int64) (ok bool, err error)

	// MarkCompleted CAS-transitions a job from IN_PROGRESS to COMPLETED.
	MarkCompleted(ctx context.Context, jobID int64, crawledAt time.Time) error

	// MarkFailed CAS-transitions a job from IN_PROGRESS to FAILED
	// (terminal), recording lastError.
	MarkFailed(ctx context.Context, jobID int64, lastError string) error

	// MarkBlocked CAS-transitions a job from IN_PROGRESS to BLOCKED
	// (terminal, e.g. robots-disallowed).
	MarkBlocked(ctx context.Context, jobID int64, reason string) error

	// RequeueWithBackoff increments retry_count and CAS-transitions a job
	// from IN_PROGRESS back to PENDING with a future scheduled_at, unless
	// retry_count would exceed max_retries, in which case it behaves like
	// MarkFailed instead (§5's "on overflow status becomes FAILED").
	RequeueWithBackoff(ctx context.Context, jobID int64, lastError string, nextScheduledAt time.Time) error

	// InsertCrawlHistory appends an immutable fetch-outcome record.
	InsertCrawlHistory(ctx context.Context, rec *model.CrawlHistoryRecord) error

	// GetDomainProfile returns the politeness/authority profile for
	// domain, or ok=false if none exists yet.
	GetDomainProfile(ctx context.Context, domain string) (profile *model.DomainProfile, ok bool, err error)

	// UpsertDomainProfile inserts or replaces domain's profile.
	UpsertDomainProfile(ctx context.Context, profile *model.DomainProfile) error

	// IncrementDomainCounters bumps total_urls_{discovered,crawled,failed}
	// for domain, creating the row with zeroed counters if absent.
	IncrementDomainCounters(ctx context.Context, domain string, discovered, crawled, failed int64) error

	// UpsertPageNode inserts or updates node by URL hash, populating
	// node.ID. Idempotent by url_hash per §4.9.
	UpsertPageNode(ctx context.Context, node *model.PageNode) error

	// GetPageNodeByURLHash looks up a page by its URL hash.
	GetPageNodeByURLHash(ctx context.Context, urlHash string) (node *model.PageNode, ok bool, err error)

	// ReplaceOutgoingLinks deletes sourcePageID's existing outgoing edges
	// and inserts edges in their place, keeping page_links consistent
	// with the most recently indexed version of a page.
	ReplaceOutgoingLinks(ctx context.Context, sourcePageID int64, edges []model.LinkEdge) error

	// LoadGraph returns every PageNode and LinkEdge in page_graph/
	// page_links, for the ranker's power-iteration pass.
	LoadGraph(ctx context.Context) (nodes []*model.PageNode, edges []model.LinkEdge, err error)

	// UpdatePageRank persists a node's freshly computed score, shifting
	// the previous value into previous_score.
	UpdatePageRank(ctx context.Context, urlHash string, score float64, calculatedAt time.Time) error

	// CountByStatus returns the number of crawl_urls rows per status, for
	// the admin stats endpoint.
	CountByStatus(ctx context.Context) (map[model.Status]int64, error)

	// TopPagesByRank returns the n highest-PageRank pages.
	TopPagesByRank(ctx context.Context, n int) ([]*model.PageNode, error)
}
