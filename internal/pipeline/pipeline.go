// Package pipeline wires every ingestion component over in-memory
// adapters (ChannelBus, store.Memory, kv.MemoryStore, textstore.Memory)
// into a single runnable harness, exercising the end-to-end scenarios of
// §8 without any external services.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/circuitbreaker"
	"github.com/crawlcore/ingestion/internal/dedup"
	"github.com/crawlcore/ingestion/internal/fetcher"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/indexer"
	"github.com/crawlcore/ingestion/internal/kv"
	"github.com/crawlcore/ingestion/internal/linkingestor"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/ranker"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/robots"
	"github.com/crawlcore/ingestion/internal/scheduler"
	"github.com/crawlcore/ingestion/internal/store"
	"github.com/crawlcore/ingestion/internal/textstore"
)

// Harness bundles every component over shared in-memory adapters, for
// in-process local runs and integration tests alike. cmd/ingestor does
// not use it; it always wires the Kafka, Redis and Postgres adapters.
type Harness struct {
	Store     store.Store
	KV        kv.Store
	Bus       *bus.ChannelBus
	Frontier  *frontier.Frontier
	URLDedup  *dedup.URLDedup
	Content   *dedup.ContentDedup
	Robots    *robots.Registry
	Rate      *ratelimit.Controller
	Scheduler *scheduler.Scheduler
	Fetcher   *fetcher.Fetcher
	Links     *linkingestor.Ingestor
	Indexer   *indexer.Indexer
	Ranker    *ranker.Ranker
	TextStore *textstore.Memory

	userAgent string
}

// Options configures a Harness. Zero-value Options falls back to §6's
// documented defaults.
type Options struct {
	UserAgent      string
	Strategy       frontier.StrategyName
	MaxDepth       int
	SchedulerBatch int
	SchedulerTick  time.Duration

	// RobotsHTTPClient overrides the HTTP client the robots registry
	// fetches robots.txt with. Tests point this at an httptest.Server;
	// production callers leave it nil to get the default *http.Client.
	RobotsHTTPClient robots.HTTPDoer
}

// New builds a fully wired Harness over fresh in-memory adapters.
func New(opts Options) *Harness {
	if opts.UserAgent == "" {
		opts.UserAgent = "ingestcore-bot/1.0"
	}
	if opts.Strategy == "" {
		opts.Strategy = frontier.BreadthFirst
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	if opts.SchedulerBatch <= 0 {
		opts.SchedulerBatch = 100
	}
	if opts.SchedulerTick <= 0 {
		opts.SchedulerTick = 20 * time.Millisecond
	}

	st := store.NewMemory()
	kvStore := kv.NewMemoryStore()
	channelBus := bus.NewChannelBus()
	f := frontier.New(st, opts.Strategy, frontier.StrategyOptions{})
	urlDedup := dedup.NewURLDedup(kvStore, 100000, 0.01)
	lsh := dedup.NewLSHIndex(kvStore, 4, 16)
	contentDedup := dedup.NewContentDedup(lsh, 3)
	robotsClient := opts.RobotsHTTPClient
	if robotsClient == nil {
		robotsClient = &http.Client{Timeout: 5 * time.Second}
	}
	robotsReg := robots.New(kvStore, robotsClient, opts.UserAgent)
	rate := ratelimit.New(kvStore)
	breaker := circuitbreaker.New()
	ts := textstore.NewMemory()

	sched := scheduler.New(f, robotsReg, rate, channelBus, opts.UserAgent,
		scheduler.WithInterval(opts.SchedulerTick), scheduler.WithBatchSize(opts.SchedulerBatch))
	fetch := fetcher.New(opts.UserAgent, kvStore, rate, robotsReg, breaker, urlDedup, contentDedup, f, channelBus, "worker-1")
	links := linkingestor.New(f, urlDedup, opts.MaxDepth)
	idx := indexer.New(st, ts)
	rank := ranker.New(st, ranker.DefaultConfig())

	return &Harness{
		Store: st, KV: kvStore, Bus: channelBus, Frontier: f, URLDedup: urlDedup, Content: contentDedup,
		Robots: robotsReg, Rate: rate, Scheduler: sched, Fetcher: fetch, Links: links, Indexer: idx,
		Ranker: rank, TextStore: ts, userAgent: opts.UserAgent,
	}
}

// Run starts the scheduler, fetcher, link ingestor and indexer consuming
// concurrently until ctx is cancelled. The Ranker is not started; run it
// explicitly via Ranker.Run since it is a periodic batch job, not a bus
// consumer.
func (h *Harness) Run(ctx context.Context) {
	go h.Scheduler.Run(ctx)
	go h.Fetcher.Run(ctx, h.Bus, "fetchers")
	go h.Links.Run(ctx, h.Bus, "link-ingestors")
	go h.Indexer.Run(ctx, h.Bus, "indexers")
}

// Seed enqueues url as a depth-0 CrawlJob, as the admin "add seeds"
// operation would.
func (h *Harness) Seed(ctx context.Context, targetURL, domain string) (*model.CrawlJob, error) {
	in := frontier.ScoreInput{URL: targetURL, Depth: 0, DomainAuthority: frontier.DomainAuthority(domain), Cash: 1.0}
	return h.Frontier.Enqueue(ctx, targetURL, domain, 0, 3, in)
}
