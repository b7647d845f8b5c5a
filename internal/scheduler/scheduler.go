// Package scheduler implements §4.6: the periodic tick loop that polls
// the frontier, enforces robots/rate-limit policy, and emits
// FetchRequest messages onto the bus.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/errkind"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/robots"
)

func marshalFetchRequest(req model.FetchRequest) ([]byte, error) {
	return json.Marshal(req)
}

// Scheduler runs the tick loop of §4.6 against a Frontier, emitting
// FetchRequests to the bus for jobs that clear robots and rate-limit
// checks.
type Scheduler struct {
	frontier  *frontier.Frontier
	robots    *robots.Registry
	rate      *ratelimit.Controller
	producer  bus.Producer
	log       *slog.Logger
	userAgent string

	interval  time.Duration
	batchSize int

	windowSeconds int
	windowMax     int
}

// Option configures optional Scheduler fields.
type Option func(*Scheduler)

// WithInterval overrides the default 10s tick interval.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithBatchSize overrides the default 100-job poll batch.
func WithBatchSize(n int) Option { return func(s *Scheduler) { s.batchSize = n } }

// WithWindow overrides the sliding-window budget (seconds, max requests).
func WithWindow(seconds, max int) Option {
	return func(s *Scheduler) { s.windowSeconds, s.windowMax = seconds, max }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// New creates a Scheduler. userAgent is used both for the robots.txt
// group lookup and the FetchRequest's eventual HTTP request.
func New(f *frontier.Frontier, r *robots.Registry, rl *ratelimit.Controller, producer bus.Producer, userAgent string, opts ...Option) *Scheduler {
	s := &Scheduler{
		frontier:      f,
		robots:        r,
		rate:          rl,
		producer:      producer,
		log:           slog.Default(),
		userAgent:     userAgent,
		interval:      10 * time.Second,
		batchSize:     100,
		windowSeconds: 60,
		windowMax:     60,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks ticking every interval until ctx is cancelled, draining the
// in-flight tick's store writes before returning — "the scheduler loop
// honors a shutdown signal and drains in-flight database writes before
// exit" per §4.6.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	jobs, err := s.frontier.PollReady(ctx, s.batchSize)
	if err != nil {
		s.log.Error("scheduler: poll ready failed", "error", err)
		return
	}
	for _, job := range jobs {
		s.dispatch(ctx, job)
	}
}

// dispatch carries one polled job through steps 2-5 of §4.6: robots
// check, rate-limit check, FetchRequest emission, IN_PROGRESS
// transition. Each failure path requeues or blocks the job and returns
// without panicking the tick loop, so one bad job never stalls the rest
// of the batch.
func (s *Scheduler) dispatch(ctx context.Context, job *model.CrawlJob) {
	if !s.robots.IsAllowed(ctx, s.userAgent, job.URL) {
		if err := s.frontier.MarkBlocked(ctx, job, "robots disallowed"); err != nil {
			s.log.Error("scheduler: mark blocked failed", "url", job.URL, "error", err)
		}
		s.log.Info("scheduler: robots disallowed", "url", job.URL)
		return
	}

	allowed, err := s.rate.AllowWindow(ctx, job.Domain, s.windowSeconds, s.windowMax)
	if err != nil {
		s.log.Error("scheduler: rate window check failed", "domain", job.Domain, "error", err)
		return
	}
	if !allowed {
		// The store only requeues IN_PROGRESS jobs, so claim the PENDING
		// job first, as Frontier.MarkBlocked does for the robots path.
		if _, err := s.frontier.MarkInProgress(ctx, job); err != nil {
			s.log.Error("scheduler: mark in progress before requeue failed", "url", job.URL, "error", err)
			return
		}
		backoff := time.Duration(s.windowSeconds) * time.Second / time.Duration(s.windowMax)
		if err := s.frontier.RequeueWithBackoff(ctx, job, errkind.New(errkind.RateLimited, "Scheduler.dispatch", job.URL, nil), backoff); err != nil {
			s.log.Error("scheduler: requeue after rate limit failed", "url", job.URL, "error", err)
		}
		return
	}

	req := model.FetchRequest{
		JobID:      job.ID,
		URL:        job.URL,
		Domain:     job.Domain,
		Depth:      job.Depth,
		MaxDepth:   job.MaxDepth,
		RetryCount: job.RetryCount,
		Priority:   job.Priority,
		Timestamp:  time.Now(),
	}
	payload, err := marshalFetchRequest(req)
	if err != nil {
		s.log.Error("scheduler: marshal fetch request failed", "url", job.URL, "error", err)
		return
	}
	if err := s.producer.Produce(ctx, bus.TopicCrawlRequests, bus.Message{Key: job.Domain, Value: payload}); err != nil {
		s.log.Error("scheduler: produce fetch request failed", "url", job.URL, "error", err)
		return
	}

	if ok, err := s.frontier.MarkInProgress(ctx, job); err != nil {
		s.log.Error("scheduler: mark in progress failed", "url", job.URL, "error", err)
	} else if !ok {
		s.log.Warn("scheduler: job already claimed", "url", job.URL)
	}
}
