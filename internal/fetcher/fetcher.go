// Package fetcher implements §4.7: the consumer-group worker pool that
// turns FetchRequests into fetched, parsed pages, content/link events,
// and terminal CrawlJob state.
package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/rehttp"

	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/circuitbreaker"
	"github.com/crawlcore/ingestion/internal/dedup"
	"github.com/crawlcore/ingestion/internal/errkind"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/kv"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/robots"
	"github.com/crawlcore/ingestion/internal/urlnorm"
)

const (
	connectTimeout  = 10 * time.Second
	readTimeout     = 30 * time.Second
	maxRedirects    = 5
	maxBodyBytes    = 5 * 1024 * 1024
	mutexTTL        = 30 * time.Second
	mutexRetryBound = 5 * time.Second
)

// Fetcher is one worker in the §4.7 consumer group: it consumes
// FetchRequests, downloads and parses the page, and emits downstream
// events and terminal job state.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	kv           kv.Store
	rate         *ratelimit.Controller
	robots       *robots.Registry
	breaker      *circuitbreaker.Registry
	urlDedup     *dedup.URLDedup
	contentDedup *dedup.ContentDedup
	frontier     *frontier.Frontier
	producer     bus.Producer
	log          *slog.Logger
	workerID     string
}

// New builds an HTTP client retrying transient errors with exponential
// jittered backoff, adapted from the teacher's rehttp-wrapped transport,
// generalized with a bounded redirect policy and connect/read timeout
// split via a custom dialer.
func New(
	userAgent string,
	store kv.Store,
	rate *ratelimit.Controller,
	robotsReg *robots.Registry,
	breaker *circuitbreaker.Registry,
	urlDedup *dedup.URLDedup,
	contentDedup *dedup.ContentDedup,
	f *frontier.Frontier,
	producer bus.Producer,
	workerID string,
) *Fetcher {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := rehttp.NewTransport(
		&http.Transport{DialContext: dialer.DialContext},
		rehttp.RetryAll(rehttp.RetryMaxRetries(3), rehttp.RetryTemporaryErr()),
		rehttp.ExpJitterDelay(1*time.Second, 10*time.Second),
	)
	client := &http.Client{
		Timeout:   readTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("fetcher: stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{
		client:       client,
		userAgent:    userAgent,
		kv:           store,
		rate:         rate,
		robots:       robotsReg,
		breaker:      breaker,
		urlDedup:     urlDedup,
		contentDedup: contentDedup,
		frontier:     f,
		producer:     producer,
		log:          slog.Default(),
		workerID:     workerID,
	}
}

// Run consumes FetchRequests from the bus under group until ctx is
// cancelled.
func (f *Fetcher) Run(ctx context.Context, b bus.Consumer, group string) error {
	return b.Consume(ctx, bus.TopicCrawlRequests, group, f.handle)
}

func doneKey(urlHash string) string { return "fetchdone:" + urlHash }

// handle runs the eight steps of §4.7 for a single FetchRequest message.
// It returns nil (causing the bus to commit/ack) for every outcome
// except genuine infrastructure unavailability, where returning an error
// leaves the message uncommitted for redelivery per §7.
func (f *Fetcher) handle(ctx context.Context, msg bus.Message) error {
	var req model.FetchRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		f.log.Error("fetcher: malformed fetch request", "error", err)
		return nil // poison message, nothing to retry
	}

	job := &model.CrawlJob{ID: req.JobID, URL: req.URL, Domain: req.Domain, Depth: req.Depth, MaxDepth: req.MaxDepth}
	hash := dedup.URLHash(req.URL)

	// Step 1: idempotency check.
	if done, ok, err := f.kv.Get(ctx, doneKey(hash)); err == nil && ok && done == "1" {
		return nil
	}

	// Step 2: domain mutex.
	mutexCtx, cancel := context.WithTimeout(ctx, mutexRetryBound)
	acquired, err := f.rate.AcquireWithRetry(mutexCtx, "domain:"+req.Domain, f.workerID, mutexTTL)
	cancel()
	if err != nil || !acquired {
		backoff := mutexRetryBound
		if rqErr := f.frontier.RequeueWithBackoff(ctx, job, errkind.New(errkind.MutexUnavailable, "Fetcher.handle", req.URL, err), backoff); rqErr != nil {
			return fmt.Errorf("fetcher: requeue after mutex unavailable: %w", rqErr)
		}
		return nil
	}
	defer f.rate.Release(ctx, "domain:"+req.Domain, f.workerID)

	// Step 3: token bucket, refilled at the rate robots.txt's Crawl-delay
	// dictates (or the §4.3 default when none is specified).
	crawlDelay := f.robots.CrawlDelay(ctx, f.userAgent, req.Domain)
	allowed, err := f.rate.Allow(ctx, req.Domain, 1, ratelimit.RefillForCrawlDelay(crawlDelay))
	if err != nil {
		return fmt.Errorf("fetcher: token bucket check: %w", err)
	}
	if !allowed {
		backoff := crawlDelay
		if backoff <= 0 {
			backoff = time.Second
		}
		if rqErr := f.frontier.RequeueWithBackoff(ctx, job, errkind.New(errkind.RateLimited, "Fetcher.handle", req.URL, nil), backoff); rqErr != nil {
			return fmt.Errorf("fetcher: requeue after rate limited: %w", rqErr)
		}
		return nil
	}

	started := time.Now()
	result, err := f.breaker.Execute(ctx, req.Domain, func(ctx context.Context) (any, error) {
		return f.fetchAndParse(ctx, req.URL)
	})
	duration := time.Since(started)

	if err != nil {
		return f.handleFetchError(ctx, job, req, err, duration)
	}

	outcome := result.(fetchOutcome)
	return f.handleSuccess(ctx, job, req, outcome, duration)
}

// handleFetchError classifies an error from fetchAndParse/the circuit
// breaker into the §4.7 partial-failure matrix and applies the matching
// terminal or requeue transition.
func (f *Fetcher) handleFetchError(ctx context.Context, job *model.CrawlJob, req model.FetchRequest, err error, duration time.Duration) error {
	kind, _ := errkind.KindOf(err)

	switch kind {
	case errkind.CircuitOpen:
		if rqErr := f.frontier.RequeueWithBackoff(ctx, job, err, 60*time.Second); rqErr != nil {
			return fmt.Errorf("fetcher: requeue after circuit open: %w", rqErr)
		}
		return nil
	case errkind.FetchHttp5xx, errkind.FetchNetwork:
		if rqErr := f.frontier.RequeueWithBackoff(ctx, job, err, 2*time.Second); rqErr != nil {
			return fmt.Errorf("fetcher: requeue after retryable fetch error: %w", rqErr)
		}
		f.writeHistory(ctx, job, req, 0, "", 0, "", err.Error(), kind.String(), duration)
		return nil
	default: // FetchHttp4xx, FetchTooLarge, ParseFailure: non-retryable
		if mfErr := f.frontier.MarkFailed(ctx, job, err.Error()); mfErr != nil {
			return fmt.Errorf("fetcher: mark failed: %w", mfErr)
		}
		f.writeHistory(ctx, job, req, 0, "", 0, "", err.Error(), kind.String(), duration)
		f.incrementDomainFailure(ctx, req.Domain)
		return nil
	}
}

func (f *Fetcher) handleSuccess(ctx context.Context, job *model.CrawlJob, req model.FetchRequest, outcome fetchOutcome, duration time.Duration) error {
	sum := sha256.Sum256([]byte(outcome.page.Text))
	contentHash := hex.EncodeToString(sum[:])

	dedupResult, err := f.contentDedup.Check(ctx, outcome.page.Text)
	if err != nil {
		return fmt.Errorf("fetcher: content dedup check: %w", err)
	}

	now := time.Now()
	if dedupResult.DuplicateOf == "" {
		if err := f.contentDedup.Insert(ctx, req.URL, dedupResult.Fingerprint); err != nil {
			return fmt.Errorf("fetcher: content dedup insert: %w", err)
		}
		event := model.ContentEvent{
			URL:           req.URL,
			Title:         outcome.page.Title,
			MetaDesc:      outcome.page.MetaDesc,
			Text:          outcome.page.Text,
			HTMLLen:       outcome.htmlLen,
			OutboundLinks: outcome.page.OutboundLinks,
			StatusCode:    outcome.statusCode,
			ContentType:   outcome.contentType,
			Language:      outcome.page.Language,
			CrawledAt:     now,
			ContentSHA256: contentHash,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("fetcher: marshal content event: %w", err)
		}
		if err := f.producer.Produce(ctx, bus.TopicPages, bus.Message{Key: req.URL, Value: payload}); err != nil {
			return errkind.New(errkind.BusUnavailable, "Fetcher.handleSuccess", req.URL, err)
		}
	}

	for _, link := range outcome.page.OutboundLinks {
		targetDomain, err := urlnorm.RegistrableDomain(link)
		if err != nil {
			continue
		}
		discovery := model.LinkDiscoveryEvent{
			URL:           link,
			SourceURL:     req.URL,
			Domain:        targetDomain,
			Depth:         req.Depth + 1,
			IsMainContent: true,
			DiscoveredAt:  now,
		}
		payload, err := json.Marshal(discovery)
		if err != nil {
			continue
		}
		if err := f.producer.Produce(ctx, bus.TopicNewLinks, bus.Message{Key: targetDomain, Value: payload}); err != nil {
			return errkind.New(errkind.BusUnavailable, "Fetcher.handleSuccess", link, err)
		}
	}

	f.writeHistory(ctx, job, req, outcome.statusCode, outcome.contentType, outcome.htmlLen, contentHash, "", "", duration)

	f.incrementDomainSuccess(ctx, req.Domain)

	if err := f.frontier.MarkCompleted(ctx, job, now); err != nil {
		return fmt.Errorf("fetcher: mark completed: %w", err)
	}
	if err := f.kv.Set(ctx, doneKey(dedup.URLHash(req.URL)), "1", 30*24*time.Hour); err != nil {
		return fmt.Errorf("fetcher: mark done: %w", err)
	}
	return nil
}

func (f *Fetcher) writeHistory(ctx context.Context, job *model.CrawlJob, req model.FetchRequest, statusCode int, contentType string, byteSize int, contentHash, errMsg, errType string, duration time.Duration) {
	rec := &model.CrawlHistoryRecord{
		JobID:       job.ID,
		URL:         req.URL,
		StatusCode:  statusCode,
		ContentType: contentType,
		ByteSize:    byteSize,
		ContentHash: contentHash,
		Duration:    duration,
		Error:       errMsg,
		ErrorType:   errType,
		CrawledAt:   time.Now(),
	}
	if err := f.frontier.InsertHistory(ctx, rec); err != nil {
		f.log.Error("fetcher: write history failed", "url", req.URL, "error", err)
	}
}

func (f *Fetcher) incrementDomainSuccess(ctx context.Context, domain string) {
	if err := f.frontier.IncrementDomainCounters(ctx, domain, 0, 1, 0); err != nil {
		f.log.Error("fetcher: increment domain counters failed", "domain", domain, "error", err)
	}
}

func (f *Fetcher) incrementDomainFailure(ctx context.Context, domain string) {
	if err := f.frontier.IncrementDomainCounters(ctx, domain, 0, 0, 1); err != nil {
		f.log.Error("fetcher: increment domain counters failed", "domain", domain, "error", err)
	}
}

// fetchOutcome is the internal result of fetchAndParse, passed through
// circuitbreaker.Registry.Execute's any-typed return.
type fetchOutcome struct {
	page        parsedPage
	statusCode  int
	contentType string
	htmlLen     int
}

// fetchAndParse runs §4.7 steps 3-4: HTTP GET with the configured
// policy, then HTML parsing, classifying every failure into the
// partial-failure matrix's error kinds.
func (f *Fetcher) fetchAndParse(ctx context.Context, targetURL string) (fetchOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return fetchOutcome{}, errkind.New(errkind.InvalidUrl, "fetchAndParse", targetURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return fetchOutcome{}, errkind.New(errkind.FetchNetwork, "fetchAndParse", targetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fetchOutcome{}, errkind.New(errkind.FetchHttp5xx, "fetchAndParse", targetURL, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fetchOutcome{}, errkind.New(errkind.FetchHttp4xx, "fetchAndParse", targetURL, fmt.Errorf("status %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return fetchOutcome{}, errkind.New(errkind.FetchNetwork, "fetchAndParse", targetURL, err)
	}
	if len(body) > maxBodyBytes {
		return fetchOutcome{}, errkind.New(errkind.FetchTooLarge, "fetchAndParse", targetURL, fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}

	page, err := parsePage(targetURL, bytes.NewReader(body))
	if err != nil {
		return fetchOutcome{}, errkind.New(errkind.ParseFailure, "fetchAndParse", targetURL, err)
	}

	return fetchOutcome{
		page:        page,
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		htmlLen:     len(body),
	}, nil
}
