package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crawlcore/ingestion/internal/kv"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/ranker"
	"github.com/crawlcore/ingestion/internal/ratelimit"
	"github.com/crawlcore/ingestion/internal/store"
	"github.com/crawlcore/ingestion/internal/urlnorm"
)

// allowAllRobots serves a permissive robots.txt for every host.
func allowAllRobots(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "User-agent: *\nAllow: /\n")
}

func disallowAllRobots(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
}

// robotsToServer rewrites every robots.txt request to hit srv's
// /robots.txt regardless of the https://<domain>/robots.txt target the
// registry constructs, since httptest.Server always listens on
// 127.0.0.1 with no fixed scheme/port of its own.
type robotsToServer struct {
	srv *httptest.Server
}

func (d robotsToServer) Do(req *http.Request) (*http.Response, error) {
	newReq, err := http.NewRequestWithContext(req.Context(), req.Method, d.srv.URL+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(newReq)
}

// waitForStatus polls st's status counts until pred is satisfied or
// timeout elapses, failing the test otherwise.
func waitForStatus(t *testing.T, ctx context.Context, st store.Store, timeout time.Duration, pred func(map[model.Status]int64) bool) map[model.Status]int64 {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		counts, err := st.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("CountByStatus: %v", err)
		}
		if pred(counts) {
			return counts
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for status predicate, last counts = %+v", counts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Scenario 1 of §8: a seed URL is crawled, its content is indexed, and
// its single outbound link is discovered.
func TestScenarioSeedCrawlIndexHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", allowAllRobots)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><p>Welcome</p><a href="/next">next</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := New(Options{SchedulerTick: 10 * time.Millisecond, RobotsHTTPClient: robotsToServer{srv}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.Run(ctx)

	domain, err := urlnorm.RegistrableDomain(srv.URL + "/")
	if err != nil {
		t.Fatalf("RegistrableDomain: %v", err)
	}
	seedURL, err := urlnorm.Normalize(srv.URL + "/")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if _, err := h.Seed(ctx, seedURL, domain); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	waitForStatus(t, ctx, h.Store, 3*time.Second, func(c map[model.Status]int64) bool {
		return c[model.StatusCompleted] >= 1
	})

	doc, ok := h.TextStore.Get(seedURL)
	if !ok {
		t.Fatal("expected WebDocument for seed URL")
	}
	if doc.Title != "Home" {
		t.Errorf("Title = %q, want %q", doc.Title, "Home")
	}

	nodes, edges, err := h.Store.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(nodes) < 2 {
		t.Fatalf("len(nodes) = %d, want >= 2 (source + discovered link)", len(nodes))
	}
	if len(edges) != 1 {
		t.Fatalf("len(edges) = %d, want 1", len(edges))
	}
}

// Scenario 2 of §8: two URLs differing only by a tracking parameter
// normalize to the same canonical form and produce exactly one
// CrawlJob.
func TestScenarioTrackingParamNormalizationDedupesToOneJob(t *testing.T) {
	h := New(Options{})
	ctx := context.Background()

	urlA, err := urlnorm.Normalize("https://example.com/article?utm_source=newsletter")
	if err != nil {
		t.Fatalf("Normalize A: %v", err)
	}
	urlB, err := urlnorm.Normalize("https://example.com/article?utm_campaign=spring")
	if err != nil {
		t.Fatalf("Normalize B: %v", err)
	}
	if urlA != urlB {
		t.Fatalf("normalized URLs differ: %q vs %q", urlA, urlB)
	}

	if _, err := h.Seed(ctx, urlA, "example.com"); err != nil {
		t.Fatalf("Seed A: %v", err)
	}
	if _, err := h.Seed(ctx, urlB, "example.com"); err != nil {
		t.Fatalf("Seed B: %v", err)
	}

	counts, err := h.Store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusPending] != 1 {
		t.Errorf("CountByStatus[PENDING] = %d, want 1 (second insert should be a no-op on URL hash conflict)", counts[model.StatusPending])
	}
}

// Scenario 3 of §8: robots.txt disallows the seed URL, so it is marked
// BLOCKED and the page is never fetched.
func TestScenarioRobotsDisallowBlocksWithoutFetch(t *testing.T) {
	fetched := false
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", disallowAllRobots)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fetched = true
		fmt.Fprint(w, "<html><body>should never be seen</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := New(Options{SchedulerTick: 10 * time.Millisecond, RobotsHTTPClient: robotsToServer{srv}})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h.Run(ctx)

	domain, _ := urlnorm.RegistrableDomain(srv.URL + "/")
	seedURL, _ := urlnorm.Normalize(srv.URL + "/")
	if _, err := h.Seed(ctx, seedURL, domain); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	waitForStatus(t, ctx, h.Store, 2*time.Second, func(c map[model.Status]int64) bool {
		return c[model.StatusBlocked] >= 1
	})

	if fetched {
		t.Error("page handler was hit despite robots disallow")
	}
	if _, ok := h.TextStore.Get(seedURL); ok {
		t.Error("expected no WebDocument for a robots-blocked URL")
	}
}

// Scenario 4 of §8: a one-token bucket refilling at 0.5/s allows the
// first of three rapid requests and rate-limits the rest, which become
// available again only after the refill interval elapses.
func TestScenarioRateLimitTokenBucketThrottlesBurst(t *testing.T) {
	ctx := context.Background()
	rl := ratelimit.New(kv.NewMemoryStore())

	first, err := rl.Allow(ctx, "throttled.example.com", 1, 0.5)
	if err != nil {
		t.Fatalf("Allow #1: %v", err)
	}
	if !first {
		t.Fatal("first request should be allowed (bucket starts full)")
	}

	second, err := rl.Allow(ctx, "throttled.example.com", 1, 0.5)
	if err != nil {
		t.Fatalf("Allow #2: %v", err)
	}
	if second {
		t.Fatal("second immediate request should be rate-limited")
	}

	third, err := rl.Allow(ctx, "throttled.example.com", 1, 0.5)
	if err != nil {
		t.Fatalf("Allow #3: %v", err)
	}
	if third {
		t.Fatal("third immediate request should be rate-limited")
	}

	time.Sleep(2100 * time.Millisecond)

	retried, err := rl.Allow(ctx, "throttled.example.com", 1, 0.5)
	if err != nil {
		t.Fatalf("Allow retry: %v", err)
	}
	if !retried {
		t.Fatal("request should succeed once >=2s have elapsed (0.5/s refill)")
	}
}

// Scenario 5 of §8: two pages with near-duplicate content (Hamming
// distance within the LSH threshold) produce only one ContentEvent, but
// each page's outbound link is still discovered and enqueued.
func TestScenarioNearDuplicateContentSuppressesSecondEventButKeepsLinks(t *testing.T) {
	const sharedParagraph = `The quick brown fox jumps over the lazy dog near the riverbank ` +
		`while the autumn leaves fall gently onto the old wooden bridge every single morning.`

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", allowAllRobots)
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>A</title></head><body><p>%s</p><a href="/link-a">a</a></body></html>`, sharedParagraph)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>B</title></head><body><p>%s!</p><a href="/link-b">b</a></body></html>`, sharedParagraph)
	})
	mux.HandleFunc("/link-a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>link a target</body></html>")
	})
	mux.HandleFunc("/link-b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>link b target</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := New(Options{SchedulerTick: 10 * time.Millisecond, RobotsHTTPClient: robotsToServer{srv}})
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	h.Run(ctx)

	domain, _ := urlnorm.RegistrableDomain(srv.URL + "/")
	urlA, _ := urlnorm.Normalize(srv.URL + "/a")
	urlB, _ := urlnorm.Normalize(srv.URL + "/b")
	if _, err := h.Seed(ctx, urlA, domain); err != nil {
		t.Fatalf("Seed a: %v", err)
	}
	if _, err := h.Seed(ctx, urlB, domain); err != nil {
		t.Fatalf("Seed b: %v", err)
	}

	// Both seed jobs complete, and both discovered links become CrawlJobs
	// in their own right (2 seeds + 2 discovered links = 4 total rows).
	waitForStatus(t, ctx, h.Store, 5*time.Second, func(c map[model.Status]int64) bool {
		var total int64
		for _, n := range c {
			total += n
		}
		return total >= 4 && c[model.StatusCompleted] >= 2
	})

	_, okA := h.TextStore.Get(urlA)
	_, okB := h.TextStore.Get(urlB)
	if !okA {
		t.Error("expected a WebDocument for the first of the near-duplicate pages")
	}
	if okB {
		t.Error("expected no WebDocument for the near-duplicate second page (its ContentEvent should be suppressed)")
	}
}

// Scenario 6 of §8: PageRank converges on a tiny three-node graph with
// the expected ordering, and rerunning against an unchanged graph is
// stable within the convergence epsilon.
func TestScenarioPageRankConvergesOnTinyGraph(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	a := &model.PageNode{URL: "https://a.test/"}
	b := &model.PageNode{URL: "https://b.test/"}
	c := &model.PageNode{URL: "https://c.test/"}
	for _, n := range []*model.PageNode{a, b, c} {
		if err := st.UpsertPageNode(ctx, n); err != nil {
			t.Fatalf("UpsertPageNode %s: %v", n.URL, err)
		}
	}
	// A -> B, A -> C, B -> C
	if err := st.ReplaceOutgoingLinks(ctx, a.ID, []model.LinkEdge{
		{SourcePageID: a.ID, TargetPageID: b.ID},
		{SourcePageID: a.ID, TargetPageID: c.ID},
	}); err != nil {
		t.Fatalf("ReplaceOutgoingLinks a: %v", err)
	}
	if err := st.ReplaceOutgoingLinks(ctx, b.ID, []model.LinkEdge{
		{SourcePageID: b.ID, TargetPageID: c.ID},
	}); err != nil {
		t.Fatalf("ReplaceOutgoingLinks b: %v", err)
	}

	r := ranker.New(st, ranker.DefaultConfig())
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	scoreOf := func(urlHash string) float64 {
		node, ok, err := st.GetPageNodeByURLHash(ctx, urlHash)
		if err != nil || !ok {
			t.Fatalf("GetPageNodeByURLHash(%s): ok=%v err=%v", urlHash, ok, err)
		}
		return node.PageRank
	}
	prA, prB, prC := scoreOf(a.URLHash), scoreOf(b.URLHash), scoreOf(c.URLHash)
	if !(prC > prB && prB > prA) {
		t.Fatalf("expected PR(C) > PR(B) > PR(A), got A=%v B=%v C=%v", prA, prB, prC)
	}
	if prC != 1.0 {
		t.Errorf("normalized top score PR(C) = %v, want exactly 1.0", prC)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	prC2 := scoreOf(c.URLHash)
	if diff := prC2 - prC; diff > 1e-4 || diff < -1e-4 {
		t.Errorf("rerunning PageRank on an unchanged graph should be stable within epsilon, got %v then %v", prC, prC2)
	}
}
