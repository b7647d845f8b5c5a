package store

import (
	"context"
	"testing"
	"time"

	"github.com/crawlcore/ingestion/internal/model"
)

func TestMemoryInsertCrawlJobDedupesByURLHash(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := &model.CrawlJob{URL: "https://example.com/", Domain: "example.com", Priority: 1}
	if err := m.InsertCrawlJob(ctx, job); err != nil {
		t.Fatalf("InsertCrawlJob: %v", err)
	}
	if job.ID == 0 {
		t.Fatalf("expected InsertCrawlJob to populate ID")
	}

	dup := &model.CrawlJob{URL: "https://example.com/", Domain: "example.com", Priority: 2}
	if err := m.InsertCrawlJob(ctx, dup); err != nil {
		t.Fatalf("InsertCrawlJob dup: %v", err)
	}
	if dup.ID != 0 {
		t.Errorf("expected duplicate insert to no-op (ID stays 0), got %d", dup.ID)
	}
}

func TestMemoryPollReadyOrdersByPriorityThenSchedule(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	low := &model.CrawlJob{URL: "https://a.com/low", Domain: "a.com", Priority: 0.1}
	high := &model.CrawlJob{URL: "https://a.com/high", Domain: "a.com", Priority: 0.9}
	m.InsertCrawlJob(ctx, low)
	m.InsertCrawlJob(ctx, high)

	ready, err := m.PollReady(ctx, 10)
	if err != nil {
		t.Fatalf("PollReady: %v", err)
	}
	if len(ready) != 2 || ready[0].URL != high.URL {
		t.Fatalf("PollReady order = %+v, want high-priority job first", ready)
	}
}

func TestMemoryPollReadyExcludesFutureSchedule(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := &model.CrawlJob{URL: "https://a.com/future", Domain: "a.com", ScheduledAt: time.Now().Add(time.Hour)}
	m.InsertCrawlJob(ctx, job)

	ready, err := m.PollReady(ctx, 10)
	if err != nil {
		t.Fatalf("PollReady: %v", err)
	}
	if len(ready) != 0 {
		t.Errorf("PollReady returned %d jobs, want 0 for future-scheduled job", len(ready))
	}
}

func TestMemoryJobLifecycleCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := &model.CrawlJob{URL: "https://a.com/x", Domain: "a.com"}
	m.InsertCrawlJob(ctx, job)

	ok, err := m.MarkInProgress(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("MarkInProgress = %v, %v, want true, nil", ok, err)
	}
	ok, err = m.MarkInProgress(ctx, job.ID)
	if err != nil || ok {
		t.Fatalf("second MarkInProgress = %v, %v, want false, nil", ok, err)
	}

	if err := m.MarkCompleted(ctx, job.ID, time.Now()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := m.MarkCompleted(ctx, job.ID, time.Now()); err == nil {
		t.Errorf("expected MarkCompleted on an already-terminal job to fail CAS")
	}
}

func TestMemoryRequeueWithBackoffFailsAfterMaxRetries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := &model.CrawlJob{URL: "https://a.com/y", Domain: "a.com", MaxRetries: 1}
	m.InsertCrawlJob(ctx, job)
	m.MarkInProgress(ctx, job.ID)

	if err := m.RequeueWithBackoff(ctx, job.ID, "timeout", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("RequeueWithBackoff: %v", err)
	}
	ready, _ := m.PollReady(ctx, 10)
	_ = ready // scheduled in the future, won't appear; just checking no error path

	m.MarkInProgress(ctx, job.ID) // not ready yet logically, but memory doesn't gate on schedule here
	if err := m.RequeueWithBackoff(ctx, job.ID, "timeout again", time.Now()); err != nil {
		t.Fatalf("RequeueWithBackoff second: %v", err)
	}

	counts, err := m.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusFailed] != 1 {
		t.Errorf("CountByStatus[FAILED] = %d, want 1 after exceeding max_retries", counts[model.StatusFailed])
	}
}

func TestMemoryPageGraphRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	src := &model.PageNode{URL: "https://a.com/"}
	dst := &model.PageNode{URL: "https://a.com/b"}
	if err := m.UpsertPageNode(ctx, src); err != nil {
		t.Fatalf("UpsertPageNode src: %v", err)
	}
	if err := m.UpsertPageNode(ctx, dst); err != nil {
		t.Fatalf("UpsertPageNode dst: %v", err)
	}

	if err := m.ReplaceOutgoingLinks(ctx, src.ID, []model.LinkEdge{{SourcePageID: src.ID, TargetPageID: dst.ID, AnchorText: "b"}}); err != nil {
		t.Fatalf("ReplaceOutgoingLinks: %v", err)
	}

	nodes, edges, err := m.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if len(nodes) != 2 || len(edges) != 1 {
		t.Fatalf("LoadGraph = %d nodes, %d edges, want 2, 1", len(nodes), len(edges))
	}

	if err := m.UpdatePageRank(ctx, src.URLHash, 0.85, time.Now()); err != nil {
		t.Fatalf("UpdatePageRank: %v", err)
	}
	top, err := m.TopPagesByRank(ctx, 1)
	if err != nil || len(top) != 1 || top[0].URL != src.URL {
		t.Fatalf("TopPagesByRank = %+v, %v, want [src]", top, err)
	}
}

func TestMemoryDomainProfileRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.GetDomainProfile(ctx, "example.com"); err != nil || ok {
		t.Fatalf("GetDomainProfile before upsert = %v, %v, want false, nil", ok, err)
	}

	if err := m.UpsertDomainProfile(ctx, &model.DomainProfile{Domain: "example.com", DomainAuthorityScore: 0.7}); err != nil {
		t.Fatalf("UpsertDomainProfile: %v", err)
	}
	if err := m.IncrementDomainCounters(ctx, "example.com", 1, 1, 0); err != nil {
		t.Fatalf("IncrementDomainCounters: %v", err)
	}

	p, ok, err := m.GetDomainProfile(ctx, "example.com")
	if err != nil || !ok {
		t.Fatalf("GetDomainProfile after upsert = %v, %v, want true, nil", ok, err)
	}
	if p.DomainAuthorityScore != 0.7 {
		t.Errorf("DomainAuthorityScore = %v, want 0.7", p.DomainAuthorityScore)
	}
}
