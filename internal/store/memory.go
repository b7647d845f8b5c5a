package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crawlcore/ingestion/internal/model"
)

// Memory is an in-process Store double for tests and the pipeline wiring
// harness, equivalent in effect to Postgres but backed by plain maps
// under a single mutex.
type Memory struct {
	mu sync.Mutex

	nextJobID  int64
	jobs       map[int64]*model.CrawlJob
	jobsByHash map[string]int64

	history []*model.CrawlHistoryRecord

	domains map[string]*model.DomainProfile

	nextPageID int64
	pages      map[int64]*model.PageNode
	pagesByURL map[string]int64
	links      map[int64][]model.LinkEdge
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:       make(map[int64]*model.CrawlJob),
		jobsByHash: make(map[string]int64),
		domains:    make(map[string]*model.DomainProfile),
		pages:      make(map[int64]*model.PageNode),
		pagesByURL: make(map[string]int64),
		links:      make(map[int64][]model.LinkEdge),
	}
}

func (m *Memory) InsertCrawlJob(ctx context.Context, job *model.CrawlJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := urlHash(job.URL)
	if _, exists := m.jobsByHash[hash]; exists {
		return nil // ON CONFLICT (url_hash) DO NOTHING
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	now := time.Now()
	job.CreatedAt = now
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	m.nextJobID++
	job.ID = m.nextJobID
	cp := *job
	m.jobs[job.ID] = &cp
	m.jobsByHash[hash] = job.ID
	return nil
}

func (m *Memory) PollReady(ctx context.Context, limit int) ([]*model.CrawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var ready []*model.CrawlJob
	for _, j := range m.jobs {
		if j.Status == model.StatusPending && !j.ScheduledAt.After(now) {
			cp := *j
			ready = append(ready, &cp)
		}
	}
	sort.Slice(ready, func(i, k int) bool {
		if ready[i].Priority != ready[k].Priority {
			return ready[i].Priority > ready[k].Priority
		}
		return ready[i].ScheduledAt.Before(ready[k].ScheduledAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (m *Memory) MarkInProgress(ctx context.Context, jobID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != model.StatusPending {
		return false, nil
	}
	j.Status = model.StatusInProgress
	return true, nil
}

func (m *Memory) MarkCompleted(ctx context.Context, jobID int64, crawledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != model.StatusInProgress {
		return fmt.Errorf("store: mark completed: CAS precondition failed for job %d", jobID)
	}
	j.Status = model.StatusCompleted
	j.CrawledAt = crawledAt
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, jobID int64, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != model.StatusInProgress {
		return fmt.Errorf("store: mark failed: CAS precondition failed for job %d", jobID)
	}
	j.Status = model.StatusFailed
	j.LastError = lastError
	return nil
}

func (m *Memory) MarkBlocked(ctx context.Context, jobID int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != model.StatusInProgress {
		return fmt.Errorf("store: mark blocked: CAS precondition failed for job %d", jobID)
	}
	j.Status = model.StatusBlocked
	j.LastError = reason
	return nil
}

func (m *Memory) RequeueWithBackoff(ctx context.Context, jobID int64, lastError string, nextScheduledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != model.StatusInProgress {
		return fmt.Errorf("store: requeue with backoff: CAS precondition failed for job %d", jobID)
	}
	j.RetryCount++
	j.LastError = lastError
	if j.RetryCount > j.MaxRetries {
		j.Status = model.StatusFailed
		return nil
	}
	j.Status = model.StatusPending
	j.ScheduledAt = nextScheduledAt
	return nil
}

func (m *Memory) InsertCrawlHistory(ctx context.Context, rec *model.CrawlHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.history = append(m.history, &cp)
	return nil
}

func (m *Memory) GetDomainProfile(ctx context.Context, domain string) (*model.DomainProfile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.domains[domain]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (m *Memory) UpsertDomainProfile(ctx context.Context, profile *model.DomainProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	m.domains[profile.Domain] = &cp
	return nil
}

func (m *Memory) IncrementDomainCounters(ctx context.Context, domain string, discovered, crawled, failed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.domains[domain]
	if !ok {
		p = &model.DomainProfile{Domain: domain, DomainAuthorityScore: 0.5}
		m.domains[domain] = p
	}
	p.TotalDiscovered += discovered
	p.TotalCrawled += crawled
	p.TotalFailed += failed
	return nil
}

func (m *Memory) UpsertPageNode(ctx context.Context, node *model.PageNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node.URLHash == "" {
		node.URLHash = urlHash(node.URL)
	}
	if id, ok := m.pagesByURL[node.URL]; ok {
		existing := m.pages[id]
		existing.OutboundCount = node.OutboundCount
		node.ID = id
		return nil
	}
	m.nextPageID++
	node.ID = m.nextPageID
	cp := *node
	m.pages[node.ID] = &cp
	m.pagesByURL[node.URL] = node.ID
	return nil
}

func (m *Memory) GetPageNodeByURLHash(ctx context.Context, urlHash string) (*model.PageNode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if p.URLHash == urlHash {
			cp := *p
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (m *Memory) ReplaceOutgoingLinks(ctx context.Context, sourcePageID int64, edges []model.LinkEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[sourcePageID] = append([]model.LinkEdge(nil), edges...)
	if p, ok := m.pages[sourcePageID]; ok {
		p.OutboundCount = len(edges)
	}
	return nil
}

func (m *Memory) LoadGraph(ctx context.Context) ([]*model.PageNode, []model.LinkEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []*model.PageNode
	for _, p := range m.pages {
		cp := *p
		nodes = append(nodes, &cp)
	}
	var edges []model.LinkEdge
	for _, es := range m.links {
		edges = append(edges, es...)
	}
	return nodes, edges, nil
}

func (m *Memory) UpdatePageRank(ctx context.Context, urlHash string, score float64, calculatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if p.URLHash == urlHash {
			p.PreviousPageRank = p.PageRank
			p.PageRank = score
			p.LastCalculatedAt = calculatedAt
			return nil
		}
	}
	return fmt.Errorf("store: update pagerank: no page with hash %s", urlHash)
}

func (m *Memory) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.Status]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *Memory) TopPagesByRank(ctx context.Context, n int) ([]*model.PageNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []*model.PageNode
	for _, p := range m.pages {
		cp := *p
		nodes = append(nodes, &cp)
	}
	sort.Slice(nodes, func(i, k int) bool { return nodes[i].PageRank > nodes[k].PageRank })
	if len(nodes) > n {
		nodes = nodes[:n]
	}
	return nodes, nil
}
