package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/crawlcore/ingestion/internal/model"
)

// Postgres implements Store over database/sql with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection with a ping.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an already-opened *sql.DB, for callers that manage
// the pool themselves (tests against a real database, connection
// pooling tuned by cmd/ingestor).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) InsertCrawlJob(ctx context.Context, job *model.CrawlJob) error {
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
	hash := urlHash(job.URL)
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO crawl_urls
			(url, url_hash, normalized_url, domain, status, priority, depth,
			 max_depth, retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $1, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		ON CONFLICT (url_hash) DO NOTHING
		RETURNING id
	`, job.URL, hash, job.Domain, job.Status, job.Priority, job.Depth,
		job.MaxDepth, job.MaxRetries, job.ScheduledAt, job.CreatedAt,
	).Scan(&job.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// ON CONFLICT DO NOTHING returns no row; the URL was already
		// enqueued, so this is the successful dedup case, not a failure
		// (store.Memory.InsertCrawlJob treats the same case as a no-op).
		return p.db.QueryRowContext(ctx,
			`SELECT id FROM crawl_urls WHERE url_hash = $1`, hash,
		).Scan(&job.ID)
	}
	return err
}

func (p *Postgres) PollReady(ctx context.Context, limit int) ([]*model.CrawlJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, url, domain, depth, max_depth, status, priority, retry_count,
		       max_retries, created_at, scheduled_at, crawled_at, last_error
		FROM crawl_urls
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $3
	`, model.StatusPending, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: poll ready: %w", err)
	}
	defer rows.Close()

	var jobs []*model.CrawlJob
	for rows.Next() {
		j := &model.CrawlJob{}
		var crawledAt sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(&j.ID, &j.URL, &j.Domain, &j.Depth, &j.MaxDepth, &j.Status, &j.Priority,
			&j.RetryCount, &j.MaxRetries, &j.CreatedAt, &j.ScheduledAt, &crawledAt, &lastError); err != nil {
			return nil, fmt.Errorf("store: scan crawl job: %w", err)
		}
		if crawledAt.Valid {
			j.CrawledAt = crawledAt.Time
		}
		if lastError.Valid {
			j.LastError = lastError.String
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) MarkInProgress(ctx context.Context, jobID int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE crawl_urls SET status = $1 WHERE id = $2 AND status = $3
	`, model.StatusInProgress, jobID, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("store: mark in progress: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) MarkCompleted(ctx context.Context, jobID int64, crawledAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE crawl_urls SET status = $1, crawled_at = $2
		WHERE id = $3 AND status = $4
	`, model.StatusCompleted, crawledAt, jobID, model.StatusInProgress)
	return casErr(res, err, "mark completed")
}

func (p *Postgres) MarkFailed(ctx context.Context, jobID int64, lastError string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE crawl_urls SET status = $1, last_error = $2
		WHERE id = $3 AND status = $4
	`, model.StatusFailed, lastError, jobID, model.StatusInProgress)
	return casErr(res, err, "mark failed")
}

func (p *Postgres) MarkBlocked(ctx context.Context, jobID int64, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE crawl_urls SET status = $1, last_error = $2
		WHERE id = $3 AND status = $4
	`, model.StatusBlocked, reason, jobID, model.StatusInProgress)
	return casErr(res, err, "mark blocked")
}

func (p *Postgres) RequeueWithBackoff(ctx context.Context, jobID int64, lastError string, nextScheduledAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE crawl_urls SET
			status = CASE WHEN retry_count + 1 > max_retries THEN $1 ELSE $2 END,
			retry_count = retry_count + 1,
			scheduled_at = $3,
			last_error = $4
		WHERE id = $5 AND status = $6
	`, model.StatusFailed, model.StatusPending, nextScheduledAt, lastError, jobID, model.StatusInProgress)
	return casErr(res, err, "requeue with backoff")
}

func casErr(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	if n != 1 {
		return fmt.Errorf("store: %s: CAS precondition failed, no row updated", op)
	}
	return nil
}

func (p *Postgres) InsertCrawlHistory(ctx context.Context, rec *model.CrawlHistoryRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO crawl_history
			(crawl_url_id, url, status_code, content_type, content_size_bytes,
			 content_hash, crawled_at, duration_ms, outbound_links_count,
			 error_message, error_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.JobID, rec.URL, rec.StatusCode, rec.ContentType, rec.ByteSize, rec.ContentHash,
		rec.CrawledAt, rec.Duration.Milliseconds(), rec.LinkCount, rec.Error, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("store: insert crawl history for %s: %w", rec.URL, err)
	}
	return nil
}

func (p *Postgres) GetDomainProfile(ctx context.Context, domain string) (*model.DomainProfile, bool, error) {
	prof := &model.DomainProfile{Domain: domain}
	var robotsFetchedAt, robotsExpiresAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT robots_txt_content, robots_txt_fetched_at, robots_txt_expires_at,
		       crawl_delay_seconds, total_urls_discovered, total_urls_crawled,
		       total_urls_failed, domain_authority_score
		FROM domain_metadata WHERE domain = $1
	`, domain).Scan(&prof.RobotsTxtBody, &robotsFetchedAt, &robotsExpiresAt,
		&prof.CrawlDelaySeconds, &prof.TotalDiscovered, &prof.TotalCrawled,
		&prof.TotalFailed, &prof.DomainAuthorityScore)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get domain profile for %s: %w", domain, err)
	}
	prof.RobotsTxtFetchedAt = robotsFetchedAt.Time
	prof.RobotsTxtExpiresAt = robotsExpiresAt.Time
	return prof, true, nil
}

func (p *Postgres) UpsertDomainProfile(ctx context.Context, profile *model.DomainProfile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO domain_metadata
			(domain, robots_txt_content, robots_txt_fetched_at, robots_txt_expires_at,
			 crawl_delay_seconds, domain_authority_score)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain) DO UPDATE SET
			robots_txt_content = EXCLUDED.robots_txt_content,
			robots_txt_fetched_at = EXCLUDED.robots_txt_fetched_at,
			robots_txt_expires_at = EXCLUDED.robots_txt_expires_at,
			crawl_delay_seconds = EXCLUDED.crawl_delay_seconds,
			domain_authority_score = EXCLUDED.domain_authority_score
	`, profile.Domain, profile.RobotsTxtBody, profile.RobotsTxtFetchedAt, profile.RobotsTxtExpiresAt,
		profile.CrawlDelaySeconds, profile.DomainAuthorityScore)
	if err != nil {
		return fmt.Errorf("store: upsert domain profile for %s: %w", profile.Domain, err)
	}
	return nil
}

func (p *Postgres) IncrementDomainCounters(ctx context.Context, domain string, discovered, crawled, failed int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO domain_metadata (domain, total_urls_discovered, total_urls_crawled, total_urls_failed, last_crawl_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain) DO UPDATE SET
			total_urls_discovered = domain_metadata.total_urls_discovered + EXCLUDED.total_urls_discovered,
			total_urls_crawled = domain_metadata.total_urls_crawled + EXCLUDED.total_urls_crawled,
			total_urls_failed = domain_metadata.total_urls_failed + EXCLUDED.total_urls_failed,
			last_crawl_at = EXCLUDED.last_crawl_at
	`, domain, discovered, crawled, failed, time.Now())
	if err != nil {
		return fmt.Errorf("store: increment domain counters for %s: %w", domain, err)
	}
	return nil
}

func (p *Postgres) UpsertPageNode(ctx context.Context, node *model.PageNode) error {
	if node.URLHash == "" {
		node.URLHash = urlHash(node.URL)
	}
	return p.db.QueryRowContext(ctx, `
		INSERT INTO page_graph (url, url_hash, inbound_links_count, outbound_links_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url_hash) DO UPDATE SET
			outbound_links_count = EXCLUDED.outbound_links_count
		RETURNING id
	`, node.URL, node.URLHash, node.InboundCount, node.OutboundCount).Scan(&node.ID)
}

func (p *Postgres) GetPageNodeByURLHash(ctx context.Context, urlHash string) (*model.PageNode, bool, error) {
	n := &model.PageNode{URLHash: urlHash}
	var lastCalc sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, url, pagerank_score, previous_score, inbound_links_count,
		       outbound_links_count, last_calculated_at
		FROM page_graph WHERE url_hash = $1
	`, urlHash).Scan(&n.ID, &n.URL, &n.PageRank, &n.PreviousPageRank, &n.InboundCount,
		&n.OutboundCount, &lastCalc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get page node %s: %w", urlHash, err)
	}
	n.LastCalculatedAt = lastCalc.Time
	return n, true, nil
}

func (p *Postgres) ReplaceOutgoingLinks(ctx context.Context, sourcePageID int64, edges []model.LinkEdge) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace links tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM page_links WHERE source_page_id = $1`, sourcePageID); err != nil {
		return fmt.Errorf("store: delete existing links: %w", err)
	}
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_links (source_page_id, target_page_id, anchor_text)
			VALUES ($1, $2, $3)
			ON CONFLICT (source_page_id, target_page_id) DO UPDATE SET anchor_text = EXCLUDED.anchor_text
		`, sourcePageID, e.TargetPageID, e.AnchorText); err != nil {
			return fmt.Errorf("store: insert link edge: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE page_graph SET outbound_links_count = $1 WHERE id = $2
	`, len(edges), sourcePageID); err != nil {
		return fmt.Errorf("store: update outbound count: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) LoadGraph(ctx context.Context) ([]*model.PageNode, []model.LinkEdge, error) {
	nodeRows, err := p.db.QueryContext(ctx, `
		SELECT id, url, url_hash, pagerank_score, previous_score, inbound_links_count, outbound_links_count
		FROM page_graph
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load page nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []*model.PageNode
	for nodeRows.Next() {
		n := &model.PageNode{}
		if err := nodeRows.Scan(&n.ID, &n.URL, &n.URLHash, &n.PageRank, &n.PreviousPageRank,
			&n.InboundCount, &n.OutboundCount); err != nil {
			return nil, nil, fmt.Errorf("store: scan page node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := p.db.QueryContext(ctx, `SELECT source_page_id, target_page_id, anchor_text FROM page_links`)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load page links: %w", err)
	}
	defer edgeRows.Close()

	var edges []model.LinkEdge
	for edgeRows.Next() {
		var e model.LinkEdge
		if err := edgeRows.Scan(&e.SourcePageID, &e.TargetPageID, &e.AnchorText); err != nil {
			return nil, nil, fmt.Errorf("store: scan page link: %w", err)
		}
		edges = append(edges, e)
	}
	return nodes, edges, edgeRows.Err()
}

func (p *Postgres) UpdatePageRank(ctx context.Context, urlHash string, score float64, calculatedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE page_graph SET previous_score = pagerank_score, pagerank_score = $1, last_calculated_at = $2
		WHERE url_hash = $3
	`, score, calculatedAt, urlHash)
	if err != nil {
		return fmt.Errorf("store: update pagerank for %s: %w", urlHash, err)
	}
	return nil
}

func (p *Postgres) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int64)
	for rows.Next() {
		var status model.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (p *Postgres) TopPagesByRank(ctx context.Context, n int) ([]*model.PageNode, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, url, url_hash, pagerank_score, previous_score, inbound_links_count, outbound_links_count
		FROM page_graph ORDER BY pagerank_score DESC LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("store: top pages by rank: %w", err)
	}
	defer rows.Close()

	var out []*model.PageNode
	for rows.Next() {
		node := &model.PageNode{}
		if err := rows.Scan(&node.ID, &node.URL, &node.URLHash, &node.PageRank, &node.PreviousPageRank,
			&node.InboundCount, &node.OutboundCount); err != nil {
			return nil, fmt.Errorf("store: scan top page: %w", err)
		}
		out = append(out, node)
	}
	return out, rows.Err()
}
