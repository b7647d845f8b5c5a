// Package model holds the ingestion core's logical entities as single
// in-memory structs. Store and bus adapters convert to their wire/row
// representations at the edges only; nothing else in the module should
// need a second DTO layer for the same concept.
package model

import "time"

// Status is a CrawlJob's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusBlocked    Status = "BLOCKED"
)

// CrawlJob is a unit of frontier work: one URL's lifecycle from discovery
// to a terminal state.
type CrawlJob struct {
	ID          int64
	URL         string
	Domain      string
	Depth       int
	MaxDepth    int
	Status      Status
	Priority    float64
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	ScheduledAt time.Time
	CrawledAt   time.Time
	LastError   string
}

// DomainProfile is the per-registrable-domain politeness and authority
// record.
type DomainProfile struct {
	Domain               string
	RobotsTxtBody        string
	RobotsTxtFetchedAt   time.Time
	RobotsTxtExpiresAt   time.Time
	CrawlDelaySeconds    float64
	DisallowedPaths      []string
	SitemapURLs          []string
	TotalDiscovered      int64
	TotalCrawled         int64
	TotalFailed          int64
	AvgResponseTime      time.Duration
	DomainAuthorityScore float64
}

// LinkEdge is an immutable (source, target) edge discovered while parsing
// a page.
type LinkEdge struct {
	SourcePageID int64
	TargetPageID int64
	AnchorText   string
}

// PageNode is a page that has completed crawling at least once.
type PageNode struct {
	ID               int64
	URL              string
	URLHash          string
	PageRank         float64
	PreviousPageRank float64
	InboundCount     int
	OutboundCount    int
	LastCalculatedAt time.Time
}

// CrawlHistoryRecord is an append-only record of a terminal fetch outcome.
type CrawlHistoryRecord struct {
	JobID             int64
	URL               string
	StatusCode        int
	ContentType       string
	ByteSize          int
	ContentHash       string
	Duration          time.Duration
	LinkCount         int
	Error             string
	ErrorType         string
	DuplicateOf       string
	CrawledAt         time.Time
}

// FetchRequest is the payload published to the crawl-requests bus topic.
type FetchRequest struct {
	JobID      int64     `json:"jobId"`
	URL        string    `json:"url"`
	Domain     string    `json:"domain"`
	Depth      int       `json:"depth"`
	MaxDepth   int       `json:"maxDepth"`
	Priority   float64   `json:"priority"`
	RetryCount int       `json:"retryCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// ContentEvent is the payload published to the pages bus topic.
type ContentEvent struct {
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	MetaDesc       string    `json:"metaDescription"`
	Text           string    `json:"text"`
	HTMLLen        int       `json:"htmlLen"`
	OutboundLinks  []string  `json:"outboundLinks"`
	StatusCode     int       `json:"statusCode"`
	ContentType    string    `json:"contentType"`
	Language       string    `json:"language"`
	CrawledAt      time.Time `json:"crawledAt"`
	ContentSHA256  string    `json:"contentSha256"`
}

// LinkDiscoveryEvent is the payload published to the new-links bus topic,
// one per outbound link found while parsing a page.
type LinkDiscoveryEvent struct {
	URL           string    `json:"url"`
	SourceURL     string    `json:"sourceUrl"`
	Domain        string    `json:"domain"`
	Anchor        string    `json:"anchor"`
	Depth         int       `json:"depth"`
	IsMainContent bool      `json:"isMainContent"`
	DiscoveredAt  time.Time `json:"discoveredAt"`
}
