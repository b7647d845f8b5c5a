// Package linkingestor implements §4.8: the consumer group that turns
// LinkDiscoveryEvents from the new-links bus topic into PENDING CrawlJobs
// on the Frontier, applying depth cutoff, normalization and URL dedup
// before a job is ever created.
package linkingestor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/dedup"
	"github.com/crawlcore/ingestion/internal/frontier"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/urlnorm"
)

const defaultMaxDepth = 3

// Ingestor is one worker in the §4.8 consumer group.
type Ingestor struct {
	frontier *frontier.Frontier
	urlDedup *dedup.URLDedup
	maxDepth int
	log      *slog.Logger
}

// New creates an Ingestor. maxDepth <= 0 falls back to the default hard
// drop depth of 3.
func New(f *frontier.Frontier, urlDedup *dedup.URLDedup, maxDepth int) *Ingestor {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Ingestor{frontier: f, urlDedup: urlDedup, maxDepth: maxDepth, log: slog.Default()}
}

// Run consumes LinkDiscoveryEvents from the bus under group until ctx is
// cancelled.
func (i *Ingestor) Run(ctx context.Context, b bus.Consumer, group string) error {
	return b.Consume(ctx, bus.TopicNewLinks, group, i.handle)
}

// handle implements §4.8's per-event rules in order: depth cutoff,
// normalization, dedup, priority scoring, frontier insert, mark-seen.
func (i *Ingestor) handle(ctx context.Context, msg bus.Message) error {
	var event model.LinkDiscoveryEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		i.log.Error("linkingestor: malformed link discovery event", "error", err)
		return nil // poison message
	}

	if event.Depth > i.maxDepth {
		return nil
	}

	canonical, err := urlnorm.Normalize(event.URL)
	if err != nil {
		return nil // InvalidUrl is non-retryable: drop and ack
	}

	domain, err := urlnorm.RegistrableDomain(canonical)
	if err != nil {
		return nil
	}

	seen, err := i.urlDedup.Check(ctx, canonical)
	if err != nil {
		return err // StoreUnavailable-shaped: let the bus redeliver
	}
	if seen {
		return nil // DedupDuplicate is non-retryable: drop and ack
	}

	authority := frontier.DomainAuthority(domain)
	in := frontier.ScoreInput{
		URL:             canonical,
		Depth:           event.Depth,
		DomainAuthority: authority,
		Cash:            1.0,
	}
	if _, err := i.frontier.Enqueue(ctx, canonical, domain, event.Depth, i.maxDepth, in); err != nil {
		return err
	}

	if err := i.urlDedup.MarkSeen(ctx, canonical); err != nil {
		return err
	}
	return nil
}
