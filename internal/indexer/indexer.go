// Package indexer implements §4.9: the consumer group that turns
// ContentEvents from the pages bus topic into tokenized WebDocuments in
// the external full-text store and PageNode/LinkEdge rows in the state
// store.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/crawlcore/ingestion/internal/bus"
	"github.com/crawlcore/ingestion/internal/dedup"
	"github.com/crawlcore/ingestion/internal/model"
	"github.com/crawlcore/ingestion/internal/store"
	"github.com/crawlcore/ingestion/internal/textstore"
	"github.com/crawlcore/ingestion/internal/tokenize"
)

// Indexer is one worker in the §4.9 consumer group.
type Indexer struct {
	store     store.Store
	textstore textstore.Client
	log       *slog.Logger
}

// New creates an Indexer over st and ts.
func New(st store.Store, ts textstore.Client) *Indexer {
	return &Indexer{store: st, textstore: ts, log: slog.Default()}
}

// Run consumes ContentEvents from the bus under group until ctx is
// cancelled.
func (ix *Indexer) Run(ctx context.Context, b bus.Consumer, group string) error {
	return b.Consume(ctx, bus.TopicPages, group, ix.handle)
}

// handle tokenizes event.Text, writes the WebDocument, then upserts the
// source PageNode and its outgoing LinkEdges, creating stub PageNodes
// for not-yet-crawled targets so the page_links FK invariant holds.
func (ix *Indexer) handle(ctx context.Context, msg bus.Message) error {
	var event model.ContentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		ix.log.Error("indexer: malformed content event", "error", err)
		return nil // poison message
	}

	tokens := tokenize.Tokenize(event.Text)
	doc := textstore.WebDocument{
		URL:             event.URL,
		Title:           event.Title,
		MetaDescription: event.MetaDesc,
		Content:         event.Text,
		Tokens:          tokens,
		OutboundLinks:   event.OutboundLinks,
		Language:        event.Language,
		ContentHash:     event.ContentSHA256,
		CrawledAt:       event.CrawledAt,
		SizeBytes:       event.HTMLLen,
	}
	if err := ix.textstore.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("indexer: textstore upsert %s: %w", event.URL, err)
	}

	source := &model.PageNode{
		URL:           event.URL,
		URLHash:       dedup.URLHash(event.URL),
		OutboundCount: len(event.OutboundLinks),
	}
	if err := ix.store.UpsertPageNode(ctx, source); err != nil {
		return fmt.Errorf("indexer: upsert page node %s: %w", event.URL, err)
	}

	edges := make([]model.LinkEdge, 0, len(event.OutboundLinks))
	for _, link := range event.OutboundLinks {
		targetID, err := ix.resolveOrStubTarget(ctx, link)
		if err != nil {
			return fmt.Errorf("indexer: resolve target %s: %w", link, err)
		}
		edges = append(edges, model.LinkEdge{SourcePageID: source.ID, TargetPageID: targetID})
	}
	if err := ix.store.ReplaceOutgoingLinks(ctx, source.ID, edges); err != nil {
		return fmt.Errorf("indexer: replace outgoing links for %s: %w", event.URL, err)
	}
	return nil
}

// resolveOrStubTarget returns the PageNode id for link, creating a
// zero-score stub row if link has not been crawled yet, so that every
// LinkEdge's target PageNode exists per §3's invariant.
func (ix *Indexer) resolveOrStubTarget(ctx context.Context, link string) (int64, error) {
	hash := dedup.URLHash(link)
	if node, ok, err := ix.store.GetPageNodeByURLHash(ctx, hash); err != nil {
		return 0, err
	} else if ok {
		return node.ID, nil
	}
	stub := &model.PageNode{URL: link, URLHash: hash}
	if err := ix.store.UpsertPageNode(ctx, stub); err != nil {
		return 0, err
	}
	return stub.ID, nil
}
