// Package textstore defines the external full-text store contract of
// §6: the WebDocument an Indexer writes, and a Client interface with an
// HTTP implementation (the store itself is out of scope; only the
// client-side contract lives here).
package textstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebDocument is the document shape §4.9 specifies for the full-text
// store: {url, title, metaDescription, content, tokens, outboundLinks,
// language, contentHash, crawledAt, sizeBytes}.
type WebDocument struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"metaDescription"`
	Content         string    `json:"content"`
	Tokens          []string  `json:"tokens"`
	OutboundLinks   []string  `json:"outboundLinks"`
	Language        string    `json:"language"`
	ContentHash     string    `json:"contentHash"`
	CrawledAt       time.Time `json:"crawledAt"`
	SizeBytes       int       `json:"sizeBytes"`
}

// Client is the surface the Indexer needs from the external full-text
// store: an idempotent upsert by URL hash.
type Client interface {
	Upsert(ctx context.Context, doc WebDocument) error
}

// HTTPClient implements Client by PUTting the document to a configurable
// base URL, matching the contract's "accepts {..}" shape from §4.9.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient targeting baseURL (e.g.
// "http://textstore.internal/documents").
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, http: httpClient}
}

// Upsert PUTs doc to baseURL/<url-hash-free path>; the server is
// expected to key documents by URL, matching §4.9's "idempotent by URL
// hash" requirement on the write side.
func (c *HTTPClient) Upsert(ctx context.Context, doc WebDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("textstore: marshal document for %s: %w", doc.URL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("textstore: build request for %s: %w", doc.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("textstore: upsert %s: %w", doc.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("textstore: upsert %s: status %d", doc.URL, resp.StatusCode)
	}
	return nil
}
