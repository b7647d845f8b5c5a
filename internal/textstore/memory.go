package textstore

import (
	"context"
	"sync"
)

// Memory is an in-memory Client double for tests and the pipeline
// wiring harness.
type Memory struct {
	mu   sync.Mutex
	docs map[string]WebDocument
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]WebDocument)}
}

// Upsert stores doc keyed by URL, overwriting any prior version.
func (m *Memory) Upsert(ctx context.Context, doc WebDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.URL] = doc
	return nil
}

// Get returns the stored document for url, if any.
func (m *Memory) Get(url string) (WebDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[url]
	return doc, ok
}
