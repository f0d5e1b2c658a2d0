package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory is a deterministic, in-process reference implementation of
// Searcher, Summarizer, and Documents. It exists only for tests and the
// demo binary (cmd/mcpserver); a real deployment wires genuine vector
// search, object storage and embedding services behind the same
// interfaces. Result shapes are fixed and deterministic rather than
// randomized, so tests can assert on exact scores and counts.
type InMemory struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewInMemory returns an empty InMemory collaborator.
func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[string]*Document)}
}

// Search returns up to limit deterministic results whose score
// decreases per result, with a starting score that depends on mode
// (semantic/keyword/hybrid).
func (m *InMemory) Search(ctx context.Context, query string, limit int, threshold float64, mode SearchMode, filters map[string]any) ([]SearchResult, int, float64, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 10
	}

	max := 3
	base := 0.9
	step := 0.1
	if mode == SearchKeyword {
		max = 2
		base = 0.8
		step = 0.2
	}
	if max > limit {
		max = limit
	}

	results := make([]SearchResult, 0, max)
	for i := 0; i < max; i++ {
		score := base - float64(i)*step
		if score < threshold {
			continue
		}
		results = append(results, SearchResult{
			ID:         fmt.Sprintf("doc_%d", i+1),
			Content:    fmt.Sprintf("mock result %d for query: %s", i+1, query),
			Score:      score,
			Metadata:   map[string]any{"source": string(mode), "query": query},
			Type:       "document",
			DocumentID: fmt.Sprintf("doc_%d", i+1),
		})
	}

	if mode == SearchHybrid {
		sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}

	return results, len(results), float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// Summarize returns a deterministic fixed-confidence summary over docIDs.
func (m *InMemory) Summarize(ctx context.Context, docIDs []string, mode SummaryMode, maxLength int, language string) (string, float64, float64, error) {
	start := time.Now()
	text := fmt.Sprintf("%s summary of %d document(s)", mode, len(docIDs))
	if len(text) > maxLength && maxLength > 0 {
		text = text[:maxLength]
	}
	return text, 0.85, float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// Upload stores content in memory and assigns a new document id.
func (m *InMemory) Upload(ctx context.Context, filename string, content []byte, metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.docs[id] = &Document{
		ID:        id,
		Filename:  filename,
		Metadata:  metadata,
		Status:    StatusCompleted,
		SizeBytes: len(content),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return id, nil
}

// List returns a page of documents, oldest first, honoring limit/offset.
func (m *InMemory) List(ctx context.Context, limit, offset int, filters map[string]any) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })

	if offset >= len(all) {
		return []Document{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Get returns the document for id, or nil if it does not exist.
func (m *InMemory) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	copyDoc := *d
	return &copyDoc, nil
}

// Delete removes the document for id, reporting whether it existed.
func (m *InMemory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	delete(m.docs, id)
	return true, nil
}

// Status returns the document's processing status.
func (m *InMemory) Status(ctx context.Context, id string) (ProcessingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return "", fmt.Errorf("document not found: %s", id)
	}
	return d.Status, nil
}
