// Package rag defines the narrow external-collaborator interfaces the
// protocol core dispatches through. The RAG domain itself — vector
// search, storage, embeddings, chunking — is out of scope; this package
// only names the operations the v1 adapter needs.
package rag

import "context"

// SearchMode selects the search strategy.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchKeyword  SearchMode = "keyword"
	SearchHybrid   SearchMode = "hybrid"
)

// SearchResult is one hit returned by Search.
type SearchResult struct {
	ID         string
	Content    string
	Score      float64
	Metadata   map[string]any
	Type       string
	DocumentID string
}

// Searcher performs document search.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, threshold float64, mode SearchMode, filters map[string]any) (results []SearchResult, total int, processingTimeMS float64, err error)
}

// SummaryMode selects the summarization strategy.
type SummaryMode string

const (
	SummaryExtractive  SummaryMode = "extractive"
	SummaryAbstractive SummaryMode = "abstractive"
	SummaryKeyPoints   SummaryMode = "key_points"
)

// Summarizer generates a summary across one or more documents.
type Summarizer interface {
	Summarize(ctx context.Context, docIDs []string, mode SummaryMode, maxLength int, language string) (text string, confidence float64, processingTimeMS float64, err error)
}

// ProcessingStatus is a document's current processing state.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Document is a stored document's metadata and status.
type Document struct {
	ID        string
	Filename  string
	Metadata  map[string]any
	Status    ProcessingStatus
	SizeBytes int
	CreatedAt string
}

// Documents is the external collaborator for document lifecycle
// operations.
type Documents interface {
	Upload(ctx context.Context, filename string, content []byte, metadata map[string]any) (id string, err error)
	List(ctx context.Context, limit, offset int, filters map[string]any) ([]Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (ProcessingStatus, error)
}
