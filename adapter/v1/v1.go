// Package v1 implements the fixed protocol version "1.0" tool surface:
// search, summarize, document upload, list, get, and delete.
package v1

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/SubbaMooney/vibecoding-demo/adapter"
	"github.com/SubbaMooney/vibecoding-demo/logx"
	"github.com/SubbaMooney/vibecoding-demo/protocol"
	"github.com/SubbaMooney/vibecoding-demo/rag"
)

const version = "1.0"

var toolNames = []string{
	"rag_search",
	"rag_summarize",
	"document_upload",
	"document_list",
	"document_get",
	"document_delete",
}

// Adapter is the version-1 tool handler, dispatching to the RAG
// collaborators over a background context. Tool calls have no
// protocol-level timeout; a caller enforces timeouts by closing the
// transport.
type Adapter struct {
	Search     rag.Searcher
	Summarizer rag.Summarizer
	Documents  rag.Documents
	log        logx.Logger
}

// New builds a v1 Adapter over the given collaborators, logging dispatch
// outcomes through log (a nil log is replaced with logx.Noop{}).
func New(search rag.Searcher, summarizer rag.Summarizer, documents rag.Documents, log logx.Logger) *Adapter {
	if log == nil {
		log = logx.Noop{}
	}
	return &Adapter{Search: search, Summarizer: summarizer, Documents: documents, log: log}
}

// Version returns "1.0".
func (a *Adapter) Version() string { return version }

// Tools returns the fixed six-tool surface.
func (a *Adapter) Tools() []string {
	out := make([]string, len(toolNames))
	copy(out, toolNames)
	return out
}

// ToolSchema describes a tool's parameter contract for introspection.
// The dispatch implementation below performs the authoritative
// validation inline; this schema is descriptive, not enforced.
func (a *Adapter) ToolSchema(name string) (adapter.ToolSchema, bool) {
	schema, ok := schemas[name]
	return schema, ok
}

var schemas = map[string]adapter.ToolSchema{
	"rag_search": {
		Name:        "rag_search",
		Description: "Search indexed documents by query.",
		Parameters: []adapter.Field{
			{Name: "query", Type: "string", Required: true, Description: "Search query text"},
			{Name: "limit", Type: "integer", Description: "Maximum number of results to return (default 10)"},
			{Name: "threshold", Type: "number", Description: "Minimum similarity score threshold (default 0.7)"},
			{Name: "search_type", Type: "string", Enum: []string{"semantic", "keyword", "hybrid"}, Description: "Type of search to perform (default semantic)"},
			{Name: "filters", Type: "object", Description: "Additional filters to apply"},
		},
	},
	"rag_summarize": {
		Name:        "rag_summarize",
		Description: "Generate a summary across one or more documents.",
		Parameters: []adapter.Field{
			{Name: "document_ids", Type: "array", Required: true, Description: "List of document IDs to summarize"},
			{Name: "summary_type", Type: "string", Enum: []string{"extractive", "abstractive", "key_points"}, Description: "Type of summary to generate (default extractive)"},
			{Name: "max_length", Type: "integer", Description: "Maximum length of summary in characters (default 500)"},
			{Name: "language", Type: "string", Description: "Language for the summary (default en)"},
		},
	},
	"document_upload": {
		Name:        "document_upload",
		Description: "Upload a new document.",
		Parameters: []adapter.Field{
			{Name: "filename", Type: "string", Required: true},
			{Name: "content", Type: "string", Required: true, Description: "Base64-encoded document content"},
			{Name: "metadata", Type: "object"},
		},
	},
	"document_list": {
		Name:        "document_list",
		Description: "List documents with pagination.",
		Parameters: []adapter.Field{
			{Name: "limit", Type: "integer", Description: "default 50"},
			{Name: "offset", Type: "integer", Description: "default 0"},
			{Name: "filters", Type: "object"},
		},
	},
	"document_get": {
		Name:        "document_get",
		Description: "Fetch a document by id.",
		Parameters:  []adapter.Field{{Name: "document_id", Type: "string", Required: true}},
	},
	"document_delete": {
		Name:        "document_delete",
		Description: "Delete a document by id.",
		Parameters:  []adapter.Field{{Name: "document_id", Type: "string", Required: true}},
	},
}

// Dispatch executes tool_name with parameters, returning a result map or
// a *protocol.Error: missing required parameters -> InvalidArgument,
// unknown tool -> UnsupportedTool, unexpected faults ->
// TOOL_EXECUTION_ERROR.
func (a *Adapter) Dispatch(toolName string, parameters map[string]any) (map[string]any, error) {
	ctx := context.Background()
	var result map[string]any
	var err error

	switch toolName {
	case "rag_search":
		result, err = a.handleSearch(ctx, parameters)
	case "rag_summarize":
		result, err = a.handleSummarize(ctx, parameters)
	case "document_upload":
		result, err = a.handleUpload(ctx, parameters)
	case "document_list":
		result, err = a.handleList(ctx, parameters)
	case "document_get":
		result, err = a.handleGet(ctx, parameters)
	case "document_delete":
		result, err = a.handleDelete(ctx, parameters)
	default:
		err = protocol.NewUnsupportedTool(toolName)
	}

	if err != nil {
		a.log.Warn("tool %s dispatch failed: %v", toolName, err)
	} else {
		a.log.Debug("tool %s dispatched", toolName)
	}
	return result, err
}

type searchParams struct {
	Query      string         `mapstructure:"query"`
	Limit      int            `mapstructure:"limit"`
	Threshold  float64        `mapstructure:"threshold"`
	SearchType string         `mapstructure:"search_type"`
	Filters    map[string]any `mapstructure:"filters"`
}

func (a *Adapter) handleSearch(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	if _, ok := parameters["query"]; !ok {
		return nil, protocol.NewInvalidArgument("missing required parameter: query")
	}
	p := searchParams{Limit: 10, Threshold: 0.7, SearchType: "semantic"}
	if err := decode(parameters, &p); err != nil {
		return nil, protocol.NewInvalidArgument(err.Error())
	}

	results, total, procTime, err := a.Search.Search(ctx, p.Query, p.Limit, p.Threshold, rag.SearchMode(p.SearchType), p.Filters)
	if err != nil {
		return nil, protocol.AsError(err)
	}

	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{
			"id":          r.ID,
			"content":     r.Content,
			"score":       r.Score,
			"metadata":    r.Metadata,
			"type":        r.Type,
			"document_id": r.DocumentID,
		})
	}

	return map[string]any{
		"results":            items,
		"total_results":      total,
		"processing_time_ms": procTime,
		"query_metadata": map[string]any{
			"original_query": p.Query,
			"search_type":    p.SearchType,
			"threshold":      p.Threshold,
		},
	}, nil
}

type summarizeParams struct {
	DocumentIDs []string `mapstructure:"document_ids"`
	SummaryType string   `mapstructure:"summary_type"`
	MaxLength   int      `mapstructure:"max_length"`
	Language    string   `mapstructure:"language"`
}

func (a *Adapter) handleSummarize(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	raw, ok := parameters["document_ids"]
	if !ok {
		return nil, protocol.NewInvalidArgument("missing required parameter: document_ids")
	}
	if _, isList := raw.([]any); !isList {
		if _, isStrList := raw.([]string); !isStrList {
			return nil, protocol.NewInvalidArgument("document_ids must be a list")
		}
	}

	p := summarizeParams{SummaryType: "extractive", MaxLength: 500, Language: "en"}
	if err := decode(parameters, &p); err != nil {
		return nil, protocol.NewInvalidArgument(err.Error())
	}

	text, confidence, procTime, err := a.Summarizer.Summarize(ctx, p.DocumentIDs, rag.SummaryMode(p.SummaryType), p.MaxLength, p.Language)
	if err != nil {
		return nil, protocol.AsError(err)
	}

	return map[string]any{
		"summary":             text,
		"summary_type":        p.SummaryType,
		"source_documents":    p.DocumentIDs,
		"confidence_score":    confidence,
		"processing_time_ms":  procTime,
	}, nil
}

type uploadParams struct {
	Filename string         `mapstructure:"filename"`
	Content  string         `mapstructure:"content"`
	Metadata map[string]any `mapstructure:"metadata"`
}

func (a *Adapter) handleUpload(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	if _, ok := parameters["filename"]; !ok {
		return nil, protocol.NewInvalidArgument("missing required parameter: filename")
	}
	if _, ok := parameters["content"]; !ok {
		return nil, protocol.NewInvalidArgument("missing required parameter: content")
	}

	var p uploadParams
	if err := decode(parameters, &p); err != nil {
		return nil, protocol.NewInvalidArgument(err.Error())
	}

	content, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		return nil, protocol.NewInvalidArgument("invalid base64 content: " + err.Error())
	}

	id, err := a.Documents.Upload(ctx, p.Filename, content, p.Metadata)
	if err != nil {
		return nil, protocol.AsError(err)
	}

	return map[string]any{
		"document_id": id,
		"status":      "uploaded",
		"filename":    p.Filename,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

type listParams struct {
	Limit   int            `mapstructure:"limit"`
	Offset  int            `mapstructure:"offset"`
	Filters map[string]any `mapstructure:"filters"`
}

func (a *Adapter) handleList(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	p := listParams{Limit: 50, Offset: 0}
	if err := decode(parameters, &p); err != nil {
		return nil, protocol.NewInvalidArgument(err.Error())
	}

	docs, err := a.Documents.List(ctx, p.Limit, p.Offset, p.Filters)
	if err != nil {
		return nil, protocol.AsError(err)
	}

	items := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		items = append(items, map[string]any{
			"id":                d.ID,
			"filename":          d.Filename,
			"created_at":        d.CreatedAt,
			"size_bytes":        d.SizeBytes,
			"processing_status": string(d.Status),
			"metadata":          d.Metadata,
		})
	}

	return map[string]any{
		"documents":   items,
		"total_count": len(items),
		"limit":       p.Limit,
		"offset":      p.Offset,
	}, nil
}

type documentIDParams struct {
	DocumentID string `mapstructure:"document_id"`
}

func (a *Adapter) handleGet(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	if _, ok := parameters["document_id"]; !ok {
		return nil, protocol.NewInvalidArgument("missing required parameter: document_id")
	}
	var p documentIDParams
	if err := decode(parameters, &p); err != nil {
		return nil, protocol.NewInvalidArgument(err.Error())
	}

	doc, err := a.Documents.Get(ctx, p.DocumentID)
	if err != nil {
		return nil, protocol.AsError(err)
	}
	if doc == nil {
		return nil, protocol.NewError("DOCUMENT_NOT_FOUND", "document not found: "+p.DocumentID)
	}

	status, err := a.Documents.Status(ctx, p.DocumentID)
	if err != nil {
		status = doc.Status
	}

	return map[string]any{
		"document": map[string]any{
			"id":                doc.ID,
			"filename":          doc.Filename,
			"created_at":        doc.CreatedAt,
			"size_bytes":        doc.SizeBytes,
			"processing_status": string(doc.Status),
			"status":            string(status),
			"metadata":          doc.Metadata,
		},
	}, nil
}

func (a *Adapter) handleDelete(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	if _, ok := parameters["document_id"]; !ok {
		return nil, protocol.NewInvalidArgument("missing required parameter: document_id")
	}
	var p documentIDParams
	if err := decode(parameters, &p); err != nil {
		return nil, protocol.NewInvalidArgument(err.Error())
	}

	success, err := a.Documents.Delete(ctx, p.DocumentID)
	if err != nil {
		return nil, protocol.AsError(err)
	}

	return map[string]any{
		"success":     success,
		"document_id": p.DocumentID,
		"deleted_at":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func decode(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
