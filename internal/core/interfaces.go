package core

import "context"

// EmbedService turns text into fixed-length dense vectors. Implementations
// degrade to a zero vector on service failure so downstream ranking keeps
// working with similarity ~0 instead of aborting the whole query.
type EmbedService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the configured output size of the service.
	Dimension() int
}

// SearchQuery carries the index-side predicates for one search leg.
type SearchQuery struct {
	// Text is the raw query for keyword search legs.
	Text string
	// Vector is the query embedding for vector search legs.
	Vector []float32
	// TopK bounds the number of hits per leg.
	TopK int
	// Filter is an index-side filter expression; empty means unfiltered.
	Filter string
}

// SearchStore is the outbound boundary to the managed search index.
// Scores returned by both legs are normalized into [0,1].
type SearchStore interface {
	// Upsert writes chunks by ID, replacing any existing rows.
	Upsert(ctx context.Context, chunks []Chunk) error
	// DeleteBySource removes every chunk belonging to a source document.
	DeleteBySource(ctx context.Context, sourceID string) error
	// VectorSearch runs nearest-neighbour search over chunk embeddings.
	VectorSearch(ctx context.Context, q SearchQuery) ([]RankedResult, error)
	// KeywordSearch runs full-text search over chunk content.
	KeywordSearch(ctx context.Context, q SearchQuery) ([]RankedResult, error)
	// FilterSearch returns chunks matching a metadata filter with no
	// similarity ranking.
	FilterSearch(ctx context.Context, filter string, topK int) ([]RankedResult, error)
}

// CompletionService is the outbound boundary to the LLM completion API.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a chat-style completion call.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	History      []ConversationTurn
	MaxTokens    int
	Temperature  float64
}

// HistoryStore keeps bounded per-session conversation context. Appends for
// the same session are serialized; sessions are otherwise independent.
type HistoryStore interface {
	AddTurn(sessionID string, role Role, content string, metadata map[string]interface{})
	GetContext(sessionID string, maxTurns int) []ConversationTurn
	Clear(sessionID string)
}
