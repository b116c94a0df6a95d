// Package pipeline orchestrates ingestion and question answering over the
// chunker, embedding client, intent classifier, retriever, generator and
// conversation history.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hunterwarburton/kbot/internal/chunk"
	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/logger"
	"github.com/hunterwarburton/kbot/internal/retrieve"
)

const emptyQuestionAnswer = "Please ask a question and I'll search the document library for you."

const internalErrorAnswer = "Sorry, something went wrong while answering that. Please try again."

// Retriever is the retrieval stage as the pipeline consumes it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, intent core.IntentClassification, extraFilter string) ([]core.RankedResult, error)
}

// Generator is the answer-generation stage as the pipeline consumes it.
type Generator interface {
	Generate(ctx context.Context, question string, results []core.RankedResult, history []core.ConversationTurn) (core.RAGAnswer, error)
}

// Classifier is the intent stage as the pipeline consumes it.
type Classifier interface {
	Classify(query string) core.IntentClassification
}

// Pipeline wires the stages together and owns the failure-absorption
// boundary: nothing below it is allowed to surface a raw error to a chat
// user.
type Pipeline struct {
	chunker    *chunk.Chunker
	embedder   core.EmbedService
	store      core.SearchStore
	classifier Classifier
	retriever  Retriever
	generator  Generator
	history    core.HistoryStore
}

// New creates a Pipeline.
func New(chunker *chunk.Chunker, embedder core.EmbedService, store core.SearchStore,
	classifier Classifier, retriever Retriever, generator Generator, history core.HistoryStore) *Pipeline {
	return &Pipeline{
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		classifier: classifier,
		retriever:  retriever,
		generator:  generator,
		history:    history,
	}
}

// Ingest chunks, embeds and indexes one document. The metadata keys
// "source_id" and "title" identify the document; a missing source_id gets a
// generated one so the chunks are still addressable. Returns the number of
// chunks stored. Embedding or index failures abort the ingest so the index
// never holds unembedded chunks.
func (p *Pipeline) Ingest(ctx context.Context, text string, metadata map[string]interface{}) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, core.Validationf("document text is empty")
	}

	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	sourceID, _ := metadata["source_id"].(string)
	if sourceID == "" {
		sourceID = uuid.NewString()
		metadata["source_id"] = sourceID
	}

	chunks := p.chunker.Chunk(text, metadata)
	if len(chunks) == 0 {
		return 0, nil
	}

	contents := make([]string, len(chunks))
	for i, ch := range chunks {
		contents[i] = ch.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("embedding document %s: %w", sourceID, err)
	}
	if len(vectors) != len(chunks) {
		return 0, core.Malformedf("embedding service returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	dim := p.embedder.Dimension()
	for i := range chunks {
		if len(vectors[i]) != dim {
			return 0, core.Validationf("embedding for chunk %s has dimension %d, want %d", chunks[i].ID, len(vectors[i]), dim)
		}
		chunks[i].Embedding = vectors[i]
	}

	// Drop the previous version first so a shorter re-ingest leaves no
	// stale tail chunks behind.
	if err := p.store.DeleteBySource(ctx, sourceID); err != nil {
		return 0, fmt.Errorf("clearing previous chunks for %s: %w", sourceID, err)
	}
	if err := p.store.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("indexing document %s: %w", sourceID, err)
	}

	logger.Info("Ingested document %s as %d chunks", sourceID, len(chunks))
	return len(chunks), nil
}

// Delete removes a previously ingested document from the index.
func (p *Pipeline) Delete(ctx context.Context, sourceID string) error {
	if strings.TrimSpace(sourceID) == "" {
		return core.Validationf("source id is empty")
	}
	return p.store.DeleteBySource(ctx, sourceID)
}

// Answer runs the full query path and always returns an answer-shaped
// payload for downstream rendering. Stage failures are absorbed here as
// low- or error-confidence answers; the error return is non-nil only when
// ctx was cancelled, in which case no partial answer is produced.
func (p *Pipeline) Answer(ctx context.Context, question, sessionID string) (core.RAGAnswer, error) {
	return p.AnswerWithFilters(ctx, question, sessionID, nil)
}

// AnswerWithFilters is Answer with caller-supplied metadata equality
// filters, applied index-side alongside any intent-derived filter.
func (p *Pipeline) AnswerWithFilters(ctx context.Context, question, sessionID string, filters map[string]string) (core.RAGAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return core.RAGAnswer{
			Answer:     emptyQuestionAnswer,
			Sources:    []core.SourceRef{},
			Confidence: core.ConfidenceError,
		}, nil
	}

	intent := p.classifier.Classify(question)
	logger.Debug("Classified %q as %s (confidence %.2f, mode %s)",
		question, intent.Category, intent.Confidence, intent.Mode)

	results, err := p.retriever.Retrieve(ctx, question, intent, retrieve.FilterFromMap(filters))
	if err != nil {
		if ctx.Err() != nil {
			return core.RAGAnswer{}, ctx.Err()
		}
		logger.Error("Retrieval failed for %q: %v", question, err)
		results = nil
	}

	historyTurns := p.history.GetContext(sessionID, 0)

	ans, err := p.generator.Generate(ctx, question, results, historyTurns)
	if err != nil {
		if ctx.Err() != nil {
			return core.RAGAnswer{}, ctx.Err()
		}
		logger.Error("Generation failed for %q: %v", question, err)
		ans = core.RAGAnswer{
			Answer:     internalErrorAnswer,
			Sources:    []core.SourceRef{},
			Confidence: core.ConfidenceError,
		}
	}
	ans.StrategyUsed = fmt.Sprintf("%s/%s", intent.Category, intent.Mode)

	p.history.AddTurn(sessionID, core.RoleUser, question, nil)
	p.history.AddTurn(sessionID, core.RoleAssistant, ans.Answer, map[string]interface{}{
		"confidence": string(ans.Confidence),
		"sources":    len(ans.Sources),
	})
	return ans, nil
}

// maxListScan bounds how many chunk rows a folder listing walks before
// deduplicating down to documents.
const maxListScan = 1000

// ListDocuments returns the distinct documents stored under one folder,
// capped at limit.
func (p *Pipeline) ListDocuments(ctx context.Context, folder string, limit int) ([]core.SourceRef, error) {
	if strings.TrimSpace(folder) == "" {
		return nil, core.Validationf("folder is empty")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.store.FilterSearch(ctx, retrieve.FilterFromMap(map[string]string{"folder": folder}), maxListScan)
	if err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", folder, err)
	}

	seen := make(map[string]struct{})
	docs := make([]core.SourceRef, 0, limit)
	for _, row := range rows {
		if _, dup := seen[row.SourceID]; dup {
			continue
		}
		seen[row.SourceID] = struct{}{}
		docs = append(docs, core.SourceRef{SourceID: row.SourceID, Title: row.Title})
		if len(docs) == limit {
			break
		}
	}
	return docs, nil
}

// ClearSession forgets the conversation context for one session.
func (p *Pipeline) ClearSession(sessionID string) {
	p.history.Clear(sessionID)
}
