package rag

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/embed"
)

// MemoryStore is an in-process core.SearchStore used by tests and local
// development runs without a Milvus instance. Vector search ranks by cosine
// similarity and keyword search by term overlap, so relative ordering
// matches what the real store produces for the same data.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]core.Chunk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]core.Chunk)}
}

func (s *MemoryStore) Upsert(ctx context.Context, chunks []core.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		s.chunks[ch.ID] = ch
	}
	return nil
}

func (s *MemoryStore) DeleteBySource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.chunks {
		if ch.SourceID == sourceID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) VectorSearch(ctx context.Context, q core.SearchQuery) ([]core.RankedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []core.RankedResult
	for _, ch := range s.chunks {
		if !matchFilter(ch, q.Filter) {
			continue
		}
		r := resultFromChunk(ch)
		r.Score = embed.Cosine(q.Vector, ch.Embedding)
		r.Provenance = core.ProvenanceVector
		results = append(results, r)
	}
	return topScored(results, q.TopK), nil
}

func (s *MemoryStore) KeywordSearch(ctx context.Context, q core.SearchQuery) ([]core.RankedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenize(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	var results []core.RankedResult
	for _, ch := range s.chunks {
		if !matchFilter(ch, q.Filter) {
			continue
		}
		score := overlapScore(terms, tokenize(ch.Content))
		if score == 0 {
			continue
		}
		r := resultFromChunk(ch)
		r.Score = score
		r.Provenance = core.ProvenanceKeyword
		results = append(results, r)
	}
	return topScored(results, q.TopK), nil
}

func (s *MemoryStore) FilterSearch(ctx context.Context, filter string, topK int) ([]core.RankedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []core.RankedResult
	for _, ch := range s.chunks {
		if !matchFilter(ch, filter) {
			continue
		}
		r := resultFromChunk(ch)
		r.Score = 1.0
		r.Provenance = core.ProvenanceMetadataFilter
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ChunkID < results[j].ChunkID })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len reports the number of stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func resultFromChunk(ch core.Chunk) core.RankedResult {
	return core.RankedResult{
		Content:  ch.Content,
		Title:    ch.SourceTitle,
		SourceID: ch.SourceID,
		ChunkID:  ch.ID,
		Metadata: ch.Metadata,
	}
}

// topScored sorts by score descending with chunk ID as the tiebreaker so
// repeated searches over the same data return a stable order.
func topScored(results []core.RankedResult, topK int) []core.RankedResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func overlapScore(queryTerms, docTerms []string) float64 {
	docSet := make(map[string]struct{}, len(docTerms))
	for _, t := range docTerms {
		docSet[strings.Trim(t, ".,!?;:\"'()")] = struct{}{}
	}
	hits := 0
	for _, t := range queryTerms {
		if _, ok := docSet[strings.Trim(t, ".,!?;:\"'()")]; ok {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return float64(hits) / float64(len(queryTerms))
}

var (
	eqExprRe = regexp.MustCompile(`^(\w+)\s*==\s*"([^"]*)"$`)
	inExprRe = regexp.MustCompile(`^metadata\["(\w+)"\]\s+in\s+\[(.+)\]$`)
)

// matchFilter evaluates the two expression shapes the retriever generates:
// `field == "value"` on scalar fields and `metadata["key"] in ["a","b"]`.
// Clauses may be joined with " and ". Anything else matches nothing.
func matchFilter(ch core.Chunk, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	for _, clause := range strings.Split(filter, " and ") {
		if !matchClause(ch, strings.TrimSpace(clause)) {
			return false
		}
	}
	return true
}

func matchClause(ch core.Chunk, clause string) bool {
	if m := eqExprRe.FindStringSubmatch(clause); m != nil {
		switch m[1] {
		case FieldSource:
			return ch.SourceID == m[2]
		case FieldTitle:
			return ch.SourceTitle == m[2]
		case FieldID:
			return ch.ID == m[2]
		}
		return false
	}
	if m := inExprRe.FindStringSubmatch(clause); m != nil {
		val, ok := ch.Metadata[m[1]].(string)
		if !ok {
			return false
		}
		for _, candidate := range strings.Split(m[2], ",") {
			if strings.Trim(strings.TrimSpace(candidate), `"`) == val {
				return true
			}
		}
		return false
	}
	return false
}
