package retrieve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/kbot/internal/core"
)

type scriptedStore struct {
	mu             sync.Mutex
	vector         []core.RankedResult
	keyword        []core.RankedResult
	keywordQueries []string
	filters        []string
}

func (s *scriptedStore) Upsert(ctx context.Context, chunks []core.Chunk) error       { return nil }
func (s *scriptedStore) DeleteBySource(ctx context.Context, sourceID string) error   { return nil }
func (s *scriptedStore) FilterSearch(ctx context.Context, filter string, topK int) ([]core.RankedResult, error) {
	return nil, nil
}

func (s *scriptedStore) VectorSearch(ctx context.Context, q core.SearchQuery) ([]core.RankedResult, error) {
	s.mu.Lock()
	s.filters = append(s.filters, q.Filter)
	s.mu.Unlock()
	return tagged(s.vector, core.ProvenanceVector), nil
}

func (s *scriptedStore) KeywordSearch(ctx context.Context, q core.SearchQuery) ([]core.RankedResult, error) {
	s.mu.Lock()
	s.keywordQueries = append(s.keywordQueries, q.Text)
	s.mu.Unlock()
	return tagged(s.keyword, core.ProvenanceKeyword), nil
}

func tagged(results []core.RankedResult, prov core.Provenance) []core.RankedResult {
	out := make([]core.RankedResult, len(results))
	for i, r := range results {
		r.Provenance = prov
		out[i] = r
	}
	return out
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func (fakeEmbedder) Dimension() int { return 3 }

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestRetrieveFusesOverlappingResults(t *testing.T) {
	store := &scriptedStore{
		vector: []core.RankedResult{
			{Content: "The wellness policy covers mental health days.", ChunkID: "a", Score: 0.9},
			{Content: "Vector-only result about something else.", ChunkID: "b", Score: 0.8},
		},
		keyword: []core.RankedResult{
			{Content: "The wellness policy covers mental health days.", ChunkID: "a", Score: 0.5},
			{Content: "Keyword-only result on another topic.", ChunkID: "c", Score: 0.75},
		},
	}
	r := New(store, fakeEmbedder{}, nil, Options{TopK: 10, PerLegK: 5, MinRelevance: 0.01, Rerank: false})

	results, err := r.Retrieve(context.Background(), "wellness policy", core.IntentClassification{Mode: core.SearchModeOpen}, "")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, core.ProvenanceHybrid, results[0].Provenance)
	assert.InDelta(t, 0.6*0.9+0.4*0.5, results[0].Score, 1e-9)

	byID := map[string]core.RankedResult{}
	for _, res := range results {
		byID[res.ChunkID] = res
	}
	assert.Equal(t, core.ProvenanceVector, byID["b"].Provenance)
	assert.InDelta(t, 0.8, byID["b"].Score, 1e-9)
	assert.Equal(t, core.ProvenanceKeyword, byID["c"].Provenance)
	assert.InDelta(t, 0.75, byID["c"].Score, 1e-9)
}

func TestRetrieveAppliesCutoffAndTopK(t *testing.T) {
	store := &scriptedStore{
		vector: []core.RankedResult{
			{Content: "first", ChunkID: "1", Score: 0.95},
			{Content: "second", ChunkID: "2", Score: 0.85},
			{Content: "third", ChunkID: "3", Score: 0.5},
		},
	}
	r := New(store, fakeEmbedder{}, nil, Options{TopK: 1, PerLegK: 5, MinRelevance: 0.7, Rerank: false})

	results, err := r.Retrieve(context.Background(), "q", core.IntentClassification{Mode: core.SearchModeOpen}, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)
}

func TestRetrieveIsDeterministic(t *testing.T) {
	store := &scriptedStore{
		vector: []core.RankedResult{
			{Content: "alpha content", ChunkID: "a", Score: 0.8},
			{Content: "beta content", ChunkID: "b", Score: 0.8},
		},
	}
	r := New(store, fakeEmbedder{}, nil, Options{TopK: 10, PerLegK: 5, MinRelevance: 0.1, Rerank: false})

	first, err := r.Retrieve(context.Background(), "q", core.IntentClassification{Mode: core.SearchModeOpen}, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), "q", core.IntentClassification{Mode: core.SearchModeOpen}, "")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExpansionMalformedFallsBackToOriginal(t *testing.T) {
	store := &scriptedStore{}
	completer := &fakeCompleter{response: "Sure! Here are some ideas."}
	r := New(store, fakeEmbedder{}, completer, Options{TopK: 5, PerLegK: 5, MaxExpansions: 4, MinRelevance: 0.1, Rerank: false})

	_, err := r.Retrieve(context.Background(), "what is the wellness policy", core.IntentClassification{Mode: core.SearchModeOpen}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, []string{"what is the wellness policy"}, store.keywordQueries)
}

func TestExpansionFailureFallsBackToOriginal(t *testing.T) {
	store := &scriptedStore{}
	completer := &fakeCompleter{err: errors.New("boom")}
	r := New(store, fakeEmbedder{}, completer, Options{TopK: 5, PerLegK: 5, MaxExpansions: 4, MinRelevance: 0.1, Rerank: false})

	_, err := r.Retrieve(context.Background(), "original", core.IntentClassification{Mode: core.SearchModeOpen}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, store.keywordQueries)
}

func TestExpansionDedupesAndCaps(t *testing.T) {
	store := &scriptedStore{}
	completer := &fakeCompleter{response: "```json\n[\"Wellness Policy\", \"wellness policy\", \"employee wellbeing rules\", \"gym subsidy policy\", \"one too many\"]\n```"}
	r := New(store, fakeEmbedder{}, completer, Options{TopK: 5, PerLegK: 5, MaxExpansions: 3, MinRelevance: 0.1, Rerank: false})

	_, err := r.Retrieve(context.Background(), "wellness policy", core.IntentClassification{Mode: core.SearchModeOpen}, "")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"wellness policy", "employee wellbeing rules", "gym subsidy policy"},
		store.keywordQueries)
}

func TestStrictModeFiltersIndexSide(t *testing.T) {
	store := &scriptedStore{}
	r := New(store, fakeEmbedder{}, nil, Options{TopK: 5, PerLegK: 5, MinRelevance: 0.1, Rerank: false})

	intent := core.IntentClassification{
		Mode:             core.SearchModeStrict,
		SuggestedFolders: []string{"Health & Safety"},
	}
	_, err := r.Retrieve(context.Background(), "q", intent, "")
	require.NoError(t, err)
	require.NotEmpty(t, store.filters)
	assert.Equal(t, `metadata["folder"] in ["Health & Safety"]`, store.filters[0])
}

func TestBoostModeLiftsMatchingFolders(t *testing.T) {
	store := &scriptedStore{
		vector: []core.RankedResult{
			{Content: "matching folder content", ChunkID: "m", Score: 0.7,
				Metadata: map[string]interface{}{"folder": "Health & Safety"}},
			{Content: "other folder content", ChunkID: "o", Score: 0.7,
				Metadata: map[string]interface{}{"folder": "Social"}},
		},
	}
	r := New(store, fakeEmbedder{}, nil, Options{TopK: 5, PerLegK: 5, MinRelevance: 0.1, Rerank: false})

	intent := core.IntentClassification{
		Mode:             core.SearchModeBoost,
		SuggestedFolders: []string{"Health & Safety"},
	}
	results, err := r.Retrieve(context.Background(), "q", intent, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m", results[0].ChunkID)
	assert.InDelta(t, 0.7*boostFactor, results[0].Score, 1e-9)
	assert.InDelta(t, 0.7, results[1].Score, 1e-9)
}

func TestCallerFilterCombinesWithIntentFilter(t *testing.T) {
	store := &scriptedStore{}
	r := New(store, fakeEmbedder{}, nil, Options{TopK: 5, PerLegK: 5, MinRelevance: 0.1, Rerank: false})

	intent := core.IntentClassification{
		Mode:             core.SearchModeStrict,
		SuggestedFolders: []string{"Projects"},
	}
	extra := FilterFromMap(map[string]string{"document_type": "report", "client": "acme"})
	_, err := r.Retrieve(context.Background(), "q", intent, extra)
	require.NoError(t, err)
	require.NotEmpty(t, store.filters)
	assert.Equal(t,
		`metadata["folder"] in ["Projects"] and metadata["client"] in ["acme"] and metadata["document_type"] in ["report"]`,
		store.filters[0])
}

func TestFilterExpression(t *testing.T) {
	open := core.IntentClassification{Mode: core.SearchModeOpen, SuggestedFolders: []string{"X"}}
	assert.Empty(t, FilterExpression(open))

	strict := core.IntentClassification{
		Mode:                   core.SearchModeStrict,
		SuggestedFolders:       []string{"Projects", "Clients"},
		SuggestedDocumentTypes: []string{"report"},
	}
	assert.Equal(t,
		`metadata["folder"] in ["Projects", "Clients"] and metadata["document_type"] in ["report"]`,
		FilterExpression(strict))
}

func TestFuseKey(t *testing.T) {
	assert.Equal(t, "short text", FuseKey("  Short Text  "))

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcde"
	}
	assert.Len(t, []rune(FuseKey(long)), fuseKeyLength)
	assert.Equal(t, FuseKey(long), FuseKey(long+" extra tail that differs"))
}
