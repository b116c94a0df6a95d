// Package retrieve implements hybrid retrieval: LLM query expansion, a
// concurrent vector+keyword fan-out per expanded query, score fusion with
// deduplication, an optional semantic re-rank, and relevance cutoff.
package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/embed"
	"github.com/hunterwarburton/kbot/internal/logger"
)

// fuseKeyLength is how many characters of case-folded content identify a
// result across both search legs.
const fuseKeyLength = 100

// boostFactor is applied to results whose folder matches the classified
// intent when the strategy is soft boost.
const boostFactor = 1.15

const expansionSystemPrompt = `You expand search queries for an internal document search engine. ` +
	`Given a user question, produce up to %d short alternative phrasings or sub-queries that would ` +
	`surface relevant documents. Respond with a JSON array of strings and nothing else.`

// Options tune the retrieval pipeline. Zero values are replaced by
// DefaultOptions values in New.
type Options struct {
	// TopK bounds the final result count.
	TopK int
	// PerLegK bounds each individual vector or keyword search.
	PerLegK int
	// MaxExpansions caps the expanded query set, original included.
	MaxExpansions int
	// VectorWeight is the vector share of the fused score.
	VectorWeight float64
	// MinRelevance drops results scoring below it after fusion and re-rank.
	MinRelevance float64
	// Rerank enables the semantic re-rank blend.
	Rerank bool
}

// DefaultOptions returns the tuned production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          10,
		PerLegK:       5,
		MaxExpansions: 4,
		VectorWeight:  0.6,
		MinRelevance:  0.7,
		Rerank:        true,
	}
}

// Retriever runs hybrid search against a SearchStore.
type Retriever struct {
	store     core.SearchStore
	embedder  core.EmbedService
	completer core.CompletionService
	opts      Options
}

// New creates a Retriever. completer may be nil, which disables query
// expansion (the original query is still searched).
func New(store core.SearchStore, embedder core.EmbedService, completer core.CompletionService, opts Options) *Retriever {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.PerLegK <= 0 {
		opts.PerLegK = def.PerLegK
	}
	if opts.MaxExpansions <= 0 {
		opts.MaxExpansions = def.MaxExpansions
	}
	if opts.VectorWeight <= 0 || opts.VectorWeight > 1 {
		opts.VectorWeight = def.VectorWeight
	}
	return &Retriever{store: store, embedder: embedder, completer: completer, opts: opts}
}

// Retrieve returns up to TopK results for the query, ordered by descending
// final score. extraFilter is a caller-supplied index-side predicate that is
// ANDed with the intent-derived one; empty means none. Per-leg search
// failures degrade to empty legs rather than aborting the call; only context
// cancellation is returned as an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, intent core.IntentClassification, extraFilter string) ([]core.RankedResult, error) {
	queries := r.expandQuery(ctx, query)
	filter := combineFilters(FilterExpression(intent), extraFilter)

	queryVec, embedErr := r.embedder.Embed(ctx, query)
	if embedErr != nil {
		logger.Warn("Query embedding degraded, vector legs will be skipped: %v", embedErr)
	}

	// Each leg writes only its own slot; the merge below is sequential.
	legs := make([][]core.RankedResult, 2*len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		if embedErr == nil {
			g.Go(func() error {
				vec := queryVec
				if q != query {
					v, err := r.embedder.Embed(gctx, q)
					if err != nil {
						logger.Warn("Skipping vector leg for expanded query %q: %v", q, err)
						return nil
					}
					vec = v
				}
				res, err := r.store.VectorSearch(gctx, core.SearchQuery{Vector: vec, TopK: r.opts.PerLegK, Filter: filter})
				if err != nil {
					logger.Warn("Vector search failed for %q: %v", q, err)
					return nil
				}
				legs[2*i] = res
				return nil
			})
		}
		g.Go(func() error {
			res, err := r.store.KeywordSearch(gctx, core.SearchQuery{Text: q, TopK: r.opts.PerLegK, Filter: filter})
			if err != nil {
				logger.Warn("Keyword search failed for %q: %v", q, err)
				return nil
			}
			legs[2*i+1] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fused := r.fuse(legs)

	if intent.Mode == core.SearchModeBoost {
		applyBoost(fused, intent)
	}

	if r.opts.Rerank && embedErr == nil {
		r.rerank(ctx, fused, queryVec)
	}

	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })

	final := make([]core.RankedResult, 0, r.opts.TopK)
	for _, res := range fused {
		if res.Score < r.opts.MinRelevance {
			continue
		}
		final = append(final, res)
		if len(final) == r.opts.TopK {
			break
		}
	}
	logger.Debug("Retrieved %d results for %q (%d expanded queries, %d candidates)",
		len(final), query, len(queries), len(fused))
	return final, nil
}

// expandQuery asks the LLM for alternative phrasings. Any failure, from
// transport to unparsable output, falls back to the original query alone.
func (r *Retriever) expandQuery(ctx context.Context, query string) []string {
	if r.completer == nil || r.opts.MaxExpansions <= 1 {
		return []string{query}
	}

	resp, err := r.completer.Complete(ctx, core.CompletionRequest{
		SystemPrompt: fmt.Sprintf(expansionSystemPrompt, r.opts.MaxExpansions-1),
		UserPrompt:   query,
		MaxTokens:    300,
		Temperature:  0.1,
	})
	if err != nil {
		logger.Warn("Query expansion failed, searching original query only: %v", err)
		return []string{query}
	}

	alternates, err := parseExpansion(resp)
	if err != nil {
		logger.Warn("Discarding expansion output: %v", err)
		return []string{query}
	}

	queries := []string{query}
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(query)): {}}
	for _, alt := range alternates {
		alt = strings.TrimSpace(alt)
		key := strings.ToLower(alt)
		if alt == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, alt)
		if len(queries) == r.opts.MaxExpansions {
			break
		}
	}
	return queries
}

// parseExpansion extracts a JSON string array from an LLM response,
// tolerating markdown code fences around it.
func parseExpansion(resp string) ([]string, error) {
	text := strings.TrimSpace(resp)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	var alternates []string
	if err := json.Unmarshal([]byte(text), &alternates); err != nil {
		return nil, core.Malformedf("expansion is not a JSON string array: %v", err)
	}
	return alternates, nil
}

type fusedCandidate struct {
	result       core.RankedResult
	vectorScore  float64
	keywordScore float64
	hasVector    bool
	hasKeyword   bool
}

// fuse merges all completed legs, deduplicating on a case-folded content
// prefix. A key hit by both legs gets the weighted blend and hybrid
// provenance; single-leg hits pass through unchanged. Insertion order is
// preserved so equal scores sort deterministically later.
func (r *Retriever) fuse(legs [][]core.RankedResult) []core.RankedResult {
	byKey := make(map[string]*fusedCandidate)
	var order []string

	for _, leg := range legs {
		for _, res := range leg {
			key := FuseKey(res.Content)
			cand, ok := byKey[key]
			if !ok {
				cand = &fusedCandidate{result: res}
				byKey[key] = cand
				order = append(order, key)
			}
			switch res.Provenance {
			case core.ProvenanceVector:
				if !cand.hasVector || res.Score > cand.vectorScore {
					cand.vectorScore = res.Score
					cand.hasVector = true
				}
			case core.ProvenanceKeyword:
				if !cand.hasKeyword || res.Score > cand.keywordScore {
					cand.keywordScore = res.Score
					cand.hasKeyword = true
				}
			}
		}
	}

	fused := make([]core.RankedResult, 0, len(order))
	for _, key := range order {
		cand := byKey[key]
		out := cand.result
		switch {
		case cand.hasVector && cand.hasKeyword:
			out.Score = r.opts.VectorWeight*cand.vectorScore + (1-r.opts.VectorWeight)*cand.keywordScore
			out.Provenance = core.ProvenanceHybrid
		case cand.hasVector:
			out.Score = cand.vectorScore
			out.Provenance = core.ProvenanceVector
		case cand.hasKeyword:
			out.Score = cand.keywordScore
			out.Provenance = core.ProvenanceKeyword
		}
		fused = append(fused, out)
	}
	return fused
}

// rerank blends the fused score with the cosine similarity between the
// query embedding and a fresh content embedding. A degraded embedding batch
// leaves the fused ordering untouched.
func (r *Retriever) rerank(ctx context.Context, results []core.RankedResult, queryVec []float32) {
	if len(results) == 0 {
		return
	}
	contents := make([]string, len(results))
	for i, res := range results {
		contents[i] = res.Content
	}
	vecs, err := r.embedder.EmbedBatch(ctx, contents)
	if err != nil || len(vecs) != len(results) {
		logger.Warn("Semantic re-rank skipped, keeping fused order: %v", err)
		return
	}
	for i := range results {
		semantic := embed.Cosine(queryVec, vecs[i])
		results[i].Score = 0.7*results[i].Score + 0.3*semantic
	}
}

// applyBoost lifts results whose folder matches the intent suggestion.
// Scores stay capped at 1.0 so the relevance cutoff keeps its meaning.
func applyBoost(results []core.RankedResult, intent core.IntentClassification) {
	if len(intent.SuggestedFolders) == 0 {
		return
	}
	for i := range results {
		folder, _ := results[i].Metadata["folder"].(string)
		if folder == "" {
			continue
		}
		for _, want := range intent.SuggestedFolders {
			if strings.EqualFold(folder, want) {
				boosted := results[i].Score * boostFactor
				if boosted > 1.0 {
					boosted = 1.0
				}
				results[i].Score = boosted
				break
			}
		}
	}
}

// FuseKey returns the dedup key for a piece of content: its first
// fuseKeyLength characters, case-folded and trimmed.
func FuseKey(content string) string {
	folded := strings.ToLower(strings.TrimSpace(content))
	runes := []rune(folded)
	if len(runes) > fuseKeyLength {
		runes = runes[:fuseKeyLength]
	}
	return string(runes)
}

// FilterExpression compiles an intent's suggested folders and document
// types into an index-side filter. Only strict mode filters; boost and open
// modes search the whole index.
func FilterExpression(intent core.IntentClassification) string {
	if intent.Mode != core.SearchModeStrict {
		return ""
	}
	var clauses []string
	if len(intent.SuggestedFolders) > 0 {
		clauses = append(clauses, inClause("folder", intent.SuggestedFolders))
	}
	if len(intent.SuggestedDocumentTypes) > 0 {
		clauses = append(clauses, inClause("document_type", intent.SuggestedDocumentTypes))
	}
	return strings.Join(clauses, " and ")
}

// FilterFromMap compiles caller-supplied metadata equality filters into an
// index-side expression, with keys in sorted order so the output is stable.
func FilterFromMap(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, inClause(k, []string{filters[k]}))
	}
	return strings.Join(clauses, " and ")
}

func combineFilters(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " and " + b
	}
}

func inClause(key string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf(`metadata["%s"] in [%s]`, key, strings.Join(quoted, ", "))
}
