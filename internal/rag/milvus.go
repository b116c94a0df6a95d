// Package rag contains the search-index adapters: a Milvus-backed store for
// production and an in-memory store for tests and local development.
package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/logger"
)

// Field names for the documents collection
const (
	FieldID         = "id"
	FieldContent    = "content"
	FieldTitle      = "title"
	FieldSource     = "source"
	FieldChunkIndex = "chunk_index"
	FieldMetadata   = "metadata"
	FieldEmbedding  = "embedding"
	FieldSparse     = "sparse"
)

// Default constants for varchar fields
const (
	maxContentLength = 65535
	maxIDLength      = 255
	maxTitleLength   = 512
)

var outputFields = []string{FieldID, FieldContent, FieldTitle, FieldSource, FieldChunkIndex, FieldMetadata}

// MilvusStore implements core.SearchStore against a Milvus collection with a
// dense HNSW index for vector search and a BM25 function over the content
// field for keyword search.
type MilvusStore struct {
	client       *milvusclient.Client
	collection   string
	embeddingDim int
}

// NewMilvusStore connects to Milvus. EnsureCollection must be called before
// the first upsert or search.
func NewMilvusStore(ctx context.Context, addr, collection string, embeddingDim int) (*MilvusStore, error) {
	logger.Info("Connecting to Milvus at %s (collection %s, dim %d)", addr, collection, embeddingDim)

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}

	return &MilvusStore{
		client:       c,
		collection:   collection,
		embeddingDim: embeddingDim,
	}, nil
}

// EnsureCollection creates the documents collection, its indexes and the
// BM25 function if missing, then loads it into memory for searching.
func (s *MilvusStore) EnsureCollection(ctx context.Context) error {
	hasOpt := milvusclient.NewHasCollectionOption(s.collection)
	exists, err := s.client.HasCollection(ctx, hasOpt)
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(s.collection).
			WithDescription("Document chunks for hybrid retrieval").
			WithField(entity.NewField().
				WithName(FieldID).
				WithDataType(entity.FieldTypeVarChar).
				WithIsPrimaryKey(true).
				WithMaxLength(maxIDLength)).
			WithField(entity.NewField().
				WithName(FieldContent).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxContentLength).
				WithEnableAnalyzer(true)).
			WithField(entity.NewField().
				WithName(FieldTitle).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxTitleLength)).
			WithField(entity.NewField().
				WithName(FieldSource).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxIDLength)).
			WithField(entity.NewField().
				WithName(FieldChunkIndex).
				WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().
				WithName(FieldMetadata).
				WithDataType(entity.FieldTypeJSON)).
			WithField(entity.NewField().
				WithName(FieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(s.embeddingDim))).
			WithField(entity.NewField().
				WithName(FieldSparse).
				WithDataType(entity.FieldTypeSparseVector)).
			WithFunction(entity.NewFunction().
				WithName("content_bm25").
				WithType(entity.FunctionTypeBM25).
				WithInputFields(FieldContent).
				WithOutputFields(FieldSparse))

		createOpt := milvusclient.NewCreateCollectionOption(s.collection, schema)
		if err := s.client.CreateCollection(ctx, createOpt); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		denseIdx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		denseOpt := milvusclient.NewCreateIndexOption(s.collection, FieldEmbedding, denseIdx)
		if _, err := s.client.CreateIndex(ctx, denseOpt); err != nil {
			return fmt.Errorf("failed to create index on embedding field: %w", err)
		}

		sparseIdx := index.NewSparseInvertedIndex(entity.BM25, 0.2)
		sparseOpt := milvusclient.NewCreateIndexOption(s.collection, FieldSparse, sparseIdx)
		if _, err := s.client.CreateIndex(ctx, sparseOpt); err != nil {
			return fmt.Errorf("failed to create index on sparse field: %w", err)
		}

		logger.Info("Created collection with dense and BM25 indices: %s", s.collection)
	}

	loadOpt := milvusclient.NewLoadCollectionOption(s.collection)
	if _, err := s.client.LoadCollection(ctx, loadOpt); err != nil {
		return fmt.Errorf("failed to load collection %s into memory: %w", s.collection, err)
	}
	return nil
}

// Upsert writes chunks by ID; existing rows with the same ID are replaced,
// which makes re-ingestion idempotent per (source, chunk_index).
func (s *MilvusStore) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	titles := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	metadatas := make([][]byte, len(chunks))
	embeddings := make([][]float32, len(chunks))

	for i, ch := range chunks {
		if len(ch.Embedding) != s.embeddingDim {
			return fmt.Errorf("chunk %s embedding dimensionality mismatch: got %d, want %d",
				ch.ID, len(ch.Embedding), s.embeddingDim)
		}

		metadataStr := []byte("{}")
		if ch.Metadata != nil {
			if b, err := json.Marshal(ch.Metadata); err == nil {
				metadataStr = b
			}
		}

		ids[i] = ch.ID
		contents[i] = ch.Content
		titles[i] = ch.SourceTitle
		sources[i] = ch.SourceID
		chunkIndexes[i] = int64(ch.OrdinalIndex)
		metadatas[i] = metadataStr
		embeddings[i] = ch.Embedding
	}

	// The sparse column is produced by the BM25 function server-side.
	upsertOpt := milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnVarChar(FieldContent, contents),
		column.NewColumnVarChar(FieldTitle, titles),
		column.NewColumnVarChar(FieldSource, sources),
		column.NewColumnInt64(FieldChunkIndex, chunkIndexes),
		column.NewColumnJSONBytes(FieldMetadata, metadatas),
		column.NewColumnFloatVector(FieldEmbedding, s.embeddingDim, embeddings),
	)

	if _, err := s.client.Upsert(ctx, upsertOpt); err != nil {
		return core.Transientf("failed to upsert %d chunks: %v", len(chunks), err)
	}
	logger.Debug("Upserted %d chunks into %s", len(chunks), s.collection)
	return nil
}

// DeleteBySource removes every chunk belonging to one source document.
func (s *MilvusStore) DeleteBySource(ctx context.Context, sourceID string) error {
	expr := fmt.Sprintf(`%s == "%s"`, FieldSource, sourceID)
	deleteOpt := milvusclient.NewDeleteOption(s.collection).WithExpr(expr)
	if _, err := s.client.Delete(ctx, deleteOpt); err != nil {
		return core.Transientf("failed to delete chunks for source %s: %v", sourceID, err)
	}
	return nil
}

// VectorSearch runs dense nearest-neighbour search. COSINE scores arrive in
// [-1,1] and are normalized to [0,1] so both legs rank on the same scale.
func (s *MilvusStore) VectorSearch(ctx context.Context, q core.SearchQuery) ([]core.RankedResult, error) {
	searchOpt := milvusclient.NewSearchOption(s.collection, q.TopK, []entity.Vector{entity.FloatVector(q.Vector)}).
		WithANNSField(FieldEmbedding).
		WithOutputFields(outputFields...)
	if q.Filter != "" {
		searchOpt = searchOpt.WithFilter(q.Filter)
	}

	resultSets, err := s.client.Search(ctx, searchOpt)
	if err != nil {
		return nil, core.Transientf("vector search: %v", err)
	}
	return s.collectResults(resultSets, core.ProvenanceVector, normalizeCosine), nil
}

// KeywordSearch runs BM25 full-text search over the content field. BM25
// scores are unbounded, so they are squashed via s/(s+1).
func (s *MilvusStore) KeywordSearch(ctx context.Context, q core.SearchQuery) ([]core.RankedResult, error) {
	searchOpt := milvusclient.NewSearchOption(s.collection, q.TopK, []entity.Vector{entity.Text(q.Text)}).
		WithANNSField(FieldSparse).
		WithOutputFields(outputFields...)
	if q.Filter != "" {
		searchOpt = searchOpt.WithFilter(q.Filter)
	}

	resultSets, err := s.client.Search(ctx, searchOpt)
	if err != nil {
		return nil, core.Transientf("keyword search: %v", err)
	}
	return s.collectResults(resultSets, core.ProvenanceKeyword, normalizeBM25), nil
}

// FilterSearch returns chunks matching a metadata filter, unranked.
func (s *MilvusStore) FilterSearch(ctx context.Context, filter string, topK int) ([]core.RankedResult, error) {
	queryOpt := milvusclient.NewQueryOption(s.collection).
		WithFilter(filter).
		WithOutputFields(outputFields...).
		WithLimit(topK)

	rs, err := s.client.Query(ctx, queryOpt)
	if err != nil {
		return nil, core.Transientf("filter search: %v", err)
	}

	results := make([]core.RankedResult, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		r := resultFromColumns(rs.GetColumn, i)
		r.Score = 1.0 // exact metadata match, no similarity ranking
		r.Provenance = core.ProvenanceMetadataFilter
		results = append(results, r)
	}
	return results, nil
}

// Close closes the connection to Milvus.
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *MilvusStore) collectResults(resultSets []milvusclient.ResultSet, prov core.Provenance, normalize func(float32) float64) []core.RankedResult {
	var results []core.RankedResult
	for _, rs := range resultSets {
		for i := 0; i < rs.ResultCount; i++ {
			r := resultFromColumns(rs.GetColumn, i)
			if i < len(rs.Scores) {
				r.Score = normalize(rs.Scores[i])
			}
			r.Provenance = prov
			results = append(results, r)
		}
	}
	return results
}

// resultFromColumns reads one row out of a search or query result set.
// Missing optional columns leave zero values rather than failing the row.
func resultFromColumns(col func(string) column.Column, i int) core.RankedResult {
	var r core.RankedResult

	if c := col(FieldID); c != nil {
		if v, err := c.GetAsString(i); err == nil {
			r.ChunkID = v
		}
	}
	if c := col(FieldContent); c != nil {
		if v, err := c.GetAsString(i); err == nil {
			r.Content = v
		}
	}
	if c := col(FieldTitle); c != nil {
		if v, err := c.GetAsString(i); err == nil {
			r.Title = v
		}
	}
	if c := col(FieldSource); c != nil {
		if v, err := c.GetAsString(i); err == nil {
			r.SourceID = v
		}
	}
	if c := col(FieldMetadata); c != nil {
		if raw, err := c.GetAsString(i); err == nil && raw != "" {
			var metadata map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
				r.Metadata = metadata
			}
		}
	}
	return r
}

func normalizeCosine(s float32) float64 {
	return (float64(s) + 1) / 2
}

func normalizeBM25(s float32) float64 {
	if s <= 0 {
		return 0
	}
	return float64(s) / (float64(s) + 1)
}
