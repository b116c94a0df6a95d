package core

import "time"

// Chunk is a bounded, possibly overlapping passage of a source document
// prepared for indexing. Its ID is derived from (SourceID, OrdinalIndex)
// so re-ingesting the same document overwrites instead of duplicating.
type Chunk struct {
	ID           string                 `json:"id"`
	Content      string                 `json:"content"`
	SourceTitle  string                 `json:"source_title,omitempty"`
	SourceID     string                 `json:"source_id"`
	OrdinalIndex int                    `json:"ordinal_index"`
	TokenCount   int                    `json:"token_count"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Embedding    []float32              `json:"embedding,omitempty"`
}

// Provenance records which search leg produced a ranked result.
type Provenance string

const (
	ProvenanceVector         Provenance = "vector"
	ProvenanceKeyword        Provenance = "keyword"
	ProvenanceHybrid         Provenance = "hybrid"
	ProvenanceMetadataFilter Provenance = "metadata_filter"
)

// RankedResult is a scored retrieval candidate. Transient, produced per
// query, never persisted.
type RankedResult struct {
	Content    string                 `json:"content"`
	Title      string                 `json:"title,omitempty"`
	SourceID   string                 `json:"source_id,omitempty"`
	ChunkID    string                 `json:"chunk_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Score      float64                `json:"score"`
	Provenance Provenance             `json:"provenance"`
}

// IntentCategory names a retrieval strategy bucket for a query.
type IntentCategory string

const (
	IntentPolicy             IntentCategory = "policy"
	IntentTechnicalProcedure IntentCategory = "technical_procedure"
	IntentStandardsReference IntentCategory = "standards_reference"
	IntentProjectReference   IntentCategory = "project_reference"
	IntentClientReference    IntentCategory = "client_reference"
	IntentGeneral            IntentCategory = "general"
)

// SearchMode selects how strictly intent-derived filters are applied.
type SearchMode string

const (
	// SearchModeStrict filters the index to the suggested folders/types.
	SearchModeStrict SearchMode = "strict"
	// SearchModeBoost keeps the full index in play but boosts folder matches.
	SearchModeBoost SearchMode = "boost"
	// SearchModeOpen runs unfiltered semantic search.
	SearchModeOpen SearchMode = "open"
)

// IntentClassification is the outcome of scoring a query against the
// category table. Computed per query; not persisted.
type IntentClassification struct {
	Category               IntentCategory `json:"category"`
	Confidence             float64        `json:"confidence"`
	Mode                   SearchMode     `json:"mode"`
	SuggestedFolders       []string       `json:"suggested_folders,omitempty"`
	SuggestedDocumentTypes []string       `json:"suggested_document_types,omitempty"`
}

// Role identifies which side of the conversation produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one utterance inside a session history.
type ConversationTurn struct {
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Confidence grades how well the retrieved evidence supports an answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceError  Confidence = "error"
)

// SourceRef is a citation carried alongside an answer so the caller can
// render "[1] Wellness Policy" style attributions.
type SourceRef struct {
	SourceID       string  `json:"source_id,omitempty"`
	ChunkID        string  `json:"chunk_id,omitempty"`
	Title          string  `json:"title,omitempty"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RAGAnswer is the single outward-facing result of answering a question.
type RAGAnswer struct {
	Answer            string      `json:"answer"`
	Sources           []SourceRef `json:"sources"`
	Confidence        Confidence  `json:"confidence"`
	StrategyUsed      string      `json:"strategy_used,omitempty"`
	DocumentsSearched int         `json:"documents_searched"`
}
