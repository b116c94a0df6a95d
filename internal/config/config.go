// Package config loads the application configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hunterwarburton/kbot/internal/core"
)

// Config holds every tunable of the pipeline and its outbound services.
type Config struct {
	// Telegram front-end
	TelegramToken  string
	AdminUserIDs   string
	AllowedUserIDs string

	// Milvus search index
	MilvusHost     string
	MilvusPort     string
	CollectionName string

	// OpenAI-compatible services
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	EmbeddingModel  string
	ChatModel       string
	EmbeddingDim    int
	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	CompleteTimeout time.Duration

	// Chunking
	ChunkSize    int
	OverlapSize  int
	MinChunkSize int
	MaxChunkSize int

	// Retrieval
	TopK              int
	PerLegTopK        int
	VectorWeight      float64
	MinRelevanceScore float64
	ExpansionCount    int
	EnableRerank      bool

	// Generation
	ContextBudgetTokens int
	ResponseMaxTokens   int
	Temperature         float64

	// Conversation memory
	MaxHistoryTurns int
	PromptHistory   int

	LogLevel string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; missing required settings are reported by Validate.
func Load() *Config {
	// Best effort; real deployments set plain env vars.
	_ = godotenv.Load()

	return &Config{
		TelegramToken:  os.Getenv("TG_BOT_TOKEN"),
		AdminUserIDs:   os.Getenv("ADMIN_USER_IDS"),
		AllowedUserIDs: os.Getenv("ALLOWED_USER_IDS"),

		MilvusHost:     envOr("MILVUS_HOST", "milvus"),
		MilvusPort:     envOr("MILVUS_PORT", "19530"),
		CollectionName: envOr("MILVUS_COLLECTION", "documents"),

		OpenAIBaseURL:   envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel:  envOr("EMBEDDING_MODEL", "text-embedding-ada-002"),
		ChatModel:       envOr("CHAT_MODEL", "gpt-4"),
		EmbeddingDim:    envIntOr("EMBEDDING_DIM", 1536),
		EmbedTimeout:    envDurationOr("EMBED_TIMEOUT", 30*time.Second),
		SearchTimeout:   envDurationOr("SEARCH_TIMEOUT", 30*time.Second),
		CompleteTimeout: envDurationOr("COMPLETE_TIMEOUT", 120*time.Second),

		ChunkSize:    envIntOr("CHUNK_SIZE", 1000),
		OverlapSize:  envIntOr("OVERLAP_SIZE", 200),
		MinChunkSize: envIntOr("MIN_CHUNK_SIZE", 100),
		MaxChunkSize: envIntOr("MAX_CHUNK_SIZE", 2000),

		TopK:              envIntOr("TOP_K", 10),
		PerLegTopK:        envIntOr("PER_LEG_TOP_K", 5),
		VectorWeight:      envFloatOr("VECTOR_WEIGHT", 0.6),
		MinRelevanceScore: envFloatOr("MIN_RELEVANCE_SCORE", 0.7),
		ExpansionCount:    envIntOr("EXPANSION_COUNT", 4),
		EnableRerank:      envBoolOr("ENABLE_RERANK", true),

		ContextBudgetTokens: envIntOr("CONTEXT_BUDGET_TOKENS", 6000),
		ResponseMaxTokens:   envIntOr("RESPONSE_MAX_TOKENS", 1000),
		Temperature:         envFloatOr("TEMPERATURE", 0.1),

		MaxHistoryTurns: envIntOr("MAX_HISTORY_TURNS", 20),
		PromptHistory:   envIntOr("PROMPT_HISTORY_TURNS", 3),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

// Validate fails fast on settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return core.Configf("OPENAI_API_KEY is required")
	}
	if c.MilvusHost == "" || c.MilvusPort == "" {
		return core.Configf("MILVUS_HOST and MILVUS_PORT are required")
	}
	if c.EmbeddingDim <= 0 {
		return core.Configf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.ChunkSize <= c.OverlapSize {
		return core.Configf("CHUNK_SIZE (%d) must be larger than OVERLAP_SIZE (%d)", c.ChunkSize, c.OverlapSize)
	}
	if c.MinChunkSize > c.ChunkSize {
		return core.Configf("MIN_CHUNK_SIZE (%d) must not exceed CHUNK_SIZE (%d)", c.MinChunkSize, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return core.Configf("TOP_K must be positive, got %d", c.TopK)
	}
	if c.VectorWeight < 0 || c.VectorWeight > 1 {
		return core.Configf("VECTOR_WEIGHT must be in [0,1], got %v", c.VectorWeight)
	}
	if c.ExpansionCount < 1 {
		return core.Configf("EXPANSION_COUNT must be at least 1, got %d", c.ExpansionCount)
	}
	return nil
}

// MilvusAddr returns the host:port address of the index service.
func (c *Config) MilvusAddr() string {
	return c.MilvusHost + ":" + c.MilvusPort
}

func envOr(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func envIntOr(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}

func envFloatOr(key string, defaultValue float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func envBoolOr(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return defaultValue
}

func envDurationOr(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
