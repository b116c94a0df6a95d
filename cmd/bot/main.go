package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hunterwarburton/kbot/internal/answer"
	"github.com/hunterwarburton/kbot/internal/auth"
	"github.com/hunterwarburton/kbot/internal/chunk"
	"github.com/hunterwarburton/kbot/internal/config"
	"github.com/hunterwarburton/kbot/internal/embed"
	"github.com/hunterwarburton/kbot/internal/history"
	"github.com/hunterwarburton/kbot/internal/intent"
	"github.com/hunterwarburton/kbot/internal/llm"
	"github.com/hunterwarburton/kbot/internal/logger"
	"github.com/hunterwarburton/kbot/internal/pipeline"
	"github.com/hunterwarburton/kbot/internal/rag"
	"github.com/hunterwarburton/kbot/internal/retrieve"
	"github.com/hunterwarburton/kbot/internal/telegram"
	"github.com/hunterwarburton/kbot/internal/tokens"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel == "debug")

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counter, err := tokens.NewCounter()
	if err != nil {
		logger.Error("Failed to load tokenizer: %v", err)
		os.Exit(1)
	}

	store, err := rag.NewMilvusStore(ctx, cfg.MilvusAddr(), cfg.CollectionName, cfg.EmbeddingDim)
	if err != nil {
		logger.Error("Failed to connect to Milvus: %v", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	if err := store.EnsureCollection(ctx); err != nil {
		logger.Error("Failed to prepare collection: %v", err)
		os.Exit(1)
	}

	embedder := embed.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel,
		cfg.EmbeddingDim, cfg.EmbedTimeout, counter)
	completer := llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ChatModel, cfg.CompleteTimeout)

	chunker := chunk.New(chunk.Options{
		ChunkSize:                  cfg.ChunkSize,
		OverlapSize:                cfg.OverlapSize,
		MinChunkSize:               cfg.MinChunkSize,
		MaxChunkSize:               cfg.MaxChunkSize,
		RespectParagraphBoundaries: true,
	}, counter)

	retriever := retrieve.New(store, embedder, completer, retrieve.Options{
		TopK:          cfg.TopK,
		PerLegK:       cfg.PerLegTopK,
		MaxExpansions: cfg.ExpansionCount,
		VectorWeight:  cfg.VectorWeight,
		MinRelevance:  cfg.MinRelevanceScore,
		Rerank:        cfg.EnableRerank,
	})

	generator := answer.New(completer, counter, answer.Options{
		ContextBudget: cfg.ContextBudgetTokens,
		MaxTokens:     cfg.ResponseMaxTokens,
		Temperature:   cfg.Temperature,
		PromptHistory: cfg.PromptHistory,
	})

	pipe := pipeline.New(chunker, embedder, store, intent.New(), retriever, generator,
		history.NewStore(cfg.MaxHistoryTurns))

	policy := auth.NewPolicyService(cfg.AdminUserIDs, cfg.AllowedUserIDs)
	tgBot, err := telegram.NewBot(cfg.TelegramToken, pipe, pipe, policy)
	if err != nil {
		logger.Error("Failed to start Telegram bot: %v", err)
		os.Exit(1)
	}

	tgBot.Start(ctx)
	logger.Info("Shutting down")
}
