// Package answer turns ranked retrieval results into a grounded, cited
// answer within a fixed context-token budget.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/logger"
	"github.com/hunterwarburton/kbot/internal/tokens"
)

const groundingSystemPrompt = `You are an assistant that answers questions about internal company documents. ` +
	`Answer using ONLY the numbered source excerpts provided in the user message. ` +
	`Cite the sources you used inline as [Source 1], [Source 2] and so on. ` +
	`If the sources do not contain the answer, say so plainly instead of guessing. ` +
	`Be concise and factual.`

const noResultsFallback = "I couldn't find any relevant documents for that question. " +
	"Try rephrasing it, or check that the material you're after has been ingested."

const completionFallback = "Sorry, I found relevant documents but couldn't produce an answer right now. " +
	"Please try again in a moment."

// Options tune answer generation.
type Options struct {
	// ContextBudget caps the tokens spent on source blocks in the prompt.
	ContextBudget int
	// MaxTokens caps the completion length.
	MaxTokens int
	// Temperature for the completion call.
	Temperature float64
	// PromptHistory is how many recent conversation turns ride along.
	PromptHistory int
	// MaxSources caps the attributed sources on the answer.
	MaxSources int
	// ExcerptLength caps each source excerpt, in characters.
	ExcerptLength int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ContextBudget: 6000,
		MaxTokens:     1000,
		Temperature:   0.1,
		PromptHistory: 3,
		MaxSources:    5,
		ExcerptLength: 200,
	}
}

// Generator assembles prompts and produces RAGAnswers.
type Generator struct {
	completer core.CompletionService
	counter   *tokens.Counter
	opts      Options
}

// New creates a Generator.
func New(completer core.CompletionService, counter *tokens.Counter, opts Options) *Generator {
	def := DefaultOptions()
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = def.ContextBudget
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = def.Temperature
	}
	if opts.PromptHistory <= 0 {
		opts.PromptHistory = def.PromptHistory
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = def.MaxSources
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = def.ExcerptLength
	}
	return &Generator{completer: completer, counter: counter, opts: opts}
}

// Generate answers the question from the given results. An empty result set
// returns the templated fallback without calling the completion service.
// Completion failures also degrade to an answer-shaped payload; the error
// return is reserved for context cancellation.
func (g *Generator) Generate(ctx context.Context, question string, results []core.RankedResult, history []core.ConversationTurn) (core.RAGAnswer, error) {
	if len(results) == 0 {
		return core.RAGAnswer{
			Answer:     noResultsFallback,
			Sources:    []core.SourceRef{},
			Confidence: core.ConfidenceLow,
		}, nil
	}

	contextBlocks, used := g.assembleContext(results)
	userPrompt := fmt.Sprintf("Sources:\n\n%s\nQuestion: %s", contextBlocks, question)

	resp, err := g.completer.Complete(ctx, core.CompletionRequest{
		SystemPrompt: groundingSystemPrompt,
		UserPrompt:   userPrompt,
		History:      tailTurns(history, g.opts.PromptHistory),
		MaxTokens:    g.opts.MaxTokens,
		Temperature:  g.opts.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return core.RAGAnswer{}, ctx.Err()
		}
		logger.Error("Answer generation failed after retry: %v", err)
		return core.RAGAnswer{
			Answer:            completionFallback,
			Sources:           []core.SourceRef{},
			Confidence:        core.ConfidenceLow,
			DocumentsSearched: len(results),
		}, nil
	}

	return core.RAGAnswer{
		Answer:            strings.TrimSpace(resp),
		Sources:           g.sourceRefs(results[:used]),
		Confidence:        confidenceFor(results),
		DocumentsSearched: len(results),
	}, nil
}

// assembleContext renders "[Source i] title\ncontent\n" blocks in rank order
// until the token budget would be exceeded. Blocks are taken whole; a block
// that does not fit is skipped along with everything after it, keeping
// source numbering aligned with rank. Returns the rendered text and how
// many results made it in.
func (g *Generator) assembleContext(results []core.RankedResult) (string, int) {
	var sb strings.Builder
	spent := 0
	used := 0
	for i, res := range results {
		block := fmt.Sprintf("[Source %d] %s\n%s\n\n", i+1, res.Title, res.Content)
		cost := g.counter.Count(block)
		if spent+cost > g.opts.ContextBudget {
			break
		}
		sb.WriteString(block)
		spent += cost
		used++
	}
	logger.Debug("Assembled %d/%d source blocks, %d tokens", used, len(results), spent)
	return sb.String(), used
}

// sourceRefs deduplicates by (source, chunk) and caps the list, preserving
// rank order.
func (g *Generator) sourceRefs(results []core.RankedResult) []core.SourceRef {
	type refKey struct{ source, chunk string }
	seen := make(map[refKey]struct{})
	refs := make([]core.SourceRef, 0, g.opts.MaxSources)
	for _, res := range results {
		key := refKey{res.SourceID, res.ChunkID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, core.SourceRef{
			SourceID:       res.SourceID,
			ChunkID:        res.ChunkID,
			Title:          res.Title,
			Excerpt:        excerpt(res.Content, g.opts.ExcerptLength),
			RelevanceScore: res.Score,
		})
		if len(refs) == g.opts.MaxSources {
			break
		}
	}
	return refs
}

// confidenceFor derives answer confidence from retrieval statistics alone,
// so it is reproducible for a given result set.
func confidenceFor(results []core.RankedResult) core.Confidence {
	if len(results) == 0 {
		return core.ConfidenceLow
	}
	sum := 0.0
	for _, res := range results {
		sum += res.Score
	}
	avg := sum / float64(len(results))
	switch {
	case len(results) >= 3 && avg >= 0.8:
		return core.ConfidenceHigh
	case avg >= 0.6:
		return core.ConfidenceMedium
	default:
		return core.ConfidenceLow
	}
}

func tailTurns(history []core.ConversationTurn, n int) []core.ConversationTurn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func excerpt(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
