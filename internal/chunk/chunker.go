// Package chunk splits raw document text into bounded, overlapping passages
// ready for embedding and indexing.
package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/tokens"
)

// Options controls chunk sizing. All sizes are in model tokens.
type Options struct {
	ChunkSize    int
	OverlapSize  int
	MinChunkSize int
	MaxChunkSize int
	// RespectParagraphBoundaries chunks each paragraph independently so
	// overlap never crosses a blank-line break when avoidable.
	RespectParagraphBoundaries bool
}

// DefaultOptions mirrors the production index configuration.
func DefaultOptions() Options {
	return Options{
		ChunkSize:                  1000,
		OverlapSize:                200,
		MinChunkSize:               100,
		MaxChunkSize:               2000,
		RespectParagraphBoundaries: true,
	}
}

// Chunker is a pure function of its input and options; it holds no state
// beyond the shared token counter.
type Chunker struct {
	opts    Options
	counter *tokens.Counter
}

// New creates a Chunker. The counter is shared with the answer generator so
// every budget uses the same encoding.
func New(opts Options, counter *tokens.Counter) *Chunker {
	if opts.ChunkSize <= 0 {
		opts = DefaultOptions()
	}
	return &Chunker{opts: opts, counter: counter}
}

var (
	multiBlankRe  = regexp.MustCompile(`\n\s*\n\s*\n+`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
	paragraphRe   = regexp.MustCompile(`\n\s*\n`)
	sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

	quoteFolder = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"—", "-", "–", "-",
	)
)

// Chunk splits text into passages. SourceID and title are read from the
// metadata keys "source_id" and "title"; chunk IDs are derived from
// (sourceID, ordinal) so re-ingestion overwrites rather than duplicates.
func (c *Chunker) Chunk(text string, metadata map[string]interface{}) []core.Chunk {
	text = normalize(text)
	if text == "" {
		return nil
	}

	sourceID := metaString(metadata, "source_id")
	title := metaString(metadata, "title")

	var windows []string
	if c.opts.RespectParagraphBoundaries {
		for _, para := range splitParagraphs(text) {
			windows = append(windows, c.windowSentences(splitSentences(para))...)
		}
	} else {
		windows = c.windowSentences(splitSentences(text))
	}

	return c.postProcess(windows, sourceID, title, metadata)
}

// windowSentences accumulates sentences until the next one would push the
// window past ChunkSize while the window already holds at least
// MinChunkSize tokens. A new window is seeded with trailing sentences worth
// up to OverlapSize tokens from the previous one.
func (c *Chunker) windowSentences(sentences []string) []string {
	var out []string
	var window []string
	windowTokens := 0

	for _, sentence := range sentences {
		sentTokens := c.counter.Count(sentence)

		if windowTokens+sentTokens > c.opts.ChunkSize &&
			len(window) > 0 &&
			windowTokens >= c.opts.MinChunkSize {
			out = append(out, strings.Join(window, " "))

			overlap := c.overlapSentences(window)
			window = append(overlap, sentence)
			windowTokens = c.counter.Count(strings.Join(window, " "))
			continue
		}

		window = append(window, sentence)
		windowTokens += sentTokens
	}

	if len(window) > 0 {
		out = append(out, strings.Join(window, " "))
	}
	return out
}

// overlapSentences walks backwards collecting whole sentences until the
// overlap budget is exhausted.
func (c *Chunker) overlapSentences(window []string) []string {
	var overlap []string
	used := 0
	for i := len(window) - 1; i >= 0; i-- {
		n := c.counter.Count(window[i])
		if used+n > c.opts.OverlapSize {
			break
		}
		overlap = append([]string{window[i]}, overlap...)
		used += n
	}
	return overlap
}

// postProcess drops undersized windows and truncates oversized ones. A lone
// window shorter than MinChunkSize survives so very short documents still
// produce one chunk; an oversized single sentence is emitted then truncated
// to MaxChunkSize instead of being dropped.
func (c *Chunker) postProcess(windows []string, sourceID, title string, metadata map[string]interface{}) []core.Chunk {
	var chunks []core.Chunk
	ordinal := 0

	for _, content := range windows {
		n := c.counter.Count(content)
		if n < c.opts.MinChunkSize && len(windows) > 1 {
			continue
		}
		if n > c.opts.MaxChunkSize {
			content = c.counter.Truncate(content, c.opts.MaxChunkSize)
			n = c.opts.MaxChunkSize
		}

		chunks = append(chunks, core.Chunk{
			ID:           ChunkID(sourceID, ordinal),
			Content:      content,
			SourceTitle:  title,
			SourceID:     sourceID,
			OrdinalIndex: ordinal,
			TokenCount:   n,
			Metadata:     cloneMetadata(metadata),
		})
		ordinal++
	}
	return chunks
}

// ChunkID derives the deterministic identity of a chunk from its source
// document and position within it.
func ChunkID(sourceID string, ordinal int) string {
	return fmt.Sprintf("%s:%04d", sourceID, ordinal)
}

func normalize(text string) string {
	text = quoteFolder.Replace(text)
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences breaks text on terminal punctuation followed by space.
// The terminator stays attached to its sentence.
func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func cloneMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
