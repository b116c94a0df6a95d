package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/kbot/internal/tokens"
)

func newTestChunker(t *testing.T, opts Options) *Chunker {
	t.Helper()
	counter, err := tokens.NewCounter()
	require.NoError(t, err)
	return New(opts, counter)
}

func testOptions() Options {
	return Options{
		ChunkSize:                  40,
		OverlapSize:                10,
		MinChunkSize:               5,
		MaxChunkSize:               80,
		RespectParagraphBoundaries: true,
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := newTestChunker(t, testOptions())

	assert.Nil(t, c.Chunk("", nil))
	assert.Nil(t, c.Chunk("   \n\n  \t ", nil))
}

func TestChunkNormalizesText(t *testing.T) {
	c := newTestChunker(t, testOptions())

	chunks := c.Chunk("He said “hello” — twice.\t Then  left.", map[string]interface{}{
		"source_id": "doc-1",
	})
	require.Len(t, chunks, 1)
	assert.Equal(t, `He said "hello" - twice. Then left.`, chunks[0].Content)
}

func TestChunkShortDocumentSingleChunk(t *testing.T) {
	c := newTestChunker(t, testOptions())

	// Below MinChunkSize, but the whole document; must not be dropped.
	chunks := c.Chunk("Tiny note.", map[string]interface{}{"source_id": "doc-1"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Tiny note.", chunks[0].Content)
}

func TestChunkWindowsWithOverlap(t *testing.T) {
	opts := testOptions()
	opts.RespectParagraphBoundaries = false
	c := newTestChunker(t, opts)

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the river bank. ")
	}
	chunks := c.Chunk(b.String(), map[string]interface{}{"source_id": "doc-1"})
	require.Greater(t, len(chunks), 1)

	counter, err := tokens.NewCounter()
	require.NoError(t, err)

	for i, ch := range chunks {
		assert.LessOrEqual(t, counter.Count(ch.Content), opts.MaxChunkSize)
		if i == 0 {
			continue
		}
		// Each chunk starts with sentences taken from the tail of the
		// previous one.
		firstSentence := strings.SplitAfter(ch.Content, ".")[0]
		assert.Contains(t, chunks[i-1].Content, firstSentence,
			"chunk %d should overlap the tail of chunk %d", i, i-1)
	}
}

func TestChunkCoversAllContent(t *testing.T) {
	opts := testOptions()
	opts.RespectParagraphBoundaries = false
	opts.MinChunkSize = 1
	c := newTestChunker(t, opts)

	sentences := []string{
		"Alpha systems require annual inspection by a chartered engineer.",
		"Bravo structures are reviewed every five years at minimum.",
		"Charlie reports must cite the governing loading standard.",
		"Delta assessments always include a site walkover first.",
		"Echo files are archived once the project closes out.",
		"Foxtrot drawings need a verification signature before issue.",
	}
	text := strings.Join(sentences, " ")
	chunks := c.Chunk(text, map[string]interface{}{"source_id": "doc-1"})
	require.NotEmpty(t, chunks)

	joined := ""
	for _, ch := range chunks {
		joined += " " + ch.Content
	}
	for _, s := range sentences {
		assert.Contains(t, joined, s)
	}
}

func TestChunkParagraphBoundariesIsolateOverlap(t *testing.T) {
	c := newTestChunker(t, testOptions())

	text := "First paragraph about wellness policy and employee support programs offered on site.\n\n" +
		"Second paragraph about structural steel checks and connection design review notes."
	chunks := c.Chunk(text, map[string]interface{}{"source_id": "doc-1"})
	require.Len(t, chunks, 2)

	// No overlap may leak across the paragraph break.
	assert.NotContains(t, chunks[1].Content, "wellness")
	assert.NotContains(t, chunks[0].Content, "steel")
}

func TestChunkOversizedSentenceEmittedAndTruncated(t *testing.T) {
	opts := testOptions()
	opts.MaxChunkSize = 30
	c := newTestChunker(t, opts)

	// One run-on sentence far beyond ChunkSize, with no terminal
	// punctuation until the very end.
	long := strings.Repeat("verylongword ", 120) + "end."
	chunks := c.Chunk(long, map[string]interface{}{"source_id": "doc-1"})
	require.Len(t, chunks, 1)

	counter, err := tokens.NewCounter()
	require.NoError(t, err)
	assert.LessOrEqual(t, counter.Count(chunks[0].Content), opts.MaxChunkSize)
	assert.NotEmpty(t, chunks[0].Content)
}

func TestChunkIDsDeterministic(t *testing.T) {
	c := newTestChunker(t, testOptions())
	meta := map[string]interface{}{"source_id": "handbook-7", "title": "H2H Handbook"}

	first := c.Chunk("One sentence here. Another sentence there.", meta)
	second := c.Chunk("One sentence here. Another sentence there.", meta)
	require.Equal(t, len(first), len(second))

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, "handbook-7", first[i].SourceID)
		assert.Equal(t, "H2H Handbook", first[i].SourceTitle)
		assert.Equal(t, i, first[i].OrdinalIndex)
	}
	assert.Equal(t, "handbook-7:0000", first[0].ID)
}

func TestChunkMetadataIsCopied(t *testing.T) {
	c := newTestChunker(t, testOptions())
	meta := map[string]interface{}{"source_id": "doc-1", "folder": "Policies"}

	chunks := c.Chunk("A single small chunk of text.", meta)
	require.Len(t, chunks, 1)

	chunks[0].Metadata["folder"] = "mutated"
	assert.Equal(t, "Policies", meta["folder"])
}
