package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hunterwarburton/kbot/internal/core"
)

func TestRenderAnswerWithSources(t *testing.T) {
	ans := core.RAGAnswer{
		Answer:     "The policy covers gym subsidies [Source 1].",
		Confidence: core.ConfidenceHigh,
		Sources: []core.SourceRef{
			{Title: "Wellness Policy", SourceID: "wellness"},
			{SourceID: "handbook"},
		},
	}

	out := renderAnswer(ans)
	assert.Contains(t, out, "The policy covers gym subsidies [Source 1].")
	assert.Contains(t, out, "1. Wellness Policy")
	assert.Contains(t, out, "2. handbook")
	assert.NotContains(t, out, "not fully confident")
}

func TestRenderAnswerLowConfidenceDisclaimer(t *testing.T) {
	ans := core.RAGAnswer{
		Answer:     "Possibly.",
		Confidence: core.ConfidenceLow,
		Sources:    []core.SourceRef{{Title: "Doc"}},
	}
	assert.Contains(t, renderAnswer(ans), "not fully confident")

	// No disclaimer when there were no sources at all; the answer body
	// already says nothing was found.
	ans.Sources = nil
	assert.NotContains(t, renderAnswer(ans), "not fully confident")
}

func TestSessionIDIsChatScoped(t *testing.T) {
	assert.Equal(t, "12345", sessionID(12345))
	assert.Equal(t, "-99", sessionID(-99))
}
