package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hunterwarburton/kbot/internal/core"
)

func TestClassifyWellnessPolicy(t *testing.T) {
	c := New()

	got := c.Classify("what is the wellness policy")
	assert.Equal(t, core.IntentPolicy, got.Category)
	assert.GreaterOrEqual(t, got.Confidence, 0.7)
	assert.NotEmpty(t, got.SuggestedFolders)
}

func TestClassifyCategories(t *testing.T) {
	c := New()

	tests := []struct {
		query string
		want  core.IntentCategory
	}{
		{"what is our health and safety policy", core.IntentPolicy},
		{"how do we follow the wind loading procedure guide in the h2h handbook", core.IntentTechnicalProcedure},
		{"minimum cover requirement per NZS 3101 standard", core.IntentStandardsReference},
		{"find a similar project with steel portal frames for reference", core.IntentProjectReference},
		{"client contact details, who works with the client on email", core.IntentClientReference},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Classify(tt.query)
			assert.Equal(t, tt.want, got.Category)
			assert.GreaterOrEqual(t, got.Confidence, 0.7)
		})
	}
}

func TestClassifyLowConfidenceCollapsesToGeneral(t *testing.T) {
	c := New()

	got := c.Classify("tell me something interesting")
	assert.Equal(t, core.IntentGeneral, got.Category)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Equal(t, core.SearchModeOpen, got.Mode)
	assert.Empty(t, got.SuggestedFolders)
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := New()

	got := c.Classify("")
	assert.Equal(t, core.IntentGeneral, got.Category)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestClassifyDeterministic(t *testing.T) {
	c := New()

	first := c.Classify("what is the wellness policy")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify("what is the wellness policy"))
	}
}

func TestModeBands(t *testing.T) {
	assert.Equal(t, core.SearchModeStrict, modeFor(0.85))
	assert.Equal(t, core.SearchModeBoost, modeFor(0.7))
	assert.Equal(t, core.SearchModeOpen, modeFor(0.55))
}
