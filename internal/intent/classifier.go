// Package intent scores free-text queries against a fixed category table to
// pick a retrieval strategy. Pure scoring, no learning, no state.
package intent

import (
	"regexp"
	"strings"

	"github.com/hunterwarburton/kbot/internal/core"
)

// Strategy confidence bands: a winning category above strictThreshold gets
// hard index filtering, between boostThreshold and strictThreshold it gets
// soft boosting, below boostThreshold the search runs unfiltered.
const (
	confidenceThreshold = 0.7
	strictThreshold     = 0.8
	boostThreshold      = 0.6

	keywordWeight = 0.4
	patternWeight = 0.6
)

// category is one row of the declarative intent table.
type category struct {
	name          core.IntentCategory
	keywords      []string
	patterns      []*regexp.Regexp
	folders       []string
	documentTypes []string
}

// Classifier holds the compiled category table.
type Classifier struct {
	categories []category
}

// New compiles the default category table.
func New() *Classifier {
	return &Classifier{categories: defaultCategories()}
}

// Classify scores query against every category. The best score wins; if it
// falls below the confidence threshold the result collapses to general with
// confidence fixed at 0.5. Ties keep the earlier table row, so output is
// deterministic for identical input.
func (c *Classifier) Classify(query string) core.IntentClassification {
	q := strings.ToLower(strings.TrimSpace(query))

	var best *category
	bestScore := 0.0

	for i := range c.categories {
		cat := &c.categories[i]

		matchedKeywords := 0
		for _, kw := range cat.keywords {
			if strings.Contains(q, kw) {
				matchedKeywords++
			}
		}
		keywordScore := float64(matchedKeywords) / float64(len(cat.keywords))

		matchedPatterns := 0
		for _, p := range cat.patterns {
			if p.MatchString(q) {
				matchedPatterns++
			}
		}
		patternScore := 0.0
		if len(cat.patterns) > 0 {
			patternScore = float64(matchedPatterns) / float64(len(cat.patterns))
		}

		score := keywordWeight*keywordScore + patternWeight*patternScore
		if score > bestScore {
			bestScore = score
			best = cat
		}
	}

	if best == nil || bestScore < confidenceThreshold {
		return core.IntentClassification{
			Category:   core.IntentGeneral,
			Confidence: 0.5,
			Mode:       core.SearchModeOpen,
		}
	}

	return core.IntentClassification{
		Category:               best.name,
		Confidence:             bestScore,
		Mode:                   modeFor(bestScore),
		SuggestedFolders:       best.folders,
		SuggestedDocumentTypes: best.documentTypes,
	}
}

func modeFor(confidence float64) core.SearchMode {
	switch {
	case confidence > strictThreshold:
		return core.SearchModeStrict
	case confidence > boostThreshold:
		return core.SearchModeBoost
	default:
		return core.SearchModeOpen
	}
}
