package intent

import (
	"regexp"

	"github.com/hunterwarburton/kbot/internal/core"
)

// defaultCategories is the intent table. Keyword sets are deliberately
// small: the score is the fraction of the set that matched, so padding a
// category with rare synonyms only dilutes its own confidence.
func defaultCategories() []category {
	return []category{
		{
			name: core.IntentPolicy,
			keywords: []string{
				"policy", "policies", "wellness", "h&s",
				"health and safety", "leave", "code of conduct", "compliance",
			},
			patterns: compile(
				`what.*(?:our|the|company).*polic(?:y|ies)`,
				`polic(?:y|ies)\b`,
				`(?:wellness|safety|employment|it|leave|hr).*polic(?:y|ies)`,
			),
			folders: []string{"Health & Safety", "IT Policy", "Employment", "Quality"},
		},
		{
			name: core.IntentTechnicalProcedure,
			keywords: []string{
				"how to", "how do i", "procedure", "process",
				"handbook", "h2h", "guide", "best practice",
			},
			patterns: compile(
				`how\s+(?:to|do|we)`,
				`(?:procedure|process|method)`,
				`(?:h2h|handbook|guide)`,
			),
			folders: []string{"H2H", "Technical Procedures", "Engineering Procedures"},
		},
		{
			name: core.IntentStandardsReference,
			keywords: []string{
				"standard", "standards", "nzs", "building code",
				"specification", "requirement", "seismic", "loading",
			},
			patterns: compile(
				`nzs?\s*\d+`,
				`(?:standard|code)s?\b`,
				`(?:minimum|required|requirement).*(?:per|under|cover|loading)`,
			),
			folders: []string{"Engineering Standards", "NZ Standards", "Codes"},
		},
		{
			name: core.IntentProjectReference,
			keywords: []string{
				"project", "past project", "similar project", "job",
				"example", "case study", "reference", "experience",
			},
			patterns: compile(
				`(?:past|previous|similar).*project`,
				`project.*(?:like|similar|about|for|with|involving)`,
				`\bproject\b`,
			),
			folders: []string{"Projects"},
		},
		{
			name: core.IntentClientReference,
			keywords: []string{
				"client", "contact", "phone", "email",
				"client details", "who works", "projects with", "work for",
			},
			patterns: compile(
				`client.*(?:contact|detail|information|phone|email|history)`,
				`(?:projects|work|worked).*(?:with|for)`,
				`\bclient\b`,
			),
			folders: []string{"Clients", "01 Admin Documents"},
		},
	}
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}
