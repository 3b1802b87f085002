package risk

import (
	"strings"

	"github.com/propdesk/propdesk/internal/domain"
)

// CategoryOther is the shared catch-all bucket for markets that cannot be
// classified. Lumping every unclassified market into one 10% bucket is
// intentionally more restrictive than spreading them out; it can never be
// used to bypass the per-category cap.
const CategoryOther = "other"

// categories are the eight fixed exposure buckets.
var categories = map[string]bool{
	"politics":      true,
	"sports":        true,
	"crypto":        true,
	"economics":     true,
	"science":       true,
	"entertainment": true,
	"climate":       true,
	CategoryOther:   true,
}

// categoryKeywords maps question keywords to a category, used when the
// upstream metadata carries no classification.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"election", "politics"},
	{"president", "politics"},
	{"senate", "politics"},
	{"congress", "politics"},
	{"nfl", "sports"},
	{"nba", "sports"},
	{"premier league", "sports"},
	{"world cup", "sports"},
	{"super bowl", "sports"},
	{"bitcoin", "crypto"},
	{"btc", "crypto"},
	{"ethereum", "crypto"},
	{"eth", "crypto"},
	{"fed", "economics"},
	{"interest rate", "economics"},
	{"inflation", "economics"},
	{"gdp", "economics"},
	{"recession", "economics"},
	{"spacex", "science"},
	{"nasa", "science"},
	{"vaccine", "science"},
	{"oscar", "entertainment"},
	{"grammy", "entertainment"},
	{"box office", "entertainment"},
	{"hurricane", "climate"},
	{"temperature", "climate"},
	{"rainfall", "climate"},
}

// Classify resolves a market to one of the eight fixed categories: the
// upstream category when it is recognised, otherwise a keyword match on the
// question, otherwise the "other" bucket.
func Classify(m domain.Market) string {
	if cat := strings.ToLower(strings.TrimSpace(m.Category)); categories[cat] {
		return cat
	}

	question := strings.ToLower(m.Question)
	for _, kw := range categoryKeywords {
		if strings.Contains(question, kw.keyword) {
			return kw.category
		}
	}

	return CategoryOther
}
