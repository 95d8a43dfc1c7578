package normalize

import (
	"strings"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

const defaultMinContentLength = 80

// combinedText is the title ∪ excerpt ∪ body union the filter and
// moderation rules match against, per §4.G.
func combinedText(item pipeline.CanonicalItem) string {
	var b strings.Builder
	b.WriteString(item.Title)
	b.WriteByte(' ')
	b.WriteString(item.Excerpt)
	b.WriteByte(' ')
	b.WriteString(item.BodyText)
	return b.String()
}

func containsAnyKeyword(haystack string, keywords []string) bool {
	lower := strings.ToLower(haystack)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// passesSourceFilters applies include_keywords/exclude_keywords/
// min_engagement, in that order. Matching is case-insensitive substring.
func passesSourceFilters(item pipeline.CanonicalItem, engagement *pipeline.Engagement, settings pipeline.SourceSettings) bool {
	text := combinedText(item)
	if len(settings.IncludeKeywords) > 0 && !containsAnyKeyword(text, settings.IncludeKeywords) {
		return false
	}
	if containsAnyKeyword(text, settings.ExcludeKeywords) {
		return false
	}
	if settings.MinEngagement > 0 {
		sum := 0
		if engagement != nil {
			sum = engagement.Sum()
		}
		if sum < settings.MinEngagement {
			return false
		}
	}
	return true
}
