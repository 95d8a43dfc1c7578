package normalize

import (
	"github.com/ingestlane/pipeline/internal/pipeline"
)

const minTitleLengthForReview = 8

// decideModeration implements §4.G step 3's moderation rules and returns
// the decision plus the status it forces, if any.
func decideModeration(item pipeline.CanonicalItem, trusted bool, settings pipeline.SourceSettings) pipeline.ModerationDecision {
	if trusted {
		return pipeline.ModerationAutoApproved
	}
	text := combinedText(item)
	if containsAnyKeyword(text, settings.BlockedKeywords) {
		return pipeline.ModerationAutoRejected
	}
	minLen := settings.MinContentLength
	if minLen <= 0 {
		minLen = defaultMinContentLength
	}
	if len(item.Title) < minTitleLengthForReview || len(text) < minLen {
		return pipeline.ModerationNeedsReview
	}
	return pipeline.ModerationAutoApproved
}

// applyModeration stamps attributes.moderation and forces status per the
// decision table, never to be re-evaluated later in the item's lifecycle
// (resolves the moderation/enrichment interaction open question: this is
// the single, final gate).
func applyModeration(item *pipeline.CanonicalItem, decision pipeline.ModerationDecision) {
	if item.Attributes == nil {
		item.Attributes = map[string]any{}
	}
	item.Attributes["moderation"] = map[string]any{
		"decision": string(decision),
		"reviewed": false,
	}
	switch decision {
	case pipeline.ModerationAutoRejected:
		item.Status = pipeline.ContentStatusArchived
	default:
		item.Status = pipeline.ContentStatusPending
	}
}

// refineStatus upgrades a PENDING, AUTO_APPROVED item to READY only when
// its type needs no further stage at all: ARTICLE/TWEET/COMMENT never fan
// out to media or enrichment. VIDEO/PODCAST items stay PENDING regardless
// of media_ready, since either the media stage or the enrichment stage
// still has to run for them — per §4.I, READY is enrichment's call to
// make at finalization, not normalize's. NEEDS_REVIEW items stay PENDING
// regardless of type, awaiting a human reviewer through the admin API.
func refineStatus(item *pipeline.CanonicalItem, decision pipeline.ModerationDecision) {
	if decision != pipeline.ModerationAutoApproved {
		return
	}
	switch item.Type {
	case pipeline.ContentTypeArticle, pipeline.ContentTypeTweet, pipeline.ContentTypeComment:
		item.Status = pipeline.ContentStatusReady
	}
}
