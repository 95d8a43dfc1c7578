package normalize

import (
	"net/url"
	"strings"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

const maxTitleLength = 255

// kindContentType maps a source kind to the canonical content type its
// items map to by default, per §4.G step 1.
var kindContentType = map[pipeline.SourceKind]pipeline.ContentType{
	pipeline.SourceKindFeed:         pipeline.ContentTypeArticle,
	pipeline.SourceKindWebsite:      pipeline.ContentTypeArticle,
	pipeline.SourceKindVideoChannel: pipeline.ContentTypeVideo,
	pipeline.SourceKindPodcastFeed:  pipeline.ContentTypePodcast,
	pipeline.SourceKindForum:        pipeline.ContentTypeComment,
	pipeline.SourceKindMicroblog:    pipeline.ContentTypeTweet,
	pipeline.SourceKindUpload:       pipeline.ContentTypeArticle,
}

// mapToCanonical normalizes a raw item into its canonical shape: it sets
// type, derives source_name, coerces the title length, and copies over
// the fields every downstream stage needs. It does not set status,
// moderation, or idempotency_key; those are the caller's responsibility
// once filters and moderation have run.
func mapToCanonical(raw pipeline.RawItem, kind pipeline.SourceKind) pipeline.CanonicalItem {
	contentType := kindContentType[kind]
	if contentType == "" {
		contentType = pipeline.ContentTypeArticle
	}

	title := raw.Title
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	attrs := raw.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}

	item := pipeline.CanonicalItem{
		Type:          contentType,
		SourceKind:    kind,
		Title:         title,
		BodyText:      raw.Body,
		Excerpt:       raw.Excerpt,
		Author:        raw.Author,
		SourceName:    deriveSourceName(raw, kind),
		OriginalURL:   raw.URL,
		ThumbnailURL:  raw.ThumbnailURL,
		Attributes:    attrs,
		PublishedAt:   raw.PublishedAt,
	}
	if raw.DurationSeconds != nil {
		item.DurationSeconds = raw.DurationSeconds
	}
	if v, ok := attrs["media_ready"]; ok {
		if ready, ok := v.(bool); ok && ready {
			if mediaURL, ok := attrs["media_url"].(string); ok {
				item.MediaURL = mediaURL
			}
		}
	}
	return item
}

// deriveSourceName prefers the item's own author/channel attribution and
// falls back to the URL's hostname.
func deriveSourceName(raw pipeline.RawItem, kind pipeline.SourceKind) string {
	switch kind {
	case pipeline.SourceKindVideoChannel, pipeline.SourceKindPodcastFeed:
		if raw.Author != "" {
			return raw.Author
		}
	}
	if raw.URL == "" {
		return ""
	}
	parsed, err := url.Parse(raw.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}
