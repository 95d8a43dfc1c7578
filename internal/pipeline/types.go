// Package pipeline defines the domain vocabulary shared across every stage:
// sources, raw items, canonical items, and the job payloads that move
// between queues. It mirrors the shape of a crawler's shared types package,
// generalized from "crawl job targeting URLs" to "ingestion job targeting a
// content source".
package pipeline

import "time"

// SourceKind enumerates the closed set of content source kinds. New kinds
// are added here and in the per-kind switches that dispatch on them, never
// through a runtime-registerable adapter map.
type SourceKind string

const (
	SourceKindFeed              SourceKind = "FEED"
	SourceKindWebsite           SourceKind = "WEBSITE"
	SourceKindVideoChannel      SourceKind = "VIDEO_CHANNEL"
	SourceKindPodcastFeed       SourceKind = "PODCAST_FEED"
	SourceKindPodcastDiscovery  SourceKind = "PODCAST_DISCOVERY"
	SourceKindForum             SourceKind = "FORUM"
	SourceKindMicroblog         SourceKind = "MICROBLOG"
	SourceKindUpload            SourceKind = "UPLOAD"
)

// SourceDescriptor is the input to the fetch stage. It is owned by the
// registry and is never persisted by the core; it is expected to arrive
// from configuration or an operator request.
type SourceDescriptor struct {
	ID                  string            `mapstructure:"id" json:"id"`
	Kind                SourceKind        `mapstructure:"kind" json:"kind"`
	DisplayName         string            `mapstructure:"display_name" json:"display_name"`
	Endpoint            string            `mapstructure:"endpoint" json:"endpoint"`
	Enabled             bool              `mapstructure:"enabled" json:"enabled"`
	PollInterval        time.Duration     `mapstructure:"poll_interval" json:"poll_interval"`
	Trusted             bool              `mapstructure:"trusted" json:"trusted"`
	KindSpecificSettings SourceSettings   `mapstructure:"settings" json:"settings"`
}

// SourceSettings is the typed discriminated bag of per-source knobs that
// the normalize stage consults for filtering and moderation. It stays a
// concrete struct rather than an untyped map at this boundary; only once a
// value crosses the wire to the collaborator does it flatten into an
// opaque attributes bag.
type SourceSettings struct {
	IncludeKeywords     []string       `mapstructure:"include_keywords" json:"include_keywords"`
	ExcludeKeywords     []string       `mapstructure:"exclude_keywords" json:"exclude_keywords"`
	MinEngagement       int            `mapstructure:"min_engagement" json:"min_engagement"`
	MinContentLength    int            `mapstructure:"min_content_length" json:"min_content_length"`
	BlockedKeywords     []string       `mapstructure:"blocked_keywords" json:"blocked_keywords"`
	PerProviderAPIKey   string         `mapstructure:"api_key" json:"-"`
	Extra               map[string]any `mapstructure:"extra" json:"extra"`
}

// Engagement captures the social-proof counters a raw item may carry.
type Engagement struct {
	Likes    int `json:"likes"`
	Shares   int `json:"shares"`
	Comments int `json:"comments"`
	Views    int `json:"views"`
	Score    int `json:"score"`
}

// Sum adds up the fields the normalize stage's min_engagement filter uses.
func (e Engagement) Sum() int {
	return e.Likes + e.Shares + e.Comments + e.Score
}

// RawItem is the ephemeral output of a fetch adapter. It lives for exactly
// one normalize job.
type RawItem struct {
	ExternalID      string            `json:"external_id"`
	Kind            SourceKind        `json:"kind"`
	URL             string            `json:"url"`
	Title           string            `json:"title"`
	Body            string            `json:"body,omitempty"`
	Excerpt         string            `json:"excerpt,omitempty"`
	Author          string            `json:"author,omitempty"`
	PublishedAt     *time.Time        `json:"published_at,omitempty"`
	ThumbnailURL    string            `json:"thumbnail_url,omitempty"`
	DurationSeconds *int              `json:"duration_seconds,omitempty"`
	Engagement      *Engagement       `json:"engagement,omitempty"`
	Attributes      map[string]any    `json:"attributes"`
	FetchedAt       time.Time         `json:"fetched_at"`

	// IdempotencyKey is a caller-supplied key for UPLOAD sources only. A
	// manual upload's collaborator trusts it verbatim instead of having
	// normalize derive one from URL/title per §4.B.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ContentType enumerates the canonical item types the collaborator stores.
type ContentType string

const (
	ContentTypeArticle ContentType = "ARTICLE"
	ContentTypeVideo   ContentType = "VIDEO"
	ContentTypeTweet   ContentType = "TWEET"
	ContentTypeComment ContentType = "COMMENT"
	ContentTypePodcast ContentType = "PODCAST"
)

// ContentStatus enumerates the canonical item lifecycle states.
type ContentStatus string

const (
	ContentStatusPending    ContentStatus = "PENDING"
	ContentStatusProcessing ContentStatus = "PROCESSING"
	ContentStatusReady      ContentStatus = "READY"
	ContentStatusFailed     ContentStatus = "FAILED"
	ContentStatusArchived   ContentStatus = "ARCHIVED"
)

// ModerationDecision enumerates the moderation outcomes the normalize
// stage attaches to a canonical item's attributes.
type ModerationDecision string

const (
	ModerationAutoApproved ModerationDecision = "AUTO_APPROVED"
	ModerationNeedsReview  ModerationDecision = "NEEDS_REVIEW"
	ModerationAutoRejected ModerationDecision = "AUTO_REJECTED"
)

// CanonicalItem is the normalize stage's output and the payload handed to
// the CMS collaborator's create_or_get operation.
type CanonicalItem struct {
	IdempotencyKey  string          `json:"idempotency_key"`
	Type            ContentType     `json:"type"`
	SourceKind      SourceKind      `json:"source_kind"`
	Status          ContentStatus   `json:"status"`
	Title           string          `json:"title"`
	BodyText        string          `json:"body_text,omitempty"`
	Excerpt         string          `json:"excerpt,omitempty"`
	Author          string          `json:"author,omitempty"`
	SourceName      string          `json:"source_name"`
	SourceFeedURL   string          `json:"source_feed_url,omitempty"`
	MediaURL        string          `json:"media_url,omitempty"`
	ThumbnailURL    string          `json:"thumbnail_url,omitempty"`
	OriginalURL     string          `json:"original_url"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	TopicTags       []string        `json:"topic_tags"`
	Attributes      map[string]any  `json:"attributes"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
}

// MediaReady reports whether attributes carry a ready-made media URL, per
// the normalize fan-out table (4.G).
func (c CanonicalItem) MediaReady() bool {
	v, ok := c.Attributes["media_ready"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Moderation reads back the moderation decision an item was stamped with.
func (c CanonicalItem) Moderation() (ModerationDecision, bool) {
	v, ok := c.Attributes["moderation"]
	if !ok {
		return "", false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	d, _ := m["decision"].(string)
	return ModerationDecision(d), d != ""
}

// TriggerSource distinguishes scheduled polls from manual requests.
type TriggerSource string

const (
	TriggeredBySchedule TriggerSource = "schedule"
	TriggeredByManual   TriggerSource = "manual"
)

// FetchJob asks the fetch stage to poll one source.
type FetchJob struct {
	SourceID    string         `json:"source_id"`
	Kind        SourceKind     `json:"kind"`
	Settings    SourceSettings `json:"settings"`
	Cursor      string         `json:"cursor,omitempty"`
	TriggeredBy TriggerSource  `json:"triggered_by"`
	TriggeredAt time.Time      `json:"triggered_at"`
}

// NormalizeJob asks the normalize stage to canonicalize one fetched batch.
type NormalizeJob struct {
	SourceID       string         `json:"source_id"`
	Kind           SourceKind     `json:"kind"`
	RawItems       []RawItem      `json:"raw_items"`
	SourceSettings SourceSettings `json:"source_settings"`
	SourceTrusted  bool           `json:"source_trusted"`
	ParentFetchID  string         `json:"parent_fetch_id"`
}

// MediaOperation enumerates the steps the media stage may run.
type MediaOperation string

const (
	MediaOpDownload  MediaOperation = "download"
	MediaOpTranscode MediaOperation = "transcode"
	MediaOpThumbnail MediaOperation = "thumbnail"
)

// MediaJob asks the media stage to download/transcode/thumbnail a content
// item's source media and publish artifacts.
type MediaJob struct {
	ContentID          string           `json:"content_id"`
	Type               ContentType      `json:"type"`
	SourceURL          string           `json:"source_url"`
	SourceThumbnailURL string           `json:"source_thumbnail_url,omitempty"`
	Operations         []MediaOperation `json:"operations"`
}

// EnrichmentOperation enumerates the steps the enrichment stage may run.
type EnrichmentOperation string

const (
	EnrichmentOpTranscript EnrichmentOperation = "transcript"
	EnrichmentOpEmbedding  EnrichmentOperation = "embedding"
)

// TextFields is the text the embedding step draws on, gathered up front so
// the enrichment stage does not need to re-fetch the canonical record.
type TextFields struct {
	Title   string `json:"title"`
	Body    string `json:"body,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// EnrichmentJob asks the enrichment stage to transcribe and/or embed a
// content item.
type EnrichmentJob struct {
	ContentID  string                 `json:"content_id"`
	Type       ContentType            `json:"type"`
	Operations []EnrichmentOperation  `json:"operations"`
	TextFields TextFields             `json:"text_fields"`
	TopicTags  []string               `json:"topic_tags,omitempty"`
	MediaPath  string                 `json:"media_path,omitempty"`
	MediaURL   string                 `json:"media_url,omitempty"`
}

// DeadLetter is the terminal record written when a job exhausts retries.
type DeadLetter struct {
	OriginalQueue  string    `json:"original_queue"`
	OriginalJobID  string    `json:"original_job_id"`
	Payload        []byte    `json:"payload"`
	FailureReason  string    `json:"failure_reason"`
	FailedAt       time.Time `json:"failed_at"`
	Attempts       int       `json:"attempts"`
}
