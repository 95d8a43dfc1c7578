// Package normalize implements the normalize stage (component G): per-item
// canonicalization, source filters, moderation, deduplication, the CMS
// create_or_get call, and fan-out to the media/enrichment queues.
// Grounded on internal/crawler/crawler.go's batch-processing loop
// structure (validate, classify, persist, enqueue follow-on work per
// item) generalized from "crawl job" granularity to "one fetched batch".
package normalize

import (
	"context"
	"time"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/dedup"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

const (
	mediaQueue      = "media"
	enrichmentQueue = "enrichment"
)

// CMSClient is the collaborator consulted to create or fetch a canonical
// content record. Implementations must be idempotent by
// item.IdempotencyKey.
type CMSClient interface {
	CreateOrGet(ctx context.Context, item pipeline.CanonicalItem) (contentID string, err error)
}

// DedupStore is the seen-set consulted before every CMS create_or_get
// call. *dedup.Store (in-process TTL map), *dedup.BadgerStore (durable
// on-disk), and *dedup.PostgresStore (durable relational) all satisfy
// this without needing to be referenced by pointer type here, since Go
// accepts any concrete type meeting the interface.
type DedupStore interface {
	Check(key string) dedup.Result
	Mark(key, contentID string, ttl time.Duration)
}

// BatchCounts is the aggregate telemetry a normalize batch produces,
// per §4.G's tie-break rules.
type BatchCounts struct {
	Fetched            int
	Failed             int
	Filtered           int
	Duplicates         int
	ModerationApproved int
	ModerationReview   int
	ModerationRejected int
	MediaEnqueued      int
	EnrichmentEnqueued int
}

// Stage is the normalize stage's runtime: dedup lookup, CMS collaborator,
// and the job queue it fans out to.
type Stage struct {
	dedup    DedupStore
	cms      CMSClient
	breakers *breaker.Registry
	queue    *jobqueue.Store
}

// New builds a normalize Stage.
func New(dedupStore DedupStore, cms CMSClient, breakers *breaker.Registry, queue *jobqueue.Store) *Stage {
	return &Stage{dedup: dedupStore, cms: cms, breakers: breakers, queue: queue}
}

// Process runs every raw item in job through the §4.G algorithm and
// returns the batch's aggregate counters.
func (s *Stage) Process(ctx context.Context, job pipeline.NormalizeJob) (BatchCounts, error) {
	var counts BatchCounts
	counts.Fetched = len(job.RawItems)

	for _, raw := range job.RawItems {
		if raw.URL == "" && raw.Title == "" {
			counts.Failed++
			continue
		}

		item := mapToCanonical(raw, job.Kind)

		if !passesSourceFilters(item, raw.Engagement, job.SourceSettings) {
			counts.Filtered++
			continue
		}

		decision := decideModeration(item, job.SourceTrusted, job.SourceSettings)
		applyModeration(&item, decision)
		refineStatus(&item, decision)
		switch decision {
		case pipeline.ModerationAutoApproved:
			counts.ModerationApproved++
		case pipeline.ModerationNeedsReview:
			counts.ModerationReview++
		case pipeline.ModerationAutoRejected:
			counts.ModerationRejected++
		}

		var key string
		if job.Kind == pipeline.SourceKindUpload {
			key = raw.IdempotencyKey
		} else {
			key = dedup.DeriveKey(item.OriginalURL, item.Title, item.PublishedAt)
		}
		item.IdempotencyKey = key
		if check := s.dedup.Check(key); check.Duplicate {
			counts.Duplicates++
			metrics.IncDedupDuplicate(string(job.Kind))
			continue
		}

		var contentID string
		execErr := s.breakers.Execute(breaker.DependencyCMS, func() error {
			id, err := s.cms.CreateOrGet(ctx, item)
			contentID = id
			return err
		})
		if execErr != nil {
			counts.Failed++
			continue
		}
		s.dedup.Mark(key, contentID, 0)

		if err := s.fanOut(ctx, contentID, item, &counts); err != nil {
			counts.Failed++
		}
	}

	metrics.AddNormalizeCounter("filtered", counts.Filtered)
	metrics.AddNormalizeCounter("duplicates", counts.Duplicates)
	metrics.AddNormalizeCounter("moderation_approved", counts.ModerationApproved)
	metrics.AddNormalizeCounter("moderation_review", counts.ModerationReview)
	metrics.AddNormalizeCounter("moderation_rejected", counts.ModerationRejected)
	metrics.AddNormalizeCounter("failed", counts.Failed)
	return counts, nil
}

// fanOut implements §4.G step 6's fan-out table. AUTO_REJECTED items
// (status ARCHIVED) never reach here with a follow-on job, and this gate
// is never re-evaluated once run.
func (s *Stage) fanOut(ctx context.Context, contentID string, item pipeline.CanonicalItem, counts *BatchCounts) error {
	if item.Status == pipeline.ContentStatusArchived {
		return nil
	}

	switch item.Type {
	case pipeline.ContentTypeArticle, pipeline.ContentTypeTweet, pipeline.ContentTypeComment:
		return nil

	case pipeline.ContentTypeVideo:
		if item.MediaReady() {
			return s.enqueueEnrichment(ctx, contentID, item, counts, 2)
		}
		return s.enqueueMedia(ctx, contentID, item, counts, 2)

	case pipeline.ContentTypePodcast:
		if item.MediaReady() {
			return s.enqueueEnrichment(ctx, contentID, item, counts, 2)
		}
		return s.enqueueMedia(ctx, contentID, item, counts, 3)

	default:
		return nil
	}
}

func (s *Stage) enqueueMedia(ctx context.Context, contentID string, item pipeline.CanonicalItem, counts *BatchCounts, priority int) error {
	job := pipeline.MediaJob{
		ContentID:          contentID,
		Type:               item.Type,
		SourceURL:          item.OriginalURL,
		SourceThumbnailURL: item.ThumbnailURL,
		Operations:         []pipeline.MediaOperation{pipeline.MediaOpDownload, pipeline.MediaOpTranscode, pipeline.MediaOpThumbnail},
	}
	if _, err := s.queue.Enqueue(ctx, mediaQueue, job, jobqueue.EnqueueOptions{Priority: priority, AttemptsMax: 3}); err != nil {
		return err
	}
	counts.MediaEnqueued++
	return nil
}

func (s *Stage) enqueueEnrichment(ctx context.Context, contentID string, item pipeline.CanonicalItem, counts *BatchCounts, priority int) error {
	job := pipeline.EnrichmentJob{
		ContentID:  contentID,
		Type:       item.Type,
		Operations: []pipeline.EnrichmentOperation{pipeline.EnrichmentOpTranscript, pipeline.EnrichmentOpEmbedding},
		TextFields: pipeline.TextFields{Title: item.Title, Body: item.BodyText, Excerpt: item.Excerpt},
		MediaURL:   item.MediaURL,
	}
	if _, err := s.queue.Enqueue(ctx, enrichmentQueue, job, jobqueue.EnqueueOptions{Priority: priority, AttemptsMax: 3}); err != nil {
		return err
	}
	counts.EnrichmentEnqueued++
	return nil
}
