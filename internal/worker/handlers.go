package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/ingestlane/pipeline/internal/fetch"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// handleFetch drives one FetchJob through the dispatcher, enqueueing the
// follow-on NormalizeJob and, for paginated sources, a delayed
// continuation FetchJob (§4.F, §5's ordering guarantee: normalize never
// runs before its triggering fetch completes).
func (r *Runtime) handleFetch(ctx context.Context, env *jobqueue.Envelope) (any, error) {
	job, ok := env.Payload.(pipeline.FetchJob)
	if !ok {
		return nil, pipeline.New(pipeline.KindInternalError, "fetch job payload has unexpected type")
	}

	source, ok := r.sources.Get(job.SourceID)
	if !ok {
		return nil, pipeline.New(pipeline.KindConfigError, "fetch: unknown source "+job.SourceID)
	}

	result, err := r.dispatcher.Fetch(ctx, source, job.Cursor)
	if err != nil {
		return nil, err
	}

	if len(result.Items) > 0 {
		normJob := pipeline.NormalizeJob{
			SourceID:       job.SourceID,
			Kind:           job.Kind,
			RawItems:       result.Items,
			SourceSettings: job.Settings,
			SourceTrusted:  source.Trusted,
			ParentFetchID:  env.JobID,
		}
		if _, err := r.queue.Enqueue(ctx, normalizeQueue, normJob, jobqueue.EnqueueOptions{Priority: 5, AttemptsMax: 3}); err != nil {
			return nil, pipeline.Wrap(pipeline.KindInternalError, "enqueue normalize job", err)
		}
	}

	if result.More && result.NextCursor != "" {
		continuation := job
		continuation.Cursor = result.NextCursor
		delay := fetch.ContinuationDelay(0)
		if _, err := r.queue.Enqueue(ctx, fetchQueue, continuation, jobqueue.EnqueueOptions{Priority: 1, Delay: delay, AttemptsMax: 3}); err != nil {
			return nil, pipeline.Wrap(pipeline.KindInternalError, "enqueue fetch continuation", err)
		}
	}

	return result.Counts, nil
}

// handleNormalize runs one fetched batch through the normalize stage.
func (r *Runtime) handleNormalize(ctx context.Context, env *jobqueue.Envelope) (any, error) {
	job, ok := env.Payload.(pipeline.NormalizeJob)
	if !ok {
		return nil, pipeline.New(pipeline.KindInternalError, "normalize job payload has unexpected type")
	}
	counts, err := r.normalize.Process(ctx, job)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// handleMedia runs one content item's source media through the media
// stage.
func (r *Runtime) handleMedia(ctx context.Context, env *jobqueue.Envelope) (any, error) {
	job, ok := env.Payload.(pipeline.MediaJob)
	if !ok {
		return nil, pipeline.New(pipeline.KindInternalError, "media job payload has unexpected type")
	}
	if err := r.media.Process(ctx, job); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleEnrichment runs one content item's transcript/embedding
// best-effort enrichment.
func (r *Runtime) handleEnrichment(ctx context.Context, env *jobqueue.Envelope) (any, error) {
	job, ok := env.Payload.(pipeline.EnrichmentJob)
	if !ok {
		return nil, pipeline.New(pipeline.KindInternalError, "enrichment job payload has unexpected type")
	}
	if err := r.enrichment.Process(ctx, job); err != nil {
		return nil, err
	}
	return nil, nil
}

// onPodcastDiscovered turns a discovered podcast feed URL into a new,
// auto-registered PODCAST_FEED source and an immediate FetchJob for it.
func (r *Runtime) onPodcastDiscovered(feedURL string) {
	source := pipeline.SourceDescriptor{
		ID:          "podcast:" + feedURL,
		Kind:        pipeline.SourceKindPodcastFeed,
		DisplayName: feedURL,
		Endpoint:    feedURL,
		Enabled:     true,
	}
	if err := r.sources.Register(source); err != nil {
		r.logger.Error("register discovered podcast feed", zap.String("url", feedURL), zap.Error(err))
		return
	}
	if _, err := r.sources.TriggerNow(source.ID); err != nil {
		r.logger.Error("trigger discovered podcast feed", zap.String("url", feedURL), zap.Error(err))
	}
}
