// Package media implements the media stage (component H): downloading a
// content item's source media, transcoding it to a playable H.264/AAC MP4,
// extracting a thumbnail, publishing both to the object store, and handing
// the item on to enrichment. Grounded on media-transcriber's ffmpeg/ffprobe
// exec pipeline (internal/transcribe/pipeline.go), generalized from a local
// single-job CLI tool to a queue-driven stage with idempotent re-drive.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

const enrichmentQueue = "enrichment"

var uploadRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// ObjectStore is the collaborator artifacts are published to. Key is a
// stable, content-addressed path: callers use it both to publish and to
// check for a prior, already-completed run.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (url string, err error)
	Exists(ctx context.Context, key string) (bool, error)
	URI(key string) string
}

// ArtifactUpdater is the collaborator that records the published media and
// thumbnail URLs plus duration against a content record, and transitions
// the record's status through the PROCESSING/FAILED states §4.H's
// preamble and failure policy require.
type ArtifactUpdater interface {
	UpdateArtifacts(ctx context.Context, contentID, mediaURL, thumbnailURL string, durationSeconds int) error
	UpdateStatus(ctx context.Context, contentID string, status pipeline.ContentStatus, failureReason string) error
}

// Stage is the media stage's runtime.
type Stage struct {
	objectStore ObjectStore
	artifacts   ArtifactUpdater
	breakers    *breaker.Registry
	queue       *jobqueue.Store
	downloader  *downloader
	prober      *prober
	transcoder  *transcoder
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
}

// New builds a media Stage with real OS and ffmpeg/ffprobe dependencies.
func New(objectStore ObjectStore, artifacts ArtifactUpdater, breakers *breaker.Registry, queue *jobqueue.Store) *Stage {
	runner := &execRunner{}
	return &Stage{
		objectStore: objectStore,
		artifacts:   artifacts,
		breakers:    breakers,
		queue:       queue,
		downloader:  newDownloader(),
		prober:      newProber(runner),
		transcoder:  newTranscoder(runner),
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
	}
}

func processedKey(contentID string) string { return fmt.Sprintf("content/%s/processed.mp4", contentID) }
func thumbnailKey(contentID string) string { return fmt.Sprintf("content/%s/thumbnail.jpg", contentID) }

// Process runs one content item's source media through download, probe,
// transcode, thumbnail, and upload, then enqueues the follow-on enrichment
// job. A non-nil error means the job should be failed. Failures from the
// existence check through artifact recording mark the item FAILED here
// before the error is returned; the worker runtime then applies the job
// store's retry policy, with no retry-from-scratch of completed sub-steps,
// since the next attempt's object-store existence check makes the whole
// job idempotent.
func (s *Stage) Process(ctx context.Context, job pipeline.MediaJob) error {
	key := processedKey(job.ContentID)

	if err := s.updateStatus(ctx, job.ContentID, pipeline.ContentStatusProcessing, ""); err != nil {
		return pipeline.Wrap(pipeline.KindUpstreamUnavailable, "record media processing status", err)
	}

	var alreadyDone bool
	err := s.breakers.Execute(breaker.DependencyObjectStore, func() error {
		exists, err := s.objectStore.Exists(ctx, key)
		alreadyDone = exists
		return err
	})
	if err != nil {
		return s.fail(ctx, job.ContentID, pipeline.KindUpstreamUnavailable, "check existing media artifact", err)
	}
	if alreadyDone {
		return s.enqueueEnrichment(ctx, job, s.objectStore.URI(key))
	}

	tempDir, err := s.mkdirTemp("", "media-stage-*")
	if err != nil {
		return s.fail(ctx, job.ContentID, pipeline.KindInternalError, "create media temp workspace", err)
	}
	defer s.removeAll(tempDir)

	srcPath, err := s.downloader.Download(ctx, job.SourceURL, tempDir)
	if err != nil {
		return s.failErr(ctx, job.ContentID, err)
	}

	probeResult, err := s.prober.Probe(ctx, srcPath)
	if err != nil {
		return s.failErr(ctx, job.ContentID, err)
	}

	outPath, err := s.transcoder.Transcode(ctx, srcPath, tempDir, probeResult)
	if err != nil {
		return s.failErr(ctx, job.ContentID, err)
	}

	mediaURL, err := s.uploadWithRetry(ctx, key, "video/mp4", outPath)
	if err != nil {
		return s.fail(ctx, job.ContentID, pipeline.KindUpstreamUnavailable, "upload transcoded media", err)
	}

	thumbnailURL := job.SourceThumbnailURL
	if thumbPath, thumbErr := s.transcoder.Thumbnail(ctx, srcPath, tempDir); thumbErr == nil {
		if uploaded, uploadErr := s.uploadWithRetry(ctx, thumbnailKey(job.ContentID), "image/jpeg", thumbPath); uploadErr == nil {
			thumbnailURL = uploaded
		}
	}

	updateErr := s.breakers.Execute(breaker.DependencyCMS, func() error {
		return s.artifacts.UpdateArtifacts(ctx, job.ContentID, mediaURL, thumbnailURL, probeResult.DurationSeconds)
	})
	if updateErr != nil {
		return s.fail(ctx, job.ContentID, pipeline.KindUpstreamUnavailable, "record media artifacts", updateErr)
	}

	return s.enqueueEnrichment(ctx, job, mediaURL)
}

// updateStatus transitions contentID's CMS record, behind the CMS
// breaker, to status.
func (s *Stage) updateStatus(ctx context.Context, contentID string, status pipeline.ContentStatus, failureReason string) error {
	return s.breakers.Execute(breaker.DependencyCMS, func() error {
		return s.artifacts.UpdateStatus(ctx, contentID, status, failureReason)
	})
}

// fail marks contentID FAILED with a message built from op and cause,
// then returns the wrapped original error so the job store still applies
// its own retry/DLQ policy to the job (§7: media errors propagate to the
// job store in addition to flipping the item to FAILED).
func (s *Stage) fail(ctx context.Context, contentID string, kind pipeline.Kind, op string, cause error) error {
	wrapped := pipeline.Wrap(kind, op, cause)
	if updateErr := s.updateStatus(ctx, contentID, pipeline.ContentStatusFailed, wrapped.Error()); updateErr != nil {
		return pipeline.Wrap(pipeline.KindUpstreamUnavailable, "record media failure status", updateErr)
	}
	return wrapped
}

// failErr marks contentID FAILED using an already-classified pipeline
// error (returned as-is from download/probe/transcode) rather than
// re-wrapping it.
func (s *Stage) failErr(ctx context.Context, contentID string, cause error) error {
	if updateErr := s.updateStatus(ctx, contentID, pipeline.ContentStatusFailed, cause.Error()); updateErr != nil {
		return pipeline.Wrap(pipeline.KindUpstreamUnavailable, "record media failure status", updateErr)
	}
	return cause
}

// uploadWithRetry attempts the object-store upload up to len(uploadRetryDelays)+1
// times, reopening the file each attempt since a failed write may have
// consumed the reader.
func (s *Stage) uploadWithRetry(ctx context.Context, key, contentType, path string) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		url, err := s.uploadOnce(ctx, key, contentType, path)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if attempt >= len(uploadRetryDelays) {
			return "", lastErr
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(uploadRetryDelays[attempt]):
		}
	}
}

func (s *Stage) uploadOnce(ctx context.Context, key, contentType, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var url string
	err = s.breakers.Execute(breaker.DependencyObjectStore, func() error {
		u, putErr := s.objectStore.Put(ctx, key, contentType, f)
		url = u
		return putErr
	})
	return url, err
}

func (s *Stage) enqueueEnrichment(ctx context.Context, job pipeline.MediaJob, mediaURL string) error {
	enrichJob := pipeline.EnrichmentJob{
		ContentID:  job.ContentID,
		Type:       job.Type,
		Operations: []pipeline.EnrichmentOperation{pipeline.EnrichmentOpTranscript, pipeline.EnrichmentOpEmbedding},
		MediaPath:  filepath.Base(processedKey(job.ContentID)),
		MediaURL:   mediaURL,
	}
	_, err := s.queue.Enqueue(ctx, enrichmentQueue, enrichJob, jobqueue.EnqueueOptions{Priority: 2, AttemptsMax: 3})
	return err
}
