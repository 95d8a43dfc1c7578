// Package enrichment implements the enrichment stage (component I):
// best-effort transcript extraction and semantic embedding generation,
// finalizing a content item to READY regardless of whether either
// best-effort step succeeded. Grounded on
// korvin3-media-transcriber/internal/transcribe/pipeline.go's
// download-then-transcribe shape, generalized from a standalone CLI run
// into a queue-driven stage that also calls out to an embedding
// collaborator and writes results back to the CMS.
package enrichment

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/ingestlane/pipeline/internal/transcriber"
)

// inputCap is the hard cap on embedding input text length (§4.I).
const inputCap = 8192

// fieldCap bounds how much of the transcript or body is folded into the
// embedding input.
const fieldCap = 2000

// CMSClient is the collaborator enrichment writes its results to.
type CMSClient interface {
	UpdateStatus(ctx context.Context, contentID string, status pipeline.ContentStatus, failureReason string) error
	CreateTranscript(ctx context.Context, contentID, fullText, language string) (string, error)
	LinkTranscript(ctx context.Context, contentID, transcriptID string) error
	UpdateEmbedding(ctx context.Context, contentID string, vector []float32, topicTags []string) error
}

// Transcriber is the collaborator that turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, r io.Reader, filename string) (transcriber.Transcript, error)
}

// Embedder is the collaborator that turns text into a fixed-dimension
// semantic vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MediaFetcher retrieves the source media bytes for a content item so
// they can be handed to the transcriber, downloading to a local temp file
// since the transcriber client needs a seekable multipart source.
type MediaFetcher interface {
	Fetch(ctx context.Context, url, destDir string) (path string, contentType string, err error)
}

// AudioExtractor pulls the audio track out of a video container, used
// when the fetched media is a video rather than already-audio.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, srcPath, destDir string) (path string, err error)
}

// Stage is the enrichment stage's runtime.
type Stage struct {
	cms         CMSClient
	transcriber Transcriber
	embedder    Embedder
	media       MediaFetcher
	audio       AudioExtractor
	breakers    *breaker.Registry
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
}

// New builds an enrichment Stage.
func New(cms CMSClient, transcriberClient Transcriber, embedder Embedder, media MediaFetcher, audio AudioExtractor, breakers *breaker.Registry) *Stage {
	return &Stage{
		cms:         cms,
		transcriber: transcriberClient,
		embedder:    embedder,
		media:       media,
		audio:       audio,
		breakers:    breakers,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
	}
}

// Process runs both best-effort enrichment steps and finalizes the
// content item's status. Only a failure in the finalization call itself
// is returned as an error; transcript/embedding failures are swallowed
// per §4.I.
func (s *Stage) Process(ctx context.Context, job pipeline.EnrichmentJob) error {
	var transcriptText string

	if hasOperation(job.Operations, pipeline.EnrichmentOpTranscript) && (job.MediaURL != "" || job.MediaPath != "") {
		transcriptText, _ = s.runTranscript(ctx, job)
	}

	if hasOperation(job.Operations, pipeline.EnrichmentOpEmbedding) {
		s.runEmbedding(ctx, job, transcriptText)
	}

	err := s.breakers.Execute(breaker.DependencyCMS, func() error {
		return s.cms.UpdateStatus(ctx, job.ContentID, pipeline.ContentStatusReady, "")
	})
	if err != nil {
		_ = s.breakers.Execute(breaker.DependencyCMS, func() error {
			return s.cms.UpdateStatus(ctx, job.ContentID, pipeline.ContentStatusFailed, err.Error())
		})
		return pipeline.Wrap(pipeline.KindUpstreamUnavailable, "finalize enrichment status", err)
	}
	return nil
}

func hasOperation(ops []pipeline.EnrichmentOperation, op pipeline.EnrichmentOperation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// runTranscript downloads the item's media, extracts audio if it is a
// video container, submits it to the transcriber, and records the
// result. Any failure along the way is swallowed: transcript is
// best-effort.
func (s *Stage) runTranscript(ctx context.Context, job pipeline.EnrichmentJob) (text, language string) {
	tempDir, err := s.mkdirTemp("", job.ContentID+"_enrich-*")
	if err != nil {
		return "", ""
	}
	defer s.removeAll(tempDir)

	srcPath, contentType, err := s.media.Fetch(ctx, job.MediaURL, tempDir)
	if err != nil {
		return "", ""
	}

	audioPath := srcPath
	if strings.HasPrefix(contentType, "video/") {
		extracted, err := s.audio.ExtractAudio(ctx, srcPath, tempDir)
		if err != nil {
			return "", ""
		}
		audioPath = extracted
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	var result transcriber.Transcript
	err = s.breakers.Execute(breaker.DependencyTranscriber, func() error {
		r, tErr := s.transcriber.Transcribe(ctx, f, audioPath)
		result = r
		return tErr
	})
	if err != nil || result.FullText == "" {
		return "", ""
	}

	transcriptID, err := s.cms.CreateTranscript(ctx, job.ContentID, result.FullText, result.Language)
	if err != nil {
		return result.FullText, result.Language
	}
	_ = s.cms.LinkTranscript(ctx, job.ContentID, transcriptID)
	return result.FullText, result.Language
}

// runEmbedding builds the embedding input text, computes the vector, and
// submits it. Failures are swallowed.
func (s *Stage) runEmbedding(ctx context.Context, job pipeline.EnrichmentJob, transcriptText string) {
	input := buildEmbeddingInput(job.TextFields, transcriptText)

	var vector []float32
	err := s.breakers.Execute(breaker.DependencyEmbedder, func() error {
		v, embedErr := s.embedder.Embed(ctx, input)
		vector = v
		return embedErr
	})
	if err != nil {
		return
	}
	_ = s.breakers.Execute(breaker.DependencyCMS, func() error {
		return s.cms.UpdateEmbedding(ctx, job.ContentID, vector, job.TopicTags)
	})
}

// buildEmbeddingInput implements §4.I's input-text construction:
// title + transcript_first_2000 (falling back to body_first_2000) +
// excerpt_if_distinct, capped at inputCap characters.
func buildEmbeddingInput(fields pipeline.TextFields, transcriptText string) string {
	secondary := truncate(transcriptText, fieldCap)
	if secondary == "" {
		secondary = truncate(fields.Body, fieldCap)
	}

	var parts []string
	if fields.Title != "" {
		parts = append(parts, fields.Title)
	}
	if secondary != "" {
		parts = append(parts, secondary)
	}
	if fields.Excerpt != "" && fields.Excerpt != fields.Title && fields.Excerpt != secondary {
		parts = append(parts, fields.Excerpt)
	}
	return truncate(strings.Join(parts, " "), inputCap)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
