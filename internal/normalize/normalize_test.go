package normalize

import (
	"context"
	"os"
	"testing"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/dedup"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeCMS struct {
	calls []pipeline.CanonicalItem
	ids   map[string]string
	n     int
}

func (f *fakeCMS) CreateOrGet(_ context.Context, item pipeline.CanonicalItem) (string, error) {
	f.calls = append(f.calls, item)
	f.n++
	id := item.IdempotencyKey
	return "content-" + id[:min(8, len(id))], nil
}

func newStage(cms CMSClient) (*Stage, *jobqueue.Store) {
	store := jobqueue.NewStore(jobqueue.DefaultRetentionPolicy())
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	return New(dedup.NewStore(), cms, breakers, store), store
}

func TestArticleAutoApprovedBecomesReadyWithNoFanOut(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, store := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind:          pipeline.SourceKindFeed,
		SourceTrusted: true,
		RawItems: []pipeline.RawItem{
			{URL: "http://example.com/a", Title: "A long enough article title here"},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ModerationApproved)
	assert.Equal(t, 0, counts.MediaEnqueued)
	require.Len(t, cms.calls, 1)
	assert.Equal(t, pipeline.ContentStatusReady, cms.calls[0].Status)

	c := store.Counts(context.Background(), mediaQueue)
	assert.Equal(t, 0, c.Waiting)
}

func TestUploadSourceTrustsSuppliedIdempotencyKeyVerbatim(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, _ := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind:          pipeline.SourceKindUpload,
		SourceTrusted: true,
		RawItems: []pipeline.RawItem{
			{
				URL:            "http://example.com/a?utm_source=newsletter",
				Title:          "A long enough article title here",
				IdempotencyKey: "caller-supplied-key-1",
			},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ModerationApproved)
	require.Len(t, cms.calls, 1)
	assert.Equal(t, "caller-supplied-key-1", cms.calls[0].IdempotencyKey)
}

func TestBlockedKeywordForcesArchivedAndNoFanOut(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, store := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind: pipeline.SourceKindVideoChannel,
		SourceSettings: pipeline.SourceSettings{
			BlockedKeywords: []string{"banned"},
		},
		RawItems: []pipeline.RawItem{
			{URL: "http://example.com/v", Title: "This is a Banned video title"},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ModerationRejected)
	require.Len(t, cms.calls, 1)
	assert.Equal(t, pipeline.ContentStatusArchived, cms.calls[0].Status)

	c := store.Counts(context.Background(), mediaQueue)
	assert.Equal(t, 0, c.Waiting)
}

func TestVideoWithoutMediaEnqueuesMediaJob(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, store := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind:          pipeline.SourceKindVideoChannel,
		SourceTrusted: true,
		RawItems: []pipeline.RawItem{
			{URL: "http://example.com/v1", Title: "A great new video release today"},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.MediaEnqueued)

	c := store.Counts(context.Background(), mediaQueue)
	assert.Equal(t, 1, c.Waiting)
}

func TestVideoWithMediaReadyEnqueuesEnrichmentDirectly(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, store := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind:          pipeline.SourceKindVideoChannel,
		SourceTrusted: true,
		RawItems: []pipeline.RawItem{
			{
				URL:   "http://example.com/v2",
				Title: "A ready video with media already attached",
				Attributes: map[string]any{
					"media_ready": true,
					"media_url":   "http://cdn.example.com/v2.mp4",
				},
			},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.EnrichmentEnqueued)
	assert.Equal(t, 0, counts.MediaEnqueued)

	c := store.Counts(context.Background(), enrichmentQueue)
	assert.Equal(t, 1, c.Waiting)
	mc := store.Counts(context.Background(), mediaQueue)
	assert.Equal(t, 0, mc.Waiting)
}

func TestDuplicateItemIsSkipped(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, _ := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind:          pipeline.SourceKindFeed,
		SourceTrusted: true,
		RawItems: []pipeline.RawItem{
			{URL: "http://example.com/dup", Title: "Duplicate article title here"},
			{URL: "http://example.com/dup", Title: "Duplicate article title here"},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Duplicates)
	assert.Len(t, cms.calls, 1)
}

func TestExcludeKeywordFiltersItem(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, _ := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind: pipeline.SourceKindFeed,
		SourceSettings: pipeline.SourceSettings{
			ExcludeKeywords: []string{"spoiler"},
		},
		RawItems: []pipeline.RawItem{
			{URL: "http://example.com/s", Title: "Huge spoiler warning inside this article"},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Filtered)
	assert.Empty(t, cms.calls)
}

func TestMissingURLAndTitleCountsAsFailed(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, _ := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind:     pipeline.SourceKindFeed,
		RawItems: []pipeline.RawItem{{}},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Failed)
}

func TestNeedsReviewStaysPending(t *testing.T) {
	t.Parallel()
	cms := &fakeCMS{}
	stage, _ := newStage(cms)

	job := pipeline.NormalizeJob{
		Kind: pipeline.SourceKindFeed,
		RawItems: []pipeline.RawItem{
			{URL: "http://example.com/short", Title: "Short"},
		},
	}
	counts, err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.ModerationReview)
	require.Len(t, cms.calls, 1)
	assert.Equal(t, pipeline.ContentStatusPending, cms.calls[0].Status)
}
