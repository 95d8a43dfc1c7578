package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ingestlane/pipeline/internal/fetch"
	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/normalize"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

type fakeDispatcher struct {
	result      fetch.Result
	err         error
	onDiscovery func(string)
	calls       int
}

func (f *fakeDispatcher) Fetch(_ context.Context, _ pipeline.SourceDescriptor, _ string) (fetch.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeDispatcher) OnPodcastDiscovered(fn func(string)) { f.onDiscovery = fn }

type fakeNormalize struct {
	counts normalize.BatchCounts
	err    error
	lastJob pipeline.NormalizeJob
}

func (f *fakeNormalize) Process(_ context.Context, job pipeline.NormalizeJob) (normalize.BatchCounts, error) {
	f.lastJob = job
	return f.counts, f.err
}

type fakeMedia struct{ err error }

func (f *fakeMedia) Process(context.Context, pipeline.MediaJob) error { return f.err }

type fakeEnrichment struct{ err error }

func (f *fakeEnrichment) Process(context.Context, pipeline.EnrichmentJob) error { return f.err }

type fakeRegistry struct {
	sources map[string]pipeline.SourceDescriptor
}

func newFakeRegistry(sources ...pipeline.SourceDescriptor) *fakeRegistry {
	m := make(map[string]pipeline.SourceDescriptor)
	for _, s := range sources {
		m[s.ID] = s
	}
	return &fakeRegistry{sources: m}
}

func (f *fakeRegistry) Get(id string) (pipeline.SourceDescriptor, bool) { s, ok := f.sources[id]; return s, ok }
func (f *fakeRegistry) Register(s pipeline.SourceDescriptor) error      { f.sources[s.ID] = s; return nil }
func (f *fakeRegistry) TriggerNow(id string) (string, error)            { return "triggered-" + id, nil }
func (f *fakeRegistry) Shutdown()                                      {}

func newTestRuntime(t *testing.T, dispatcher Dispatcher, norm NormalizeStage, m MediaStage, e EnrichmentStage, reg SourceRegistry) (*Runtime, *jobqueue.Store) {
	t.Helper()
	store := jobqueue.NewStore(jobqueue.DefaultRetentionPolicy())
	cfg := DefaultConfig()
	cfg.MediaConcurrency = 1
	rt, err := New(cfg, store, dispatcher, norm, m, e, reg, zap.NewNop())
	require.NoError(t, err)
	return rt, store
}

func TestHandleFetchEnqueuesNormalizeJob(t *testing.T) {
	t.Parallel()
	source := pipeline.SourceDescriptor{ID: "feed-1", Kind: pipeline.SourceKindFeed, Trusted: true}
	dispatcher := &fakeDispatcher{result: fetch.Result{Items: []pipeline.RawItem{{Title: "hello"}}}}
	norm := &fakeNormalize{}
	rt, store := newTestRuntime(t, dispatcher, norm, &fakeMedia{}, &fakeEnrichment{}, newFakeRegistry(source))

	env := &jobqueue.Envelope{JobID: "job-1", Payload: pipeline.FetchJob{SourceID: "feed-1", Kind: pipeline.SourceKindFeed}}
	_, err := rt.handleFetch(context.Background(), env)
	require.NoError(t, err)

	counts := store.Counts(context.Background(), normalizeQueue)
	assert.Equal(t, 1, counts.Waiting)
}

func TestHandleFetchSchedulesContinuationWhenMore(t *testing.T) {
	t.Parallel()
	source := pipeline.SourceDescriptor{ID: "feed-1", Kind: pipeline.SourceKindFeed}
	dispatcher := &fakeDispatcher{result: fetch.Result{More: true, NextCursor: "cursor-2"}}
	rt, store := newTestRuntime(t, dispatcher, &fakeNormalize{}, &fakeMedia{}, &fakeEnrichment{}, newFakeRegistry(source))

	env := &jobqueue.Envelope{JobID: "job-1", Payload: pipeline.FetchJob{SourceID: "feed-1", Kind: pipeline.SourceKindFeed}}
	_, err := rt.handleFetch(context.Background(), env)
	require.NoError(t, err)

	counts := store.Counts(context.Background(), fetchQueue)
	assert.Equal(t, 1, counts.Delayed)
}

func TestHandleFetchUnknownSourceFails(t *testing.T) {
	t.Parallel()
	rt, _ := newTestRuntime(t, &fakeDispatcher{}, &fakeNormalize{}, &fakeMedia{}, &fakeEnrichment{}, newFakeRegistry())

	env := &jobqueue.Envelope{JobID: "job-1", Payload: pipeline.FetchJob{SourceID: "missing"}}
	_, err := rt.handleFetch(context.Background(), env)
	require.Error(t, err)
}

func TestHandleNormalizeDelegatesToStage(t *testing.T) {
	t.Parallel()
	norm := &fakeNormalize{counts: normalize.BatchCounts{Fetched: 3}}
	rt, _ := newTestRuntime(t, &fakeDispatcher{}, norm, &fakeMedia{}, &fakeEnrichment{}, newFakeRegistry())

	env := &jobqueue.Envelope{JobID: "job-1", Payload: pipeline.NormalizeJob{SourceID: "feed-1"}}
	result, err := rt.handleNormalize(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, normalize.BatchCounts{Fetched: 3}, result)
	assert.Equal(t, "feed-1", norm.lastJob.SourceID)
}

func TestHandleMediaPropagatesStageError(t *testing.T) {
	t.Parallel()
	rt, _ := newTestRuntime(t, &fakeDispatcher{}, &fakeNormalize{}, &fakeMedia{err: pipeline.New(pipeline.KindUpstreamUnavailable, "boom")}, &fakeEnrichment{}, newFakeRegistry())

	env := &jobqueue.Envelope{JobID: "job-1", Payload: pipeline.MediaJob{ContentID: "c-1"}}
	_, err := rt.handleMedia(context.Background(), env)
	require.Error(t, err)
}

func TestHandleEnrichmentDelegatesToStage(t *testing.T) {
	t.Parallel()
	rt, _ := newTestRuntime(t, &fakeDispatcher{}, &fakeNormalize{}, &fakeMedia{}, &fakeEnrichment{}, newFakeRegistry())

	env := &jobqueue.Envelope{JobID: "job-1", Payload: pipeline.EnrichmentJob{ContentID: "c-1"}}
	_, err := rt.handleEnrichment(context.Background(), env)
	require.NoError(t, err)
}

func TestOnPodcastDiscoveredRegistersAndTriggers(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry()
	rt, _ := newTestRuntime(t, &fakeDispatcher{}, &fakeNormalize{}, &fakeMedia{}, &fakeEnrichment{}, reg)

	rt.onPodcastDiscovered("http://example.com/feed.xml")

	_, ok := reg.Get("podcast:http://example.com/feed.xml")
	assert.True(t, ok)
}

func TestRunAndShutdownStopsWorkerPools(t *testing.T) {
	t.Parallel()
	rt, _ := newTestRuntime(t, &fakeDispatcher{}, &fakeNormalize{}, &fakeMedia{}, &fakeEnrichment{}, newFakeRegistry())
	rt.cfg.ShutdownGrace = 2 * time.Second

	go rt.Run(context.Background())
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		rt.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}
}
