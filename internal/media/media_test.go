package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/ingestlane/pipeline/internal/breaker"
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

// fakeRunner stands in for ffmpeg/ffprobe: ffprobe calls return canned
// JSON, ffmpeg calls write a small dummy file at their output path so
// downstream upload steps have something to read.
type fakeRunner struct {
	probeJSON  string
	failFFmpeg bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	if name == "ffprobe" {
		return commandResult{Stdout: f.probeJSON}, nil
	}
	if f.failFFmpeg {
		return commandResult{ExitCode: 1}, fmt.Errorf("ffmpeg failed")
	}
	outPath := args[len(args)-1]
	if err := os.WriteFile(outPath, []byte("dummy-media-bytes"), 0o644); err != nil {
		return commandResult{}, err
	}
	return commandResult{}, nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (o *fakeObjectStore) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return o.URI(key), nil
}

func (o *fakeObjectStore) Exists(_ context.Context, key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok, nil
}

func (o *fakeObjectStore) URI(key string) string {
	return "gs://fake-bucket/" + key
}

type fakeArtifacts struct {
	mu                                 sync.Mutex
	contentID, mediaURL, thumbnailURL string
	duration                          int
	calls                             int
	statuses                          []pipeline.ContentStatus
	failureReason                     string
}

func (a *fakeArtifacts) UpdateArtifacts(_ context.Context, contentID, mediaURL, thumbnailURL string, duration int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contentID, a.mediaURL, a.thumbnailURL, a.duration = contentID, mediaURL, thumbnailURL, duration
	a.calls++
	return nil
}

func (a *fakeArtifacts) UpdateStatus(_ context.Context, _ string, status pipeline.ContentStatus, failureReason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = append(a.statuses, status)
	if failureReason != "" {
		a.failureReason = failureReason
	}
	return nil
}

const videoProbeJSON = `{"format":{"duration":"12.5"},"streams":[{"codec_type":"video"},{"codec_type":"audio"}]}`

func newTestStage(runner commandRunner, store ObjectStore, artifacts ArtifactUpdater) (*Stage, *jobqueue.Store) {
	queue := jobqueue.NewStore(jobqueue.DefaultRetentionPolicy())
	return &Stage{
		objectStore: store,
		artifacts:   artifacts,
		breakers:    breaker.NewRegistry(breaker.DefaultConfig(), nil),
		queue:       queue,
		downloader:  newDownloader(),
		prober:      newProber(runner),
		transcoder:  newTranscoder(runner),
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
	}, queue
}

func TestProcessDownloadsTranscodesAndUploads(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, bytes.NewReader([]byte("source-media-bytes")))
	}))
	defer srv.Close()

	store := newFakeObjectStore()
	artifacts := &fakeArtifacts{}
	stage, queue := newTestStage(&fakeRunner{probeJSON: videoProbeJSON}, store, artifacts)

	job := pipeline.MediaJob{ContentID: "c1", Type: pipeline.ContentTypeVideo, SourceURL: srv.URL}
	err := stage.Process(context.Background(), job)
	require.NoError(t, err)

	exists, _ := store.Exists(context.Background(), processedKey("c1"))
	assert.True(t, exists)
	assert.Equal(t, 1, artifacts.calls)
	assert.Equal(t, 12, artifacts.duration)
	assert.Equal(t, []pipeline.ContentStatus{pipeline.ContentStatusProcessing}, artifacts.statuses)

	counts := queue.Counts(context.Background(), enrichmentQueue)
	assert.Equal(t, 1, counts.Waiting)
}

func TestProcessSkipsWorkWhenArtifactAlreadyExists(t *testing.T) {
	t.Parallel()
	store := newFakeObjectStore()
	store.objects[processedKey("c2")] = []byte("already-there")
	artifacts := &fakeArtifacts{}
	stage, queue := newTestStage(&fakeRunner{probeJSON: videoProbeJSON}, store, artifacts)

	job := pipeline.MediaJob{ContentID: "c2", Type: pipeline.ContentTypeVideo, SourceURL: "http://unused.invalid"}
	err := stage.Process(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 0, artifacts.calls)
	assert.Equal(t, []pipeline.ContentStatus{pipeline.ContentStatusProcessing}, artifacts.statuses)
	counts := queue.Counts(context.Background(), enrichmentQueue)
	assert.Equal(t, 1, counts.Waiting)
}

func TestProcessFailsWhenDownloadErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newFakeObjectStore()
	artifacts := &fakeArtifacts{}
	stage, _ := newTestStage(&fakeRunner{probeJSON: videoProbeJSON}, store, artifacts)

	job := pipeline.MediaJob{ContentID: "c3", Type: pipeline.ContentTypeVideo, SourceURL: srv.URL}
	err := stage.Process(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pipeline.Is(err, pipeline.KindUpstreamRejected))
	assert.Equal(t, []pipeline.ContentStatus{pipeline.ContentStatusProcessing, pipeline.ContentStatusFailed}, artifacts.statuses)
	assert.NotEmpty(t, artifacts.failureReason)
}

func TestProcessFailsWhenProbeFindsNoStreams(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	store := newFakeObjectStore()
	emptyProbe := `{"format":{"duration":"0"},"streams":[]}`
	artifacts := &fakeArtifacts{}
	stage, _ := newTestStage(&fakeRunner{probeJSON: emptyProbe}, store, artifacts)

	job := pipeline.MediaJob{ContentID: "c4", Type: pipeline.ContentTypeVideo, SourceURL: srv.URL}
	err := stage.Process(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pipeline.Is(err, pipeline.KindInvalidData))
	assert.Equal(t, []pipeline.ContentStatus{pipeline.ContentStatusProcessing, pipeline.ContentStatusFailed}, artifacts.statuses)
}

func TestProcessFallsBackToSourceThumbnailWhenExtractionFails(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	store := newFakeObjectStore()
	artifacts := &fakeArtifacts{}
	runner := &fakeRunner{probeJSON: videoProbeJSON}
	stage, _ := newTestStage(runner, store, artifacts)

	// Force only the thumbnail ffmpeg invocation to fail by wrapping the
	// runner: the transcode call happens first and must still succeed.
	stage.transcoder = &transcoder{runner: &selectiveFailRunner{inner: runner}, ffmpegPath: "ffmpeg"}

	job := pipeline.MediaJob{
		ContentID:          "c5",
		Type:               pipeline.ContentTypeVideo,
		SourceURL:          srv.URL,
		SourceThumbnailURL: "http://cdn.example.com/fallback.jpg",
	}
	err := stage.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example.com/fallback.jpg", artifacts.thumbnailURL)
}

// selectiveFailRunner fails only the thumbnail extraction ffmpeg call
// (identified by its -frames:v argument), so transcode still succeeds.
type selectiveFailRunner struct {
	inner commandRunner
}

func (s *selectiveFailRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	for _, a := range args {
		if a == "-frames:v" {
			return commandResult{ExitCode: 1}, fmt.Errorf("thumbnail extraction failed")
		}
	}
	return s.inner.Run(ctx, name, args...)
}
