package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

// HTTPMediaFetcher downloads a content item's processed media over HTTP
// into a local temp file, grounded on the media stage's downloader
// (internal/media/download.go), reused here rather than imported
// directly since enrichment only ever reads a finished, already-uploaded
// artifact rather than an arbitrary source URL.
type HTTPMediaFetcher struct {
	client *http.Client
}

// NewHTTPMediaFetcher builds a fetcher with the given timeout.
func NewHTTPMediaFetcher(timeout time.Duration) *HTTPMediaFetcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPMediaFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url into destDir and returns the local path and the
// response's Content-Type.
func (f *HTTPMediaFetcher) Fetch(ctx context.Context, url, destDir string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", pipeline.Wrap(pipeline.KindInternalError, "build media fetch request", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", pipeline.Wrap(pipeline.KindUpstreamUnavailable, "fetch media for enrichment", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", pipeline.New(pipeline.KindUpstreamUnavailable, fmt.Sprintf("fetch media: status %d", resp.StatusCode))
	}

	destPath := filepath.Join(destDir, "source_media")
	out, err := os.Create(destPath)
	if err != nil {
		return "", "", pipeline.Wrap(pipeline.KindInternalError, "create media temp file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", "", pipeline.Wrap(pipeline.KindInternalError, "write media temp file", err)
	}
	return destPath, resp.Header.Get("Content-Type"), nil
}

// FFmpegAudioExtractor pulls the audio track out of a video container
// with ffmpeg, the same subprocess idiom the media stage's transcoder
// uses, scoped down to the single "extract audio" operation enrichment
// needs.
type FFmpegAudioExtractor struct{}

// ExtractAudio runs ffmpeg to extract srcPath's audio track as a 16-bit
// PCM WAV file under destDir.
func (FFmpegAudioExtractor) ExtractAudio(ctx context.Context, srcPath, destDir string) (string, error) {
	outPath := filepath.Join(destDir, "audio.wav")
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", srcPath, "-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", outPath)
	if err := cmd.Run(); err != nil {
		return "", pipeline.Wrap(pipeline.KindInternalError, "extract audio track", err)
	}
	return outPath, nil
}
