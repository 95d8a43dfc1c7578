package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

const (
	maxDownloadBytes = 2 << 30 // 2GiB
	downloadTimeout  = 10 * time.Minute
)

// downloader streams a source media URL to a local temp file, capped in
// both size and wall time so one runaway upstream cannot pin a worker slot
// indefinitely.
type downloader struct {
	client *http.Client
}

func newDownloader() *downloader {
	return &downloader{client: &http.Client{}}
}

// Download fetches sourceURL into a new temp file under dir and returns its
// path. The caller owns cleanup.
func (d *downloader) Download(ctx context.Context, sourceURL, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindInvalidData, "build media download request", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindUpstreamUnavailable, "fetch source media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", pipeline.New(pipeline.KindUpstreamUnavailable, fmt.Sprintf("source media returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return "", pipeline.New(pipeline.KindUpstreamRejected, fmt.Sprintf("source media returned %d", resp.StatusCode))
	}

	f, err := os.CreateTemp(dir, "source-*")
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindInternalError, "create download temp file", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindUpstreamUnavailable, "read source media body", err)
	}
	if n > maxDownloadBytes {
		return "", pipeline.New(pipeline.KindResourceExhausted, "source media exceeds size cap")
	}
	return f.Name(), nil
}
