// Package transcriber implements the HTTP client for the external speech
// transcription collaborator (a Whisper-style ASR endpoint). Grounded on
// korvin3-media-transcriber's internal/transcribe/pipeline.go request
// shape (multipart audio in, segments or raw text out depending on
// requested output format), adapted from a local CLI submission into a
// single-shot enrichment-stage client call.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

// Config configures the transcriber client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client submits audio to the transcriber's /asr endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Transcript is the internal representation both the JSON-segments path
// and the raw-text path converge on before create_transcript is called.
type Transcript struct {
	FullText string
	Language string
}

type segmentsResponse struct {
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Language string `json:"language"`
}

// Transcribe submits audio (read from r, named filename for the
// multipart part) and returns the transcript. It inspects the response
// Content-Type: application/json is decoded as a segments array and
// joined with spaces; any other content type is used as the raw text
// body directly (§4.I's resolved open question).
func (c *Client) Transcribe(ctx context.Context, r io.Reader, filename string) (Transcript, error) {
	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return Transcript{}, pipeline.Wrap(pipeline.KindInternalError, "build transcriber multipart request", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Transcript{}, pipeline.Wrap(pipeline.KindInternalError, "copy audio into transcriber request", err)
	}
	if err := writer.Close(); err != nil {
		return Transcript{}, pipeline.Wrap(pipeline.KindInternalError, "close transcriber multipart request", err)
	}

	url := c.cfg.BaseURL + "/asr?output=json&word_timestamps=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body.String()))
	if err != nil {
		return Transcript{}, pipeline.Wrap(pipeline.KindInternalError, "build transcriber request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, pipeline.Wrap(pipeline.KindUpstreamUnavailable, "transcriber request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Transcript{}, pipeline.New(pipeline.KindUpstreamUnavailable, fmt.Sprintf("transcriber: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Transcript{}, pipeline.New(pipeline.KindUpstreamRejected, fmt.Sprintf("transcriber: status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var decoded segmentsResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return Transcript{}, pipeline.Wrap(pipeline.KindUpstreamRejected, "decode transcriber segments", err)
		}
		texts := make([]string, 0, len(decoded.Segments))
		for _, seg := range decoded.Segments {
			if seg.Text != "" {
				texts = append(texts, seg.Text)
			}
		}
		return Transcript{FullText: strings.Join(texts, " "), Language: decoded.Language}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, pipeline.Wrap(pipeline.KindUpstreamRejected, "read transcriber raw text", err)
	}
	return Transcript{FullText: strings.TrimSpace(string(raw))}, nil
}
