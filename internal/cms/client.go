// Package cms implements the HTTP client for the external content
// management collaborator: content-item creation/status/artifact/
// transcript/embedding calls and a health probe. Grounded on the
// teacher's api.Server request/response JSON helpers
// (internal/api/server.go's writeJSON/writeError shape) turned inside
// out into a client, and on internal/crawler/interfaces.go's convention
// of one small method per collaborator capability.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ingestlane/pipeline/internal/id/uuid"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

// Config configures the collaborator client.
type Config struct {
	BaseURL      string
	ServiceToken string
	ServiceName  string
	Timeout      time.Duration
}

// Client talks to the content-management collaborator's internal HTTP
// surface (§6). It implements normalize.CMSClient, media.ArtifactUpdater,
// and the status/transcript/embedding operations enrichment needs.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var idGen = uuid.NewUUIDGenerator()

// New builds a Client. httpClient may be a custom round tripper for
// tests; a zero value falls back to a client with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

type createOrGetRequest struct {
	IdempotencyKey  string         `json:"idempotency_key"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Status          string         `json:"status"`
	Title           string         `json:"title"`
	BodyText        string         `json:"body_text,omitempty"`
	Excerpt         string         `json:"excerpt,omitempty"`
	Author          string         `json:"author,omitempty"`
	SourceName      string         `json:"source_name"`
	SourceFeedURL   string         `json:"source_feed_url,omitempty"`
	OriginalURL     string         `json:"original_url"`
	PublishedAt     *time.Time     `json:"published_at,omitempty"`
	MediaURL        string         `json:"media_url,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
	DurationSeconds *int           `json:"duration_sec,omitempty"`
	TopicTags       []string       `json:"topic_tags,omitempty"`
	Metadata        map[string]any `json:"metadata"`
}

type createOrGetResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// CreateOrGet implements normalize.CMSClient.
func (c *Client) CreateOrGet(ctx context.Context, item pipeline.CanonicalItem) (string, error) {
	req := createOrGetRequest{
		IdempotencyKey:  item.IdempotencyKey,
		Type:            string(item.Type),
		Source:          string(item.SourceKind),
		Status:          string(item.Status),
		Title:           item.Title,
		BodyText:        item.BodyText,
		Excerpt:         item.Excerpt,
		Author:          item.Author,
		SourceName:      item.SourceName,
		SourceFeedURL:   item.SourceFeedURL,
		OriginalURL:     item.OriginalURL,
		PublishedAt:     item.PublishedAt,
		MediaURL:        item.MediaURL,
		ThumbnailURL:    item.ThumbnailURL,
		DurationSeconds: item.DurationSeconds,
		TopicTags:       item.TopicTags,
		Metadata:        item.Attributes,
	}
	var resp createOrGetResponse
	if err := c.do(ctx, http.MethodPost, "/internal/content-items", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

type updateStatusRequest struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// UpdateStatus implements the enrichment stage's finalization call.
func (c *Client) UpdateStatus(ctx context.Context, contentID string, status pipeline.ContentStatus, failureReason string) error {
	path := fmt.Sprintf("/internal/content-items/%s/status", contentID)
	return c.do(ctx, http.MethodPatch, path, updateStatusRequest{Status: string(status), FailureReason: failureReason}, nil)
}

type updateArtifactsRequest struct {
	MediaURL        string `json:"media_url,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_sec,omitempty"`
}

// UpdateArtifacts implements media.ArtifactUpdater.
func (c *Client) UpdateArtifacts(ctx context.Context, contentID, mediaURL, thumbnailURL string, durationSeconds int) error {
	path := fmt.Sprintf("/internal/content-items/%s/artifacts", contentID)
	req := updateArtifactsRequest{MediaURL: mediaURL, ThumbnailURL: thumbnailURL, DurationSeconds: durationSeconds}
	return c.do(ctx, http.MethodPatch, path, req, nil)
}

type createTranscriptRequest struct {
	ContentItemID string `json:"content_item_id"`
	FullText      string `json:"full_text"`
	Language      string `json:"language,omitempty"`
}

type createTranscriptResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateTranscript submits a finished transcript and returns its id.
func (c *Client) CreateTranscript(ctx context.Context, contentID, fullText, language string) (string, error) {
	req := createTranscriptRequest{ContentItemID: contentID, FullText: fullText, Language: language}
	var resp createTranscriptResponse
	if err := c.do(ctx, http.MethodPost, "/internal/transcripts", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

type linkTranscriptRequest struct {
	TranscriptID string `json:"transcript_id"`
}

// LinkTranscript associates a transcript id with its content item.
func (c *Client) LinkTranscript(ctx context.Context, contentID, transcriptID string) error {
	path := fmt.Sprintf("/internal/content-items/%s/transcript", contentID)
	return c.do(ctx, http.MethodPatch, path, linkTranscriptRequest{TranscriptID: transcriptID}, nil)
}

type updateEmbeddingRequest struct {
	Embedding []float32 `json:"embedding"`
	TopicTags []string  `json:"topic_tags,omitempty"`
}

// UpdateEmbedding submits a content item's semantic embedding vector.
func (c *Client) UpdateEmbedding(ctx context.Context, contentID string, vector []float32, topicTags []string) error {
	path := fmt.Sprintf("/internal/content-items/%s/embedding", contentID)
	return c.do(ctx, http.MethodPatch, path, updateEmbeddingRequest{Embedding: vector, TopicTags: topicTags}, nil)
}

// HealthProbe reports whether the collaborator is reachable, used by the
// admin API's readiness check.
func (c *Client) HealthProbe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.Wrap(pipeline.KindUpstreamUnavailable, "cms health probe", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pipeline.New(pipeline.KindUpstreamUnavailable, fmt.Sprintf("cms health probe: status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pipeline.Wrap(pipeline.KindInternalError, "encode cms request", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return pipeline.Wrap(pipeline.KindInternalError, "build cms request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceToken)
	req.Header.Set("X-Service-Name", c.cfg.ServiceName)
	reqID, err := idGen.NewID()
	if err != nil {
		reqID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.Wrap(pipeline.KindUpstreamUnavailable, "cms request "+method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return pipeline.New(pipeline.KindUpstreamUnavailable, fmt.Sprintf("cms %s %s: status %d", method, path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return pipeline.New(pipeline.KindUpstreamRejected, fmt.Sprintf("cms %s %s: status %d", method, path, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pipeline.Wrap(pipeline.KindUpstreamRejected, "decode cms response", err)
	}
	return nil
}
