package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// socialAPIItem is the generic JSON shape a forum/microblog API is
// expected to return per item. Real per-provider clients would have a
// richer, provider-specific schema; this is the minimal shape the
// normalize stage's mapper needs (§4.G).
type socialAPIItem struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Author     string `json:"author"`
	CreatedAt  string `json:"created_at"`
	Likes      int    `json:"likes"`
	Shares     int    `json:"shares"`
	Comments   int    `json:"comments"`
	Score      int    `json:"score"`
	ContentKind string `json:"content_kind"`
}

type socialAPIResponse struct {
	Items      []socialAPIItem `json:"items"`
	NextCursor string          `json:"next_cursor"`
}

// SocialAdapter polls a generic forum/microblog REST API, authenticating
// with the source's per-provider API key. No forum or microblog SDK
// appears anywhere in the reference pack, so this talks a minimal
// provider-agnostic JSON contract directly over net/http rather than
// fabricating a dependency on an unseen client library.
type SocialAdapter struct {
	transport  *Transport
	breakers   *breaker.Registry
	dependency breaker.Dependency
}

// NewSocialAdapter builds a SocialAdapter bound to the given breaker
// dependency (FORUM_API or MICROBLOG_API).
func NewSocialAdapter(transport *Transport, breakers *breaker.Registry, dep breaker.Dependency) *SocialAdapter {
	return &SocialAdapter{transport: transport, breakers: breakers, dependency: dep}
}

// Fetch requests one page of items from source.Endpoint, forwarding
// cursor as a query parameter when present.
func (a *SocialAdapter) Fetch(ctx context.Context, source pipeline.SourceDescriptor, cursor string) (Result, error) {
	target := source.Endpoint
	if cursor != "" {
		u, err := url.Parse(source.Endpoint)
		if err != nil {
			return Result{}, pipeline.Wrap(pipeline.KindConfigError, "parse endpoint", err)
		}
		q := u.Query()
		q.Set("cursor", cursor)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	if source.KindSpecificSettings.PerProviderAPIKey != "" {
		u, err := url.Parse(target)
		if err == nil {
			q := u.Query()
			q.Set("api_key", source.KindSpecificSettings.PerProviderAPIKey)
			u.RawQuery = q.Encode()
			target = u.String()
		}
	}

	var body []byte
	execErr := a.breakers.Execute(a.dependency, func() error {
		b, _, err := a.transport.Get(ctx, target)
		body = b
		return err
	})
	if execErr != nil {
		return Result{}, execErr
	}

	var parsed socialAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, pipeline.Wrap(pipeline.KindInvalidData, fmt.Sprintf("parse %s response", a.dependency), err)
	}

	now := time.Now().UTC()
	var items []pipeline.RawItem
	var counts Counts
	for _, it := range parsed.Items {
		if it.URL == "" && it.Title == "" {
			counts.Skipped++
			continue
		}
		raw := pipeline.RawItem{
			ExternalID: it.ID,
			Kind:       source.Kind,
			URL:        it.URL,
			Title:      it.Title,
			Body:       it.Body,
			Author:     it.Author,
			Engagement: &pipeline.Engagement{Likes: it.Likes, Shares: it.Shares, Comments: it.Comments, Score: it.Score},
			Attributes: map[string]any{"content_kind": it.ContentKind},
			FetchedAt:  now,
		}
		if ts, err := strconv.ParseInt(it.CreatedAt, 10, 64); err == nil {
			t := time.Unix(ts, 0).UTC()
			raw.PublishedAt = &t
		} else if t, ok := parsePubDate(it.CreatedAt); ok {
			raw.PublishedAt = &t
		}
		items = append(items, raw)
		counts.Fetched++
	}

	return Result{
		Items:      items,
		NextCursor: parsed.NextCursor,
		More:       parsed.NextCursor != "",
		Counts:     counts,
	}, nil
}
