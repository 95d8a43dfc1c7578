package fetch

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// WebsiteAdapter scrapes an arbitrary article listing page and extracts
// one RawItem per article link, using goquery the way the teacher uses it
// indirectly through Colly's HTML parsing. Unlike Colly's recursive
// same-process crawl, this adapter fetches exactly one listing page per
// call; the normalize/enrichment stages, not recursive link-following, do
// the rest of the work.
type WebsiteAdapter struct {
	transport *Transport
	breakers  *breaker.Registry
}

// NewWebsiteAdapter builds a WebsiteAdapter.
func NewWebsiteAdapter(transport *Transport, breakers *breaker.Registry) *WebsiteAdapter {
	return &WebsiteAdapter{transport: transport, breakers: breakers}
}

// Fetch downloads source.Endpoint and extracts article candidates from
// links inside article, .post, h2 and h3 elements that carry both an href
// and visible text. cursor, when set, is the href of the next-page link to follow
// instead of the configured endpoint (pagination).
func (a *WebsiteAdapter) Fetch(ctx context.Context, source pipeline.SourceDescriptor, cursor string) (Result, error) {
	target := source.Endpoint
	if cursor != "" {
		target = cursor
	}

	var body []byte
	execErr := a.breakers.Execute(breaker.DependencyCMS, func() error {
		b, _, err := a.transport.Get(ctx, target)
		body = b
		return err
	})
	if execErr != nil {
		return Result{}, execErr
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, pipeline.Wrap(pipeline.KindInvalidData, "parse website html", err)
	}

	now := time.Now().UTC()
	var items []pipeline.RawItem
	var counts Counts
	seen := make(map[string]bool)

	doc.Find("article a[href], .post a[href], h2 a[href], h3 a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		title := strings.TrimSpace(sel.Text())
		if !ok || href == "" || title == "" {
			counts.Skipped++
			return
		}
		if seen[href] {
			return
		}
		seen[href] = true
		items = append(items, pipeline.RawItem{
			ExternalID: href,
			Kind:       source.Kind,
			URL:        href,
			Title:      title,
			Attributes: map[string]any{},
			FetchedAt:  now,
		})
		counts.Fetched++
	})

	nextCursor := ""
	more := false
	doc.Find(`a[rel="next"], a.next, .pagination a:contains("Next")`).Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			nextCursor = href
			more = true
		}
	})

	return Result{Items: items, NextCursor: nextCursor, More: more, Counts: counts}, nil
}

// extractFeedLinks scans a directory/listing page for anchors whose href
// looks like a feed (rss/xml suffix, or an explicit "feed" path segment),
// used by PodcastDiscoveryAdapter.
func extractFeedLinks(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		lower := strings.ToLower(href)
		isFeed := strings.HasSuffix(lower, ".xml") ||
			strings.HasSuffix(lower, ".rss") ||
			strings.Contains(lower, "feed")
		if !isFeed || seen[href] {
			return
		}
		seen[href] = true
		links = append(links, href)
	})
	return links
}
