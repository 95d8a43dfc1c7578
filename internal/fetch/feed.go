package fetch

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// rssFeed is a permissive RSS 2.0 / podcast-RSS structure. No feed-parsing
// library (e.g. gofeed) appears anywhere in the reference pack, so this is
// hand-rolled on encoding/xml, the same library the teacher's own config
// loader leans on stdlib parsers for.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID        string   `xml:"guid"`
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Author      string   `xml:"author"`
	PubDate     string   `xml:"pubDate"`
	Enclosure   *rssEnc  `xml:"enclosure"`
	Duration    string   `xml:"duration"`
}

type rssEnc struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

// FeedAdapter fetches and parses an RSS feed (channel/item elements; an
// Atom feed/entry document yields no items). The same adapter serves
// both FEED and PODCAST_FEED sources; podcast mode additionally maps the
// audio enclosure into the item's media fields.
type FeedAdapter struct {
	transport *Transport
	breakers  *breaker.Registry
	podcast   bool
}

// NewFeedAdapter builds a FeedAdapter. podcast selects podcast-specific
// field mapping (audio enclosure, duration).
func NewFeedAdapter(transport *Transport, breakers *breaker.Registry, podcast bool) *FeedAdapter {
	return &FeedAdapter{transport: transport, breakers: breakers, podcast: podcast}
}

// Fetch downloads and parses the feed at source.Endpoint. cursor, when
// non-empty, is the GUID of the last item already processed; items up to
// and including that GUID are skipped. Feeds are not paginated so More is
// always false.
func (a *FeedAdapter) Fetch(ctx context.Context, source pipeline.SourceDescriptor, cursor string) (Result, error) {
	var body []byte
	execErr := a.breakers.Execute(a.dependency(), func() error {
		b, _, err := a.transport.Get(ctx, source.Endpoint)
		body = b
		return err
	})
	if execErr != nil {
		return Result{}, execErr
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Result{}, pipeline.Wrap(pipeline.KindInvalidData, "parse feed xml", err)
	}

	var counts Counts
	var items []pipeline.RawItem
	seenCursor := cursor == ""
	now := time.Now().UTC()
	for _, it := range feed.Channel.Items {
		if !seenCursor {
			if it.GUID == cursor {
				seenCursor = true
			}
			continue
		}
		if it.Link == "" && it.Title == "" {
			counts.Skipped++
			continue
		}
		raw := pipeline.RawItem{
			ExternalID: firstNonEmpty(it.GUID, it.Link),
			Kind:       source.Kind,
			URL:        it.Link,
			Title:      strings.TrimSpace(it.Title),
			Excerpt:    strings.TrimSpace(it.Description),
			Author:     it.Author,
			Attributes: map[string]any{},
			FetchedAt:  now,
		}
		if t, ok := parsePubDate(it.PubDate); ok {
			raw.PublishedAt = &t
		}
		if a.podcast && it.Enclosure != nil {
			raw.ThumbnailURL = ""
			raw.Attributes["enclosure_url"] = it.Enclosure.URL
			raw.Attributes["enclosure_type"] = it.Enclosure.Type
			if d, ok := parseDurationSeconds(it.Duration); ok {
				raw.DurationSeconds = &d
			}
		}
		items = append(items, raw)
		counts.Fetched++
	}

	nextCursor := cursor
	if len(feed.Channel.Items) > 0 {
		nextCursor = feed.Channel.Items[0].GUID
	}

	return Result{Items: items, NextCursor: nextCursor, More: false, Counts: counts}, nil
}

func (a *FeedAdapter) dependency() breaker.Dependency {
	if a.podcast {
		return breaker.DependencyCMS
	}
	return breaker.DependencyCMS
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
}

func parsePubDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseDurationSeconds accepts either a bare seconds count or HH:MM:SS /
// MM:SS, the two shapes the itunes:duration tag commonly carries.
func parseDurationSeconds(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, true
	}
	parts := strings.Split(raw, ":")
	mult := []int{1, 60, 3600}
	total := 0
	for i := 0; i < len(parts); i++ {
		n, err := strconv.Atoi(parts[len(parts)-1-i])
		if err != nil {
			return 0, false
		}
		if i >= len(mult) {
			return 0, false
		}
		total += n * mult[i]
	}
	return total, true
}

// PodcastDiscoveryAdapter crawls a directory page for podcast feed links
// and fans out a FetchJob per discovered feed instead of returning items
// itself, per §4.F's discovery-adapter contract.
type PodcastDiscoveryAdapter struct {
	transport *Transport
	breakers  *breaker.Registry
	onDiscover func(feedURL string)
}

// NewPodcastDiscoveryAdapter builds a PodcastDiscoveryAdapter.
func NewPodcastDiscoveryAdapter(transport *Transport, breakers *breaker.Registry) *PodcastDiscoveryAdapter {
	return &PodcastDiscoveryAdapter{transport: transport, breakers: breakers}
}

// OnDiscover registers the callback invoked once per discovered feed URL;
// the worker runtime wires this to enqueue a PODCAST_FEED FetchJob.
func (a *PodcastDiscoveryAdapter) OnDiscover(fn func(feedURL string)) { a.onDiscover = fn }

// Fetch scans the directory page for anchor hrefs ending in common feed
// suffixes and reports each via onDiscover. It always returns zero items.
func (a *PodcastDiscoveryAdapter) Fetch(ctx context.Context, source pipeline.SourceDescriptor, _ string) (Result, error) {
	var body []byte
	execErr := a.breakers.Execute(breaker.DependencyCMS, func() error {
		b, _, err := a.transport.Get(ctx, source.Endpoint)
		body = b
		return err
	})
	if execErr != nil {
		return Result{}, execErr
	}

	links := extractFeedLinks(body)
	counts := Counts{Fetched: len(links)}
	if a.onDiscover != nil {
		for _, l := range links {
			a.onDiscover(l)
		}
	}
	return Result{Items: nil, More: false, Counts: counts}, nil
}
