// Package fetch implements the fetch stage (component F): it dispatches a
// FetchJob to a per-kind adapter, consumes an admission-control token
// before every call, and reports aggregate counts back to the caller for
// enqueueing the follow-on NormalizeJob. Grounded on the crawler's
// Colly/chromedp-based fetchers (internal/crawler/fetcher_colly.go,
// renderer_chromedp.go) generalized from "fetch one page" to "poll one
// content source", and on internal/crawler/interfaces.go's small
// single-method collaborator interfaces.
package fetch

import (
	"context"
	"time"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/ingestlane/pipeline/internal/ratelimit"
)

// Counts summarizes one fetch call's outcome, mirrored into normalize
// batch telemetry.
type Counts struct {
	Fetched int
	Skipped int
	Errors  int
}

// Result is a single adapter invocation's output.
type Result struct {
	Items      []pipeline.RawItem
	NextCursor string
	More       bool
	Counts     Counts
}

// Adapter fetches one page of items for a source. Implementations must be
// safe for concurrent use across distinct sources.
type Adapter interface {
	Fetch(ctx context.Context, source pipeline.SourceDescriptor, cursor string) (Result, error)
}

// minContinuationDelay is the floor on the re-enqueue delay for paginated
// continuations, so a single chatty source cannot hot-loop the fetch
// queue (§4.F).
const minContinuationDelay = time.Second

// Dispatcher maps each SourceKind to its adapter via a fixed switch, never
// a runtime-registerable map, per the closed-dispatch redesign flag.
type Dispatcher struct {
	limiter          *ratelimit.Limiter
	feed             *FeedAdapter
	podcastFeed      *FeedAdapter
	podcastDiscovery *PodcastDiscoveryAdapter
	website          *WebsiteAdapter
	video            *VideoChannelAdapter
	forum            *SocialAdapter
	microblog        *SocialAdapter
}

// NewDispatcher wires every per-kind adapter behind a shared rate limiter.
func NewDispatcher(
	limiter *ratelimit.Limiter,
	breakers *breaker.Registry,
	transport *Transport,
) *Dispatcher {
	return &Dispatcher{
		limiter:          limiter,
		feed:             NewFeedAdapter(transport, breakers, false),
		podcastFeed:      NewFeedAdapter(transport, breakers, true),
		podcastDiscovery: NewPodcastDiscoveryAdapter(transport, breakers),
		website:          NewWebsiteAdapter(transport, breakers),
		video:            NewVideoChannelAdapter(transport, breakers),
		forum:            NewSocialAdapter(transport, breakers, breaker.DependencyForumAPI),
		microblog:        NewSocialAdapter(transport, breakers, breaker.DependencyMicroblogAPI),
	}
}

// Fetch admits the call through the rate limiter and dispatches to the
// source kind's adapter. A denial is not an error: it returns a zero
// Result so the caller enqueues nothing and does not retry (no retry
// storm against an already-throttled source).
func (d *Dispatcher) Fetch(ctx context.Context, source pipeline.SourceDescriptor, cursor string) (Result, error) {
	check := d.limiter.Consume(source.Kind, source.ID)
	if !check.Allowed {
		return Result{}, nil
	}

	switch source.Kind {
	case pipeline.SourceKindFeed:
		return d.feed.Fetch(ctx, source, cursor)
	case pipeline.SourceKindPodcastFeed:
		return d.podcastFeed.Fetch(ctx, source, cursor)
	case pipeline.SourceKindPodcastDiscovery:
		return d.podcastDiscovery.Fetch(ctx, source, cursor)
	case pipeline.SourceKindWebsite:
		return d.website.Fetch(ctx, source, cursor)
	case pipeline.SourceKindVideoChannel:
		return d.video.Fetch(ctx, source, cursor)
	case pipeline.SourceKindForum:
		return d.forum.Fetch(ctx, source, cursor)
	case pipeline.SourceKindMicroblog:
		return d.microblog.Fetch(ctx, source, cursor)
	default:
		return Result{}, pipeline.New(pipeline.KindConfigError, "fetch: unsupported source kind "+string(source.Kind))
	}
}

// OnPodcastDiscovered registers the callback the worker runtime uses to
// turn a discovered podcast feed URL into a new PODCAST_FEED FetchJob.
func (d *Dispatcher) OnPodcastDiscovered(fn func(feedURL string)) {
	d.podcastDiscovery.OnDiscover(fn)
}

// ContinuationDelay returns the delay a paginated adapter's continuation
// re-enqueue should use, enforcing the floor from §4.F.
func ContinuationDelay(requested time.Duration) time.Duration {
	if requested < minContinuationDelay {
		return minContinuationDelay
	}
	return requested
}
