package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/ingestlane/pipeline/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *breaker.Registry) {
	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	limiter := ratelimit.New(map[pipeline.SourceKind]ratelimit.Rule{
		pipeline.SourceKindFeed: {MaxRequests: 1000, Window: time.Minute},
	})
	return NewDispatcher(limiter, breakers, transport), breakers
}

func TestDispatchUnsupportedKindIsConfigError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher()
	_, err := d.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "x", Kind: pipeline.SourceKindUpload}, "")
	assert.True(t, pipeline.Is(err, pipeline.KindConfigError))
}

func TestDispatchDeniedByRateLimiterReturnsEmptySuccess(t *testing.T) {
	t.Parallel()
	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	limiter := ratelimit.New(map[pipeline.SourceKind]ratelimit.Rule{
		pipeline.SourceKindFeed: {MaxRequests: 0, Window: time.Minute},
	})
	d := NewDispatcher(limiter, breakers, transport)

	result, err := d.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "feed-1", Kind: pipeline.SourceKindFeed, Endpoint: "http://example.invalid/feed.xml"}, "")
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestFeedAdapterParsesItems(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<rss><channel>
			<item><guid>g1</guid><title>First</title><link>http://x/1</link><pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate></item>
			<item><guid>g2</guid><title>Second</title><link>http://x/2</link></item>
		</channel></rss>`))
	}))
	defer ts.Close()

	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	adapter := NewFeedAdapter(transport, breakers, false)

	result, err := adapter.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "feed-1", Kind: pipeline.SourceKindFeed, Endpoint: ts.URL}, "")
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, "First", result.Items[0].Title)
	assert.NotNil(t, result.Items[0].PublishedAt)
}

func TestFeedAdapterCursorSkipsSeenItems(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<rss><channel>
			<item><guid>g1</guid><title>First</title><link>http://x/1</link></item>
			<item><guid>g2</guid><title>Second</title><link>http://x/2</link></item>
		</channel></rss>`))
	}))
	defer ts.Close()

	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	adapter := NewFeedAdapter(transport, breakers, false)

	result, err := adapter.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "feed-1", Kind: pipeline.SourceKindFeed, Endpoint: ts.URL}, "g1")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Second", result.Items[0].Title)
}

func TestWebsiteAdapterExtractsLinksAndPagination(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<article><a href="http://x/a">Title A</a></article>
			<article><a href="http://x/b">Title B</a></article>
			<a rel="next" href="http://x/page2">Next</a>
		</body></html>`))
	}))
	defer ts.Close()

	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	adapter := NewWebsiteAdapter(transport, breakers)

	result, err := adapter.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "site-1", Kind: pipeline.SourceKindWebsite, Endpoint: ts.URL}, "")
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.True(t, result.More)
	assert.Equal(t, "http://x/page2", result.NextCursor)
}

func TestSocialAdapterParsesItemsAndCursor(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"1","url":"http://x/1","title":"Hello","likes":5}],"next_cursor":"abc"}`))
	}))
	defer ts.Close()

	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	adapter := NewSocialAdapter(transport, breakers, breaker.DependencyForumAPI)

	result, err := adapter.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "forum-1", Kind: pipeline.SourceKindForum, Endpoint: ts.URL}, "")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 5, result.Items[0].Engagement.Sum())
	assert.True(t, result.More)
	assert.Equal(t, "abc", result.NextCursor)
}

func TestPodcastDiscoveryFansOutAndReturnsNoItems(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="http://x/show1/feed.xml">Show 1</a></body></html>`))
	}))
	defer ts.Close()

	transport := NewTransport("ingestlane-test/1.0", false, 0, 5*time.Second)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	adapter := NewPodcastDiscoveryAdapter(transport, breakers)

	var discovered []string
	adapter.OnDiscover(func(feedURL string) { discovered = append(discovered, feedURL) })

	result, err := adapter.Fetch(context.Background(), pipeline.SourceDescriptor{ID: "dir-1", Kind: pipeline.SourceKindPodcastDiscovery, Endpoint: ts.URL}, "")
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, []string{"http://x/show1/feed.xml"}, discovered)
}

func TestContinuationDelayEnforcesFloor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, minContinuationDelay, ContinuationDelay(0))
	assert.Equal(t, 2*time.Second, ContinuationDelay(2*time.Second))
}
