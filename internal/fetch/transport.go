package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 10 << 20 // 10 MiB cap on any single fetch response.

// Transport is the shared, per-host-polite HTTP client every fetch adapter
// issues plain requests through: it enforces robots.txt (when enabled),
// a per-host courtesy token bucket, and a body size cap. Grounded on
// internal/crawler/robotspolicy.go's RobotsEnforcer and
// renderer_chromedp.go's per-domain rate.Limiter, merged into one
// reusable collaborator instead of being split across a crawler and a
// renderer.
type Transport struct {
	client        *http.Client
	userAgent     string
	respectRobots bool
	robotsCache   sync.Map
	domainLimiters sync.Map
	domainQPS     float64
}

// NewTransport builds a Transport. domainQPS <= 0 disables the courtesy
// limiter (useful for API-key-authenticated collaborators that already
// enforce their own quota).
func NewTransport(userAgent string, respectRobots bool, domainQPS float64, timeout time.Duration) *Transport {
	return &Transport{
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		respectRobots: respectRobots,
		domainQPS:     domainQPS,
	}
}

// Get performs a polite GET: it waits for the host's courtesy budget,
// checks robots.txt, issues the request, and returns the body capped at
// maxBodyBytes.
func (t *Transport) Get(ctx context.Context, rawURL string) ([]byte, *http.Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.KindInvalidData, "parse fetch url", err)
	}

	if err := t.waitCourtesyBudget(ctx, parsed); err != nil {
		return nil, nil, pipeline.Wrap(pipeline.KindUpstreamUnavailable, "courtesy wait", err)
	}
	if t.respectRobots && !t.robotsAllowed(ctx, parsed) {
		return nil, nil, pipeline.New(pipeline.KindUpstreamRejected, "blocked by robots.txt: "+rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.KindInternalError, "build request", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.KindUpstreamUnavailable, "http get", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp, pipeline.Wrap(pipeline.KindUpstreamUnavailable, "read body", err)
	}
	if resp.StatusCode >= 500 {
		return body, resp, pipeline.New(pipeline.KindUpstreamUnavailable, fmt.Sprintf("upstream %d for %s", resp.StatusCode, rawURL))
	}
	if resp.StatusCode >= 400 {
		return body, resp, pipeline.New(pipeline.KindUpstreamRejected, fmt.Sprintf("upstream %d for %s", resp.StatusCode, rawURL))
	}
	return body, resp, nil
}

func (t *Transport) waitCourtesyBudget(ctx context.Context, parsed *url.URL) error {
	if t.domainQPS <= 0 {
		return nil
	}
	host := strings.ToLower(parsed.Host)
	val, _ := t.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(t.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

func (t *Transport) robotsAllowed(ctx context.Context, parsed *url.URL) bool {
	data, err := t.loadRobots(ctx, parsed)
	if err != nil {
		return true
	}
	group := data.FindGroup(t.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (t *Transport) loadRobots(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := t.robotsCache.Load(hostKey); ok {
		data, ok := cached.(*robotstxt.RobotsData)
		if !ok {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.userAgent)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, err
	}
	t.robotsCache.Store(hostKey, data)
	return data, nil
}
