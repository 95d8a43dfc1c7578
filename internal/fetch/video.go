package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ingestlane/pipeline/internal/breaker"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// VideoChannelAdapter renders a video channel's listing page with headless
// Chrome and extracts one RawItem per video link. Channel listing pages
// are typically populated by client-side JavaScript, so a plain HTTP GET
// (as used by WebsiteAdapter) is insufficient; this mirrors
// internal/crawler/renderer_chromedp.go's allocator/browser-context setup,
// generalized from "render one page on demand" to "render one channel's
// listing page per fetch call".
type VideoChannelAdapter struct {
	transport     *Transport
	breakers      *breaker.Registry
	allocatorOpts []chromedp.ExecAllocatorOption
	renderTimeout time.Duration
	userAgent     string
}

// NewVideoChannelAdapter builds a VideoChannelAdapter with a headless,
// GPU-disabled Chrome allocator.
func NewVideoChannelAdapter(transport *Transport, breakers *breaker.Registry) *VideoChannelAdapter {
	userAgent := "ingest-pipeline/1.0"
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(userAgent),
	)
	return &VideoChannelAdapter{
		transport:     transport,
		breakers:      breakers,
		allocatorOpts: opts,
		renderTimeout: 30 * time.Second,
		userAgent:     userAgent,
	}
}

// responseStatus tracks the HTTP status of the listing page's own
// document response, captured via the network domain the same way
// internal/crawler/renderer_chromedp.go's recordResponse does.
type responseStatus struct {
	once sync.Once
	code int
}

func (a *VideoChannelAdapter) recordResponseStatus(tabCtx context.Context, status *responseStatus) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		status.once.Do(func() {
			status.code = int(resp.Response.Status)
		})
	})
}

// Fetch renders source.Endpoint and extracts video candidates. Channel
// pages are not cursor-paginated by this adapter; More is always false.
// Only entries present in the first render are returned; render does not
// scroll to load lazily-loaded entries.
func (a *VideoChannelAdapter) Fetch(ctx context.Context, source pipeline.SourceDescriptor, _ string) (Result, error) {
	var html string
	execErr := a.breakers.Execute(breaker.DependencyVideoChannelAPI, func() error {
		rendered, err := a.render(ctx, source.Endpoint)
		html = rendered
		return err
	})
	if execErr != nil {
		return Result{}, execErr
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return Result{}, pipeline.Wrap(pipeline.KindInvalidData, "parse rendered channel page", err)
	}

	now := time.Now().UTC()
	var items []pipeline.RawItem
	var counts Counts
	seen := make(map[string]bool)

	doc.Find(`a[href*="/watch"], a[href*="/video"], article a[href]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		title := strings.TrimSpace(sel.AttrOr("title", sel.Text()))
		if !ok || href == "" || title == "" || seen[href] {
			if ok && href != "" {
				counts.Skipped++
			}
			return
		}
		seen[href] = true
		items = append(items, pipeline.RawItem{
			ExternalID: href,
			Kind:       source.Kind,
			URL:        href,
			Title:      title,
			Attributes: map[string]any{"media_ready": false},
			FetchedAt:  now,
		})
		counts.Fetched++
	})

	return Result{Items: items, More: false, Counts: counts}, nil
}

func (a *VideoChannelAdapter) render(ctx context.Context, targetURL string) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, a.allocatorOpts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	taskCtx, cancel := context.WithTimeout(browserCtx, a.renderTimeout)
	defer cancel()

	status := &responseStatus{}
	a.recordResponseStatus(taskCtx, status)

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(a.userAgent),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", pipeline.Wrap(pipeline.KindUpstreamUnavailable, "render channel page", err)
	}
	if status.code >= 400 {
		return "", pipeline.Wrap(pipeline.KindUpstreamUnavailable, "render channel page",
			fmt.Errorf("listing page returned status %d", status.code))
	}
	return html, nil
}
