// Package content retrieves the raw and rendered representations of a
// resolved snapshot.
package content

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/headless/detector"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// DefaultRenderTimeout bounds navigation when the caller passes zero.
const DefaultRenderTimeout = 60 * time.Second

// Options configures a Fetcher.
type Options struct {
	// Blobs receives the raw body when a blob path is supplied. Optional.
	Blobs  visit.BlobStore
	Hasher visit.Hasher
	Clock  visit.Clock
	// Agent is recorded as the raw capture's user agent.
	Agent string
	// Profiler scores raw HTML for client-side rendering. Defaults to the heuristic detector.
	Profiler ScriptProfiler
	Logger   *zap.Logger
}

// ScriptProfiler summarizes script usage in a raw body.
type ScriptProfiler interface {
	Analyze(body []byte) visit.ScriptProfile
}

// Fetcher implements fetchRaw and fetchRendered over the injected capabilities.
type Fetcher struct {
	raw      visit.RawFetcher
	browser  visit.Browser
	blobs    visit.BlobStore
	hasher   visit.Hasher
	clock    visit.Clock
	agent    string
	profiler ScriptProfiler
	logger   *zap.Logger

	idMu     sync.Mutex
	identity *visit.BrowserIdentity
}

// New builds a Fetcher. browser may be nil when only raw captures are needed.
func New(raw visit.RawFetcher, browser visit.Browser, opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = utcClock{}
	}
	profiler := opts.Profiler
	if profiler == nil {
		profiler = detector.NewHeuristic(0)
	}
	return &Fetcher{
		raw:      raw,
		browser:  browser,
		blobs:    opts.Blobs,
		hasher:   opts.Hasher,
		clock:    clock,
		agent:    opts.Agent,
		profiler: profiler,
		logger:   logger,
	}
}

// FetchRaw GETs the raw resource and summarizes it. The body rides along in
// the capture until StoreRaw writes it.
func (f *Fetcher) FetchRaw(ctx context.Context, url string) (visit.RawCapture, error) {
	resp, err := f.raw.Fetch(ctx, url)
	if err != nil {
		return visit.RawCapture{}, ensureKind(err, visit.KindFetch, "fetch raw", url)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return visit.RawCapture{}, visit.Errorf(visit.KindFetch, "parse raw html", url, err)
	}

	capture := visit.RawCapture{
		URL:          url,
		StatusCode:   resp.StatusCode,
		ContentType:  mediaType(resp.Headers.Get("Content-Type")),
		Headers:      resp.Headers,
		Title:        strings.TrimSpace(doc.Find("title").Text()),
		ElementCount: doc.Find("html *").Length(),
		Bytes:        len(resp.Body),
		Chars:        utf8.RuneCount(resp.Body),
		Agent:        f.agent,
		AccessedAt:   f.clock.Now(),
		Scripts:      f.profiler.Analyze(resp.Body),
		Body:         resp.Body,
	}

	if f.hasher != nil {
		sum, err := f.hasher.Hash(resp.Body)
		if err != nil {
			return visit.RawCapture{}, visit.Errorf(visit.KindFetch, "hash raw body", url, err)
		}
		capture.SHA256 = sum
	}

	return capture, nil
}

// StoreRaw writes the captured body to blobPath, records its URI and drops
// the body. Without a blob store or path it only drops the body.
func (f *Fetcher) StoreRaw(ctx context.Context, raw *visit.RawCapture, blobPath string) error {
	body := raw.Body
	raw.Body = nil
	if f.blobs == nil || blobPath == "" {
		return nil
	}
	uri, err := f.blobs.PutObject(ctx, blobPath, "text/html; charset=utf-8", body)
	if err != nil {
		return visit.Errorf(visit.KindStore, "store raw body", raw.URL, err)
	}
	raw.BlobURI = uri
	return nil
}

// FetchRendered navigates tab to url, waits for network quiescence, strips
// archive chrome and collects DOM metrics. The tab is owned by the caller.
func (f *Fetcher) FetchRendered(ctx context.Context, tab visit.Tab, url string, timeout time.Duration) (visit.RenderedCapture, error) {
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	if err := tab.Navigate(ctx, url, timeout); err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "navigate", url)
	}

	var removed int
	if err := tab.Evaluate(ctx, stripArchiveScript, &removed); err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "strip archive chrome", url)
	}
	if removed > 0 {
		f.logger.Debug("stripped archive chrome", zap.String("url", url), zap.Int("elements", removed))
	}

	title, err := tab.Title(ctx)
	if err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "read title", url)
	}

	var sheets []visit.Stylesheet
	if err := tab.Evaluate(ctx, stylesheetsScript, &sheets); err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "inventory stylesheets", url)
	}
	if sheets == nil {
		sheets = []visit.Stylesheet{}
	}

	var anchors int
	if err := tab.Evaluate(ctx, anchorsScript, &anchors); err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "count anchors", url)
	}

	metrics, err := tab.Metrics(ctx)
	if err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "read metrics", url)
	}

	identity, err := f.browserIdentity(ctx)
	if err != nil {
		return visit.RenderedCapture{}, ensureKind(err, visit.KindRender, "browser identity", url)
	}

	return visit.RenderedCapture{
		URL:         url,
		Title:       title,
		Stylesheets: sheets,
		CSS:         Totals(sheets),
		Anchors:     anchors,
		Metrics:     metrics,
		Browser:     identity,
		AccessedAt:  f.clock.Now(),
	}, nil
}

// Totals summarizes a stylesheet inventory.
func Totals(sheets []visit.Stylesheet) visit.CSSTotals {
	t := visit.CSSTotals{Sheets: len(sheets)}
	for _, s := range sheets {
		if s.Href == "inline" {
			t.Inline++
		}
		if !s.Found {
			t.Unreadable++
		}
		if s.Rules == 0 {
			t.Empty++
		}
		t.Rules += s.Rules
	}
	return t
}

// browserIdentity asks the browser once and caches a successful answer.
func (f *Fetcher) browserIdentity(ctx context.Context) (visit.BrowserIdentity, error) {
	if f.browser == nil {
		return visit.BrowserIdentity{}, nil
	}
	f.idMu.Lock()
	defer f.idMu.Unlock()
	if f.identity != nil {
		return *f.identity, nil
	}
	id, err := f.browser.Identity(ctx)
	if err != nil {
		return visit.BrowserIdentity{}, fmt.Errorf("read browser identity: %w", err)
	}
	f.identity = &id
	return id, nil
}

// ensureKind keeps an existing classification and otherwise applies kind.
func ensureKind(err error, kind visit.Kind, op, url string) error {
	if visit.KindOf(err) != visit.KindUnknown {
		return err
	}
	return visit.Errorf(kind, op, url, err)
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
