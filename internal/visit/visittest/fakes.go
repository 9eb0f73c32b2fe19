// Package visittest provides in-memory fakes of the visit capabilities for tests.
package visittest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// PageState is what every fake tab renders.
type PageState struct {
	Title       string
	Stylesheets []visit.Stylesheet
	Anchors     int
	Metrics     map[string]float64
	// Width and Height are the document dimensions reported to scripts and
	// used for full-page screenshots.
	Width  int
	Height int
}

// DefaultPage is a small, fully readable document.
func DefaultPage() PageState {
	return PageState{
		Title: "Library Home",
		Stylesheets: []visit.Stylesheet{
			{Href: "inline", Found: true, Rules: 4},
			{Href: "https://cdn.example.com/site.css", Found: false, Rules: 0},
		},
		Anchors: 12,
		Metrics: map[string]float64{"Nodes": 120, "JSHeapUsedSize": 1024},
		Width:   40,
		Height:  90,
	}
}

// Browser is a fake visit.Browser. Zero value is usable; errors are keyed by
// URL, viewport name, or script substring.
type Browser struct {
	mu sync.Mutex

	Page           *PageState
	Ident          visit.BrowserIdentity
	NewTabErr      error
	IdentityErr    error
	NavigateErrs   map[string]error
	ScreenshotErrs map[string]error
	EvalErrs       map[string]error

	tabs   []*Tab
	closed bool
}

// NewBrowser returns a Browser rendering DefaultPage.
func NewBrowser() *Browser {
	page := DefaultPage()
	return &Browser{
		Page:  &page,
		Ident: visit.BrowserIdentity{Product: "HeadlessChrome/126.0", Version: "1.3", UserAgent: "fake-agent"},
	}
}

// NewTab opens a fake tab.
func (b *Browser) NewTab(context.Context) (visit.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewTabErr != nil {
		return nil, b.NewTabErr
	}
	if b.closed {
		return nil, errors.New("browser closed")
	}
	t := &Tab{browser: b}
	b.tabs = append(b.tabs, t)
	return t, nil
}

// Identity returns Ident.
func (b *Browser) Identity(context.Context) (visit.BrowserIdentity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Ident, b.IdentityErr
}

// Close marks the browser closed.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Tabs returns every tab opened so far.
func (b *Browser) Tabs() []*Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Tab(nil), b.tabs...)
}

// OpenTabs counts tabs that were never closed.
func (b *Browser) OpenTabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.tabs {
		if !t.closed {
			n++
		}
	}
	return n
}

func (b *Browser) page() PageState {
	if b.Page == nil {
		return DefaultPage()
	}
	return *b.Page
}

// Tab is a fake visit.Tab.
type Tab struct {
	browser   *Browser
	URL       string
	Viewports []visit.ViewportSpec
	Shots     int
	closed    bool
}

// Navigate records url or returns the configured error for it.
func (t *Tab) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	if err, ok := t.browser.NavigateErrs[url]; ok {
		return err
	}
	t.URL = url
	return nil
}

// Title returns the page title.
func (t *Tab) Title(context.Context) (string, error) {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	return t.browser.page().Title, nil
}

// Evaluate answers the scripts the content and capture packages send,
// recognized by a distinctive substring.
func (t *Tab) Evaluate(_ context.Context, script string, out any) error {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	for needle, err := range t.browser.EvalErrs {
		if strings.Contains(script, needle) {
			return err
		}
	}
	page := t.browser.page()
	var value any
	switch {
	case strings.Contains(script, "wm-ipp-base"):
		value = 0
	case strings.Contains(script, "styleSheets"):
		value = page.Stylesheets
	case strings.Contains(script, "scrollHeight"):
		value = visit.Dimensions{Width: page.Width, Height: page.Height}
	case strings.Contains(script, `querySelectorAll("a")`):
		value = page.Anchors
	default:
		return fmt.Errorf("unexpected script %q", script)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Metrics returns the page metrics.
func (t *Tab) Metrics(context.Context) (map[string]float64, error) {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	return t.browser.page().Metrics, nil
}

// SetViewport records vp.
func (t *Tab) SetViewport(_ context.Context, vp visit.ViewportSpec) error {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	t.Viewports = append(t.Viewports, vp)
	return nil
}

// Screenshot encodes a blank PNG sized like the current viewport, or like
// the document when fullPage is set.
func (t *Tab) Screenshot(_ context.Context, fullPage bool) ([]byte, error) {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	var vp visit.ViewportSpec
	if n := len(t.Viewports); n > 0 {
		vp = t.Viewports[n-1]
	}
	if err, ok := t.browser.ScreenshotErrs[vp.Name]; ok {
		return nil, err
	}
	page := t.browser.page()
	width, height := vp.Width, vp.Height
	if fullPage {
		height = page.Height
	}
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))); err != nil {
		return nil, err
	}
	t.Shots++
	return buf.Bytes(), nil
}

// Close marks the tab closed.
func (t *Tab) Close() error {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *Tab) Closed() bool {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	return t.closed
}

// RawFetcher is a fake visit.RawFetcher.
type RawFetcher struct {
	mu     sync.Mutex
	Body   string
	Errs   map[string]error
	Status int
	calls  []string
}

// Fetch returns Body for any URL without a configured error.
func (f *RawFetcher) Fetch(ctx context.Context, url string) (visit.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return visit.RawResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.Errs[url]; ok {
		return visit.RawResponse{}, err
	}
	status := f.Status
	if status == 0 {
		status = http.StatusOK
	}
	body := f.Body
	if body == "" {
		body = "<html><head><title>Library Home</title></head><body><p>Hours</p></body></html>"
	}
	return visit.RawResponse{
		URL:        url,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}, nil
}

// Calls returns fetched URLs in order.
func (f *RawFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResolveFunc decides a fake resolution.
type ResolveFunc func(url string, at time.Time) (visit.ResolvedSnapshot, bool, error)

// Resolver is a fake visit.Resolver. With a nil Func it resolves every date to itself.
type Resolver struct {
	mu    sync.Mutex
	Func  ResolveFunc
	calls []ResolveCall
}

// ResolveCall records one Resolve invocation.
type ResolveCall struct {
	URL string
	At  time.Time
}

// Resolve records the call and defers to Func.
func (r *Resolver) Resolve(ctx context.Context, url string, at time.Time) (visit.ResolvedSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return visit.ResolvedSnapshot{}, false, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, ResolveCall{URL: url, At: at})
	fn := r.Func
	r.mu.Unlock()
	if fn == nil {
		return Snapshot(url, at, at), true, nil
	}
	return fn(url, at)
}

// Calls returns recorded resolutions in order.
func (r *Resolver) Calls() []ResolveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResolveCall(nil), r.calls...)
}

// Snapshot builds an archive snapshot the way the wayback resolver does.
func Snapshot(url string, requested, resolved time.Time) visit.ResolvedSnapshot {
	ts := resolved.UTC().Format(visit.TimestampLayout)
	return visit.ResolvedSnapshot{
		RequestedDate: requested.UTC(),
		ResolvedDate:  resolved.UTC(),
		Timestamp:     ts,
		SourceURL:     url,
		RawURL:        "http://archive.test/web/" + ts + "id_/" + url,
		RenderedURL:   "http://archive.test/web/" + ts + "/" + url,
		Source:        visit.SourceArchive,
	}
}
