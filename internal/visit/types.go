// Package visit defines the archival visit domain: catalog pages, resolved
// snapshots, the persisted visit record, and the capabilities the
// orchestrator drives.
package visit

import (
	"net/http"
	"slices"
	"time"
)

// DateLayout is the normalized form of a record's key date.
const DateLayout = "2006-01-02"

// TimestampLayout is the 14-digit archive timestamp layout.
const TimestampLayout = "20060102150405"

// Source identifies where a visit's content came from.
type Source string

const (
	// SourceArchive marks content fetched through the time-travel archive.
	SourceArchive Source = "archive"
	// SourceLive marks content fetched directly from the page's origin.
	SourceLive Source = "live"
)

// Page is a catalog entry the orchestrator iterates over.
type Page struct {
	URL        string            `json:"url" yaml:"url"`
	StartDate  string            `json:"start_date,omitempty" yaml:"start_date"`
	EndDate    string            `json:"end_date,omitempty" yaml:"end_date"`
	Visit      bool              `json:"visit" yaml:"visit"`
	Skip       []string          `json:"skip,omitempty" yaml:"skip"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

// Skips reports whether the cursor date is listed in the page's skip set.
// Matching is textual against the DateLayout rendering of the cursor.
func (p Page) Skips(cursor time.Time) bool {
	return slices.Contains(p.Skip, cursor.UTC().Format(DateLayout))
}

// ResolvedSnapshot is the nearest archived capture of a URL.
type ResolvedSnapshot struct {
	RequestedDate time.Time `json:"requested_date"`
	ResolvedDate  time.Time `json:"resolved_date"`
	Timestamp     string    `json:"timestamp"`
	SourceURL     string    `json:"source_url"`
	RawURL        string    `json:"raw_url"`
	RenderedURL   string    `json:"rendered_url"`
	Source        Source    `json:"source"`
}

// Key returns the normalized store date for the snapshot.
func (s ResolvedSnapshot) Key() string {
	return s.ResolvedDate.UTC().Format(DateLayout)
}

// Record is the persisted unit, keyed by (URL, Date).
type Record struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Date          string            `json:"date"`
	Timestamp     string            `json:"timestamp"`
	RequestedDate time.Time         `json:"requested_date"`
	ResolvedDate  time.Time         `json:"resolved_date"`
	Source        Source            `json:"source"`
	Slug          string            `json:"slug"`
	Client        ClientInfo        `json:"client"`
	Raw           RawCapture        `json:"raw"`
	Rendered      RenderedCapture   `json:"rendered"`
	Screenshots   []Screenshot      `json:"screenshots"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CommittedAt   time.Time         `json:"committed_at"`
}

// RawCapture describes the unrendered HTML payload.
type RawCapture struct {
	URL          string      `json:"url"`
	StatusCode   int         `json:"status_code"`
	ContentType  string      `json:"content_type"`
	Headers      http.Header `json:"headers"`
	Title        string      `json:"title"`
	ElementCount int         `json:"element_count"`
	Bytes        int         `json:"bytes"`
	Chars        int         `json:"chars"`
	SHA256       string      `json:"sha256"`
	BlobURI      string      `json:"blob_uri,omitempty"`
	Agent        string      `json:"agent"`
	AccessedAt   time.Time   `json:"accessed_at"`
	// Scripts profiles how much of the raw page depends on client-side rendering.
	Scripts ScriptProfile `json:"scripts"`
	// Body is held until the raw blob is written and never stored in a record.
	Body []byte `json:"-"`
}

// ScriptProfile summarizes script usage in raw HTML.
type ScriptProfile struct {
	// ScriptShare is the percentage of bytes inside <script> elements.
	ScriptShare int      `json:"script_share"`
	Markers     []string `json:"markers,omitempty"`
	NeedsRender bool     `json:"needs_render"`
}

// RenderedCapture describes the DOM after a full browser navigation.
type RenderedCapture struct {
	URL         string             `json:"url"`
	Title       string             `json:"title"`
	Stylesheets []Stylesheet       `json:"stylesheets"`
	CSS         CSSTotals          `json:"css"`
	Anchors     int                `json:"anchors"`
	Metrics     map[string]float64 `json:"metrics"`
	Browser     BrowserIdentity    `json:"browser"`
	AccessedAt  time.Time          `json:"accessed_at"`
}

// Stylesheet is one entry of the rendered page's stylesheet inventory.
// Found is false when the rules could not be read, e.g. cross-origin sheets.
type Stylesheet struct {
	Href  string `json:"href"`
	Found bool   `json:"found"`
	Rules int    `json:"rules"`
}

// CSSTotals summarizes the stylesheet inventory.
type CSSTotals struct {
	Sheets     int `json:"sheets"`
	Inline     int `json:"inline"`
	Unreadable int `json:"unreadable"`
	Empty      int `json:"empty"`
	Rules      int `json:"rules"`
}

// BrowserIdentity describes the browser that rendered a page.
type BrowserIdentity struct {
	Product   string `json:"product"`
	Version   string `json:"version"`
	UserAgent string `json:"user_agent"`
}

// ClientInfo is the caller's network identity.
type ClientInfo struct {
	IP  string `json:"ip,omitempty"`
	Geo *Geo   `json:"geo,omitempty"`
}

// Geo is a coarse geolocation for an IP address.
type Geo struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// ViewportSpec parameterizes one screenshot.
type ViewportSpec struct {
	Name      string `json:"name" mapstructure:"name" yaml:"name"`
	Width     int    `json:"width" mapstructure:"width" yaml:"width"`
	Height    int    `json:"height" mapstructure:"height" yaml:"height"`
	Landscape bool   `json:"landscape" mapstructure:"landscape" yaml:"landscape"`
}

// FullPage reports whether the viewport requests a full-document capture.
func (v ViewportSpec) FullPage() bool {
	return v.Height <= 1
}

// DefaultViewports mirrors the historical mobile and desktop captures.
func DefaultViewports() []ViewportSpec {
	return []ViewportSpec{
		{Name: "mobile", Width: 600, Height: 1, Landscape: false},
		{Name: "desktop", Width: 1200, Height: 1, Landscape: true},
	}
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Screenshot is one captured viewport.
type Screenshot struct {
	Viewport   ViewportSpec `json:"viewport"`
	Path       string       `json:"path"`
	URI        string       `json:"uri"`
	Physical   Dimensions   `json:"physical"`
	Calculated Dimensions   `json:"calculated"`
	Reused     bool         `json:"reused,omitempty"`
}

// RawResponse is what a RawFetcher returns for a single GET.
type RawResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
