package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"archive url", "http://web.archive.org/web/2010/https://lib.example.edu", "web.archive.org"},
		{"standard https", "https://Lib.Example.edu/path", "lib.example.edu"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveOutcomeCounts(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(visitOutcomesTotal.WithLabelValues("created"))
	ObserveOutcome("created")
	ObserveOutcome("created")
	if got := testutil.ToFloat64(visitOutcomesTotal.WithLabelValues("created")); got != before+2 {
		t.Fatalf("expected created outcome to grow by 2, got %f -> %f", before, got)
	}
}

func TestObserveHelpersDoNotPanic(t *testing.T) {
	ObserveStage("resolve", 150*time.Millisecond)
	ObserveScreenshot("mobile", "ok")
	ObserveResolver("not-found")
	ObserveRateLimitDelay("archive.org", time.Second)
	IncActiveVisits()
	DecActiveVisits()
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	if got := testutil.ToFloat64(screenshotsTotal.WithLabelValues("mobile", "ok")); got < 1 {
		t.Fatalf("expected screenshot counter to be recorded, got %f", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveOutcome("not-found")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "webcat_visit_outcomes_total") {
		t.Fatal("expected outcome counter in exposition")
	}
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://web.archive.org/web/1/x", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
