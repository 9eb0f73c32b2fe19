// Package detector profiles raw HTML for client-side rendering, which tells
// whether the raw and rendered captures of a snapshot are expected to differ.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// DefaultBodyLengthThreshold is the size below which a script-dense page
// counts as a rendering shell.
const DefaultBodyLengthThreshold = 2048

// Heuristic implements a handful of rule-based checks.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = []struct {
	name   string
	marker []byte
}{
	{"next", []byte("__next")},
	{"root", []byte(`id="root"`)},
	{"app", []byte(`id="app"`)},
	{"react", []byte("data-reactroot")},
	{"angular", []byte("ng-version")},
}

// Analyze reports the script share of body and any single-page-app markers.
func (h *Heuristic) Analyze(body []byte) visit.ScriptProfile {
	if len(body) == 0 {
		return visit.ScriptProfile{NeedsRender: true}
	}
	profile := visit.ScriptProfile{ScriptShare: scriptShare(body)}
	for _, m := range spaMarkers {
		if bytes.Contains(body, m.marker) {
			profile.Markers = append(profile.Markers, m.name)
		}
	}
	profile.NeedsRender = len(profile.Markers) > 0 ||
		(len(body) < h.BodyLengthThreshold && profile.ScriptShare >= 25)
	return profile
}

// scriptShare returns the percentage of bytes inside <script> elements.
func scriptShare(body []byte) int {
	lower := asciiLower(body)
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag: the rest of the document is script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage * 100 / total
}

// asciiLower folds A-Z only, so every byte keeps its position. Archived pages
// are often Latin-1 and must not grow through rune replacement.
func asciiLower(body []byte) string {
	out := make([]byte, len(body))
	for i, c := range body {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
