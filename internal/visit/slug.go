package visit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

var (
	schemePrefix    = regexp.MustCompile(`^https?`)
	leadingDashes   = regexp.MustCompile(`^-+`)
	leadingSlashes  = regexp.MustCompile(`^/+`)
	trailingDashes  = regexp.MustCompile(`-+$`)
	trailingSlashes = regexp.MustCompile(`/+$`)
)

// Slugify derives the deterministic identifier used for artifact paths.
// The result is the host's registrable label, a dash, and the slugged
// address without scheme: "https://lib.example.edu/a" becomes
// "example-lib_example_edu-a".
func Slugify(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	u, err := url.Parse(decoded)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	href := strings.ToLower(u.String())
	href = schemePrefix.ReplaceAllString(href, "")
	href = strings.Replace(href, ":", "", 1)
	href = leadingDashes.ReplaceAllString(href, "")
	href = leadingSlashes.ReplaceAllString(href, "")
	href = trailingDashes.ReplaceAllString(href, "")
	href = trailingSlashes.ReplaceAllString(href, "")
	href = strings.Replace(href, "/", "-", 1)
	href = strings.ReplaceAll(href, ".", "_")

	labels := strings.Split(host, ".")
	main := labels[0]
	if len(labels) >= 2 {
		main = labels[len(labels)-2]
	}
	return main + "-" + slug.Make(href), nil
}
