// Package wayback resolves archived snapshots through the Wayback Machine
// availability API and builds the archive's raw and rendered URLs.
package wayback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/metrics"
	"github.com/JakeFAU/webcat-crawler/internal/policy/retry"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Defaults for the public archive.
const (
	DefaultAvailabilityURL = "https://archive.org/wayback/available"
	DefaultWebBaseURL      = "http://web.archive.org/web"
)

const maxBodyBytes = 1 << 20

// Config controls the resolver.
type Config struct {
	AvailabilityURL string
	WebBaseURL      string
	Timeout         time.Duration
	UserAgent       string
}

type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Resolver implements visit.Resolver against the availability API.
type Resolver struct {
	cfg     Config
	client  *http.Client
	limiter waiter
	retry   *retry.Policy
	logger  *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.client = c } }

// WithLimiter throttles availability lookups.
func WithLimiter(l waiter) Option { return func(r *Resolver) { r.limiter = l } }

// WithRetry sets the retry policy for transient failures.
func WithRetry(p *retry.Policy) Option { return func(r *Resolver) { r.retry = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.logger = l } }

// New builds a Resolver.
func New(cfg Config, opts ...Option) *Resolver {
	if cfg.AvailabilityURL == "" {
		cfg.AvailabilityURL = DefaultAvailabilityURL
	}
	if cfg.WebBaseURL == "" {
		cfg.WebBaseURL = DefaultWebBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	r := &Resolver{
		cfg:    cfg,
		retry:  retry.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: cfg.Timeout, Transport: newHTTPTransport()}
	}
	return r
}

type availability struct {
	ArchivedSnapshots struct {
		Closest *closest `json:"closest"`
	} `json:"archived_snapshots"`
}

type closest struct {
	Status    string `json:"status"`
	Available bool   `json:"available"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

// Resolve returns the closest snapshot at or before at. A false result with
// a nil error means the archive holds nothing usable for that horizon.
func (r *Resolver) Resolve(ctx context.Context, pageURL string, at time.Time) (visit.ResolvedSnapshot, bool, error) {
	at = at.UTC()
	endpoint, err := r.lookupURL(pageURL, at)
	if err != nil {
		metrics.ObserveResolver("error")
		return visit.ResolvedSnapshot{}, false, visit.Errorf(visit.KindResolution, "build lookup", pageURL, err)
	}

	var payload availability
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		return r.lookup(ctx, endpoint, &payload)
	})
	if err != nil {
		metrics.ObserveResolver("error")
		return visit.ResolvedSnapshot{}, false, visit.Errorf(visit.KindResolution, "availability lookup", pageURL, err)
	}

	c := payload.ArchivedSnapshots.Closest
	if c == nil || strings.TrimSpace(c.Timestamp) == "" {
		metrics.ObserveResolver("not-found")
		return visit.ResolvedSnapshot{}, false, nil
	}
	resolved, err := time.Parse(visit.TimestampLayout, c.Timestamp)
	if err != nil {
		metrics.ObserveResolver("error")
		return visit.ResolvedSnapshot{}, false, visit.Errorf(visit.KindResolution, "parse timestamp", pageURL, err)
	}
	if resolved.After(at) {
		r.logger.Debug("closest snapshot is after requested date",
			zap.String("url", pageURL),
			zap.Time("requested", at),
			zap.String("closest", c.Timestamp),
		)
		metrics.ObserveResolver("not-found")
		return visit.ResolvedSnapshot{}, false, nil
	}

	metrics.ObserveResolver("found")
	return visit.ResolvedSnapshot{
		RequestedDate: at,
		ResolvedDate:  resolved,
		Timestamp:     c.Timestamp,
		SourceURL:     pageURL,
		RawURL:        RawURL(r.cfg.WebBaseURL, c.Timestamp, pageURL),
		RenderedURL:   RenderedURL(r.cfg.WebBaseURL, c.Timestamp, pageURL),
		Source:        visit.SourceArchive,
	}, true, nil
}

func (r *Resolver) lookupURL(pageURL string, at time.Time) (string, error) {
	u, err := url.Parse(r.cfg.AvailabilityURL)
	if err != nil {
		return "", fmt.Errorf("parse availability url: %w", err)
	}
	q := u.Query()
	q.Set("url", pageURL)
	q.Set("timestamp", at.Format(visit.TimestampLayout))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Resolver) lookup(ctx context.Context, endpoint string, out *availability) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, endpoint); err != nil {
			return retry.Permanent{Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Permanent{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("availability request: %w", err)
		}
		return retry.Retryable{Err: fmt.Errorf("availability request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return retry.Retryable{Err: fmt.Errorf("read availability body: %w", err)}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable{Err: fmt.Errorf("availability status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return retry.Permanent{Err: fmt.Errorf("availability status %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return retry.Permanent{Err: fmt.Errorf("malformed availability response at offset %d: %w", syntaxErr.Offset, err)}
		}
		return retry.Permanent{Err: fmt.Errorf("decode availability response: %w", err)}
	}
	return nil
}

// RenderedURL is the archive address that serves the page with archive chrome.
func RenderedURL(base, timestamp, pageURL string) string {
	return strings.TrimRight(base, "/") + "/" + timestamp + "/" + pageURL
}

// RawURL is the archive address that serves the original bytes ("id_" flag).
func RawURL(base, timestamp, pageURL string) string {
	return strings.TrimRight(base, "/") + "/" + timestamp + "id_/" + pageURL
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
