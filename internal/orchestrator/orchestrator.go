// Package orchestrator drives visit units from resolution to commit.
//
// Each (page, date) unit moves through RESOLVING, then NOT_FOUND or RESOLVED,
// then SKIPPED_EXISTS or FETCHING, and ends COMMITTED or FAILED. A unit never
// leaves a partial record behind and never stops the batch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/capture"
	"github.com/JakeFAU/webcat-crawler/internal/catalog"
	"github.com/JakeFAU/webcat-crawler/internal/daterange"
	"github.com/JakeFAU/webcat-crawler/internal/metrics"
	"github.com/JakeFAU/webcat-crawler/internal/telemetry"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// ContentFetcher collects raw and rendered captures.
type ContentFetcher interface {
	FetchRaw(ctx context.Context, url string) (visit.RawCapture, error)
	StoreRaw(ctx context.Context, raw *visit.RawCapture, blobPath string) error
	FetchRendered(ctx context.Context, tab visit.Tab, url string, timeout time.Duration) (visit.RenderedCapture, error)
}

// ArtifactCapturer takes one screenshot per viewport.
type ArtifactCapturer interface {
	Capture(
		ctx context.Context,
		tab visit.Tab,
		viewports []visit.ViewportSpec,
		name capture.Namer,
		overwrite bool,
	) ([]visit.Screenshot, []capture.Failure)
}

// Config controls iteration and the overwrite policy.
type Config struct {
	Viewports     []visit.ViewportSpec
	RenderTimeout time.Duration
	Increment     daterange.Increment
	// StartDate and EndDate override every page's bounds when set.
	StartDate string
	EndDate   string
	Overwrite bool
	// Current visits the live page before any archived dates.
	Current     bool
	Concurrency int
	// Topic receives a notification per committed record. Empty disables publishing.
	Topic string
}

// Deps are the capabilities the orchestrator drives.
type Deps struct {
	Resolver  visit.Resolver
	Content   ContentFetcher
	Capture   ArtifactCapturer
	Browser   visit.Browser
	Store     visit.Store
	Publisher visit.Publisher
	Clock     visit.Clock
	IDs       visit.IDGenerator
	// Client is the caller identity stamped on every record.
	Client visit.ClientInfo
}

// Notification is published after a record is committed.
type Notification struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Date        string   `json:"date"`
	Outcome     Outcome  `json:"outcome"`
	Screenshots []string `json:"screenshots"`
}

// Orchestrator runs batches of visit units.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	summary Summary
	running bool
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Resolver == nil || deps.Content == nil || deps.Capture == nil || deps.Browser == nil || deps.Store == nil {
		return nil, errors.New("orchestrator requires resolver, content, capture, browser and store")
	}
	if deps.IDs == nil {
		return nil, errors.New("orchestrator requires an id generator")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Viewports == nil {
		cfg.Viewports = visit.DefaultViewports()
	}
	if cfg.Increment.Count <= 0 {
		cfg.Increment = daterange.MustParseIncrement(daterange.DefaultIncrement)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}, nil
}

// Snapshot returns the running counts of the current or last batch.
func (o *Orchestrator) Snapshot() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary.clone()
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// unit is one (page, date) piece of work.
type unit struct {
	page      visit.Page
	requested time.Time
	live      bool
	// explicit units come from a pairs file and ignore the page's skip list.
	explicit bool
}

// result is the terminal state of a unit.
type result struct {
	outcome  Outcome
	snapshot *visit.ResolvedSnapshot
	record   *visit.Record
	err      error
}

// Run visits every page of the catalog in order. Per-unit failures are
// counted in the Summary; the returned error is only set when ctx ends the
// batch early.
func (o *Orchestrator) Run(ctx context.Context, pages []visit.Page) (Summary, error) {
	jobs := o.partition(len(pages), func(i int) string { return pages[i].URL })
	return o.dispatch(ctx, len(jobs), func(ctx context.Context, i int) {
		for _, idx := range jobs[i] {
			if ctx.Err() != nil {
				return
			}
			o.visitPage(ctx, pages[idx])
		}
	})
}

// RunPairs visits explicit (url, date) pairs, bypassing date iteration.
// Pages supply attributes for urls present in the catalog.
func (o *Orchestrator) RunPairs(ctx context.Context, pairs []catalog.Pair, pages []visit.Page) (Summary, error) {
	known := make(map[string]visit.Page, len(pages))
	for _, p := range pages {
		if _, ok := known[p.URL]; !ok {
			known[p.URL] = p
		}
	}
	units := make([]unit, len(pairs))
	for i, pair := range pairs {
		page, ok := known[pair.URL]
		if !ok {
			page = visit.Page{URL: pair.URL, Visit: true}
		}
		units[i] = unit{page: page, requested: pair.Date.UTC(), explicit: true}
	}
	jobs := o.partition(len(units), func(i int) string { return units[i].page.URL })
	return o.dispatch(ctx, len(jobs), func(ctx context.Context, i int) {
		for _, idx := range jobs[i] {
			if ctx.Err() != nil {
				return
			}
			o.visitUnit(ctx, units[idx])
		}
	})
}

// partition splits n input indexes into jobs. Sequential runs get one job
// per index in input order. Pooled runs group indexes by url, keeping first
// appearance order, so one worker owns a page's dates.
func (o *Orchestrator) partition(n int, urlOf func(int) string) [][]int {
	jobs := make([][]int, 0, n)
	if o.cfg.Concurrency <= 1 {
		for i := range n {
			jobs = append(jobs, []int{i})
		}
		return jobs
	}
	groups := make(map[string]int)
	for i := range n {
		u := urlOf(i)
		idx, ok := groups[u]
		if !ok {
			idx = len(jobs)
			groups[u] = idx
			jobs = append(jobs, nil)
		}
		jobs[idx] = append(jobs[idx], i)
	}
	return jobs
}

// dispatch runs n jobs, sequentially or on a pool of cfg.Concurrency workers.
func (o *Orchestrator) dispatch(ctx context.Context, n int, job func(context.Context, int)) (Summary, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Summary{}, errors.New("orchestrator batch already running")
	}
	o.running = true
	o.summary = Summary{}
	o.mu.Unlock()

	start := time.Now()
	workers := min(o.cfg.Concurrency, n)
	if workers <= 1 {
		for i := range n {
			if ctx.Err() != nil {
				break
			}
			job(ctx, i)
		}
	} else {
		next := make(chan int)
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range next {
					job(ctx, i)
				}
			}()
		}
	feed:
		for i := range n {
			select {
			case <-ctx.Done():
				break feed
			case next <- i:
			}
		}
		close(next)
		wg.Wait()
	}

	o.mu.Lock()
	o.running = false
	summary := o.summary.clone()
	o.mu.Unlock()

	o.logger.Info("visit batch finished",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped_exists", summary.SkippedExists),
		zap.Int("skipped_config", summary.SkippedConfig),
		zap.Int("not_found", summary.NotFound),
		zap.Int("failed", summary.Failures()),
		zap.Duration("duration", time.Since(start)),
	)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("visit batch interrupted: %w", err)
	}
	return summary, nil
}

// visitPage iterates one page's dates in increasing order.
func (o *Orchestrator) visitPage(ctx context.Context, page visit.Page) {
	now := o.deps.Clock.Now().UTC()
	if !page.Visit {
		o.report(unit{page: page}, result{outcome: OutcomeSkippedConfig}, 0)
		return
	}
	start, err := daterange.Pick(daterange.DefaultStart, o.cfg.StartDate, page.StartDate)
	if err != nil {
		o.report(unit{page: page}, failed(visit.Errorf(visit.KindSetup, "parse start date", page.URL, err)), 0)
		return
	}
	end, err := daterange.Pick(now, o.cfg.EndDate, page.EndDate)
	if err != nil {
		o.report(unit{page: page, requested: start}, failed(visit.Errorf(visit.KindSetup, "parse end date", page.URL, err)), 0)
		return
	}

	if o.cfg.Current {
		o.visitUnit(ctx, unit{page: page, requested: now, live: true})
	}
	dates := daterange.Range{Start: start, End: end, Step: o.cfg.Increment}
	for cursor := range dates.All() {
		if ctx.Err() != nil {
			return
		}
		o.visitUnit(ctx, unit{page: page, requested: cursor})
	}
}

// visitUnit runs one unit to a terminal state and reports it.
func (o *Orchestrator) visitUnit(ctx context.Context, u unit) {
	start := time.Now()
	metrics.IncActiveVisits()
	defer metrics.DecActiveVisits()

	ctx, span := telemetry.StartSpan(ctx, "visit.unit",
		attribute.String("visit.url", u.page.URL),
		attribute.String("visit.requested", u.requested.Format(visit.DateLayout)),
		attribute.Bool("visit.live", u.live),
	)
	res := o.process(ctx, u)
	span.SetAttributes(attribute.String("visit.outcome", string(res.outcome)))
	telemetry.EndSpan(span, res.err)

	metrics.ObserveStage("unit", time.Since(start))
	o.report(u, res, time.Since(start))
	if res.record != nil {
		o.notify(ctx, res)
	}
}

func (o *Orchestrator) process(ctx context.Context, u unit) result {
	if !u.live && !u.explicit && u.page.Skips(u.requested) {
		return result{outcome: OutcomeSkippedConfig}
	}

	snap, ok, err := o.resolve(ctx, u)
	if err != nil {
		return failed(ensureKind(err, visit.KindResolution, "resolve", u.page.URL))
	}
	if !ok {
		return result{outcome: OutcomeNotFound}
	}
	res := result{snapshot: &snap}

	key := snap.Key()
	exists, err := o.deps.Store.Exists(ctx, u.page.URL, key)
	if err != nil {
		res.err = ensureKind(err, visit.KindStore, "check existing", u.page.URL)
		res.outcome = ErrorOutcome(visit.KindOf(res.err))
		return res
	}
	if exists && !o.cfg.Overwrite {
		res.outcome = OutcomeSkippedExists
		return res
	}

	record, err := o.fetch(ctx, u, snap)
	if err != nil {
		res.err = err
		res.outcome = ErrorOutcome(visit.KindOf(err))
		return res
	}

	storeStart := time.Now()
	created, err := o.deps.Store.Upsert(ctx, record)
	metrics.ObserveStage("store", time.Since(storeStart))
	if err != nil {
		res.err = ensureKind(err, visit.KindStore, "upsert", u.page.URL)
		res.outcome = ErrorOutcome(visit.KindOf(res.err))
		return res
	}
	res.record = &record
	res.outcome = OutcomeUpdated
	if created {
		res.outcome = OutcomeCreated
	}
	return res
}

func (o *Orchestrator) resolve(ctx context.Context, u unit) (visit.ResolvedSnapshot, bool, error) {
	if u.live {
		day := u.requested.Truncate(24 * time.Hour)
		return visit.ResolvedSnapshot{
			RequestedDate: u.requested,
			ResolvedDate:  day,
			Timestamp:     u.requested.Format(visit.TimestampLayout),
			SourceURL:     u.page.URL,
			RawURL:        u.page.URL,
			RenderedURL:   u.page.URL,
			Source:        visit.SourceLive,
		}, true, nil
	}
	start := time.Now()
	snap, ok, err := o.deps.Resolver.Resolve(ctx, u.page.URL, u.requested)
	metrics.ObserveStage("resolve", time.Since(start))
	if err != nil || !ok {
		return visit.ResolvedSnapshot{}, ok, err
	}
	// A snapshot after the requested date is never a valid answer.
	if snap.ResolvedDate.After(u.requested) {
		return visit.ResolvedSnapshot{}, false, nil
	}
	return snap, true, nil
}

// fetch runs FETCHING: raw, rendered, then screenshots, and assembles the record.
func (o *Orchestrator) fetch(ctx context.Context, u unit, snap visit.ResolvedSnapshot) (visit.Record, error) {
	slug, err := visit.Slugify(u.page.URL)
	if err != nil {
		return visit.Record{}, visit.Errorf(visit.KindFetch, "slugify", u.page.URL, err)
	}

	rawStart := time.Now()
	raw, err := o.deps.Content.FetchRaw(ctx, snap.RawURL)
	metrics.ObserveStage("raw", time.Since(rawStart))
	if err != nil {
		return visit.Record{}, ensureKind(err, visit.KindFetch, "fetch raw", snap.RawURL)
	}

	rendered, shots, err := o.render(ctx, snap, slug)
	if err != nil {
		return visit.Record{}, err
	}

	// The raw blob is written only once rendering succeeded, so a failed
	// overwrite leaves the stored record's raw payload in place.
	if err := o.deps.Content.StoreRaw(ctx, &raw, path.Join("raw", slug, snap.Timestamp+".html")); err != nil {
		return visit.Record{}, ensureKind(err, visit.KindStore, "store raw", snap.RawURL)
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return visit.Record{}, visit.Errorf(visit.KindStore, "new record id", u.page.URL, err)
	}
	return visit.Record{
		ID:            id,
		URL:           u.page.URL,
		Date:          snap.Key(),
		Timestamp:     snap.Timestamp,
		RequestedDate: u.requested,
		ResolvedDate:  snap.ResolvedDate,
		Source:        snap.Source,
		Slug:          slug,
		Client:        o.deps.Client,
		Raw:           raw,
		Rendered:      rendered,
		Screenshots:   shots,
		Attributes:    u.page.Attributes,
		CommittedAt:   o.deps.Clock.Now().UTC(),
	}, nil
}

// render owns the tab for one unit and closes it on every path.
func (o *Orchestrator) render(
	ctx context.Context,
	snap visit.ResolvedSnapshot,
	slug string,
) (visit.RenderedCapture, []visit.Screenshot, error) {
	tab, err := o.deps.Browser.NewTab(ctx)
	if err != nil {
		return visit.RenderedCapture{}, nil, ensureKind(err, visit.KindRender, "open tab", snap.RenderedURL)
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			o.logger.Debug("close tab failed", zap.String("url", snap.RenderedURL), zap.Error(cerr))
		}
	}()

	renderStart := time.Now()
	rendered, err := o.deps.Content.FetchRendered(ctx, tab, snap.RenderedURL, o.cfg.RenderTimeout)
	metrics.ObserveStage("rendered", time.Since(renderStart))
	if err != nil {
		return visit.RenderedCapture{}, nil, ensureKind(err, visit.KindRender, "fetch rendered", snap.RenderedURL)
	}

	shots, failures := o.deps.Capture.Capture(ctx, tab, o.cfg.Viewports, capture.PathNamer(slug, snap.Timestamp), o.cfg.Overwrite)
	if len(shots) == 0 && len(failures) > 0 {
		return visit.RenderedCapture{}, nil, visit.Errorf(visit.KindCapture, "capture", snap.RenderedURL,
			fmt.Errorf("all %d viewports failed: %w", len(failures), failures[0].Err))
	}
	return rendered, shots, nil
}

func (o *Orchestrator) report(u unit, res result, d time.Duration) {
	o.mu.Lock()
	o.summary.add(res.outcome)
	o.mu.Unlock()
	metrics.ObserveOutcome(string(res.outcome))

	fields := []zap.Field{
		zap.String("outcome", string(res.outcome)),
		zap.String("url", u.page.URL),
	}
	if !u.requested.IsZero() {
		fields = append(fields, zap.String("requested", u.requested.Format(visit.DateLayout)))
	}
	if res.snapshot != nil {
		fields = append(fields,
			zap.String("resolved", res.snapshot.ResolvedDate.Format(time.RFC3339)),
			zap.String("source", string(res.snapshot.Source)),
		)
	}
	if u.live {
		fields = append(fields, zap.Bool("live", true))
	}
	fields = append(fields, zap.Duration("duration", d))

	switch {
	case res.outcome.Failed():
		fields = append(fields, zap.String("error_kind", string(visit.KindOf(res.err))), zap.Error(res.err))
		o.logger.Error("visit unit", fields...)
	case res.outcome == OutcomeNotFound:
		o.logger.Warn("visit unit", fields...)
	default:
		o.logger.Info("visit unit", fields...)
	}
}

// notify publishes a committed record. Failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, res result) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	rec := res.record
	uris := make([]string, 0, len(rec.Screenshots))
	for _, s := range rec.Screenshots {
		uris = append(uris, s.URI)
	}
	msg := Notification{ID: rec.ID, URL: rec.URL, Date: rec.Date, Outcome: res.outcome, Screenshots: uris}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, msg); err != nil {
		o.logger.Warn("publish visit notification failed",
			zap.String("url", rec.URL),
			zap.String("date", rec.Date),
			zap.String("topic", o.cfg.Topic),
			zap.Error(err),
		)
	}
}

func failed(err error) result {
	return result{outcome: ErrorOutcome(visit.KindOf(err)), err: err}
}

// ensureKind keeps an existing classification and applies kind otherwise.
func ensureKind(err error, kind visit.Kind, op, url string) error {
	var ve *visit.Error
	if errors.As(err, &ve) {
		return err
	}
	return visit.Errorf(kind, op, url, err)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
