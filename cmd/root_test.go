package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/api"
	"github.com/JakeFAU/webcat-crawler/internal/capture"
	"github.com/JakeFAU/webcat-crawler/internal/config"
	"github.com/JakeFAU/webcat-crawler/internal/content"
	"github.com/JakeFAU/webcat-crawler/internal/hash/sha256"
	"github.com/JakeFAU/webcat-crawler/internal/id/uuid"
	"github.com/JakeFAU/webcat-crawler/internal/orchestrator"
	memblob "github.com/JakeFAU/webcat-crawler/internal/storage/memory"
	"github.com/JakeFAU/webcat-crawler/internal/store"
	memstore "github.com/JakeFAU/webcat-crawler/internal/store/memory"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
	"github.com/JakeFAU/webcat-crawler/internal/visit/visittest"
)

const libURL = "https://lib.example.edu"

// fakeApp runs a real orchestrator over in-memory fakes.
type fakeApp struct {
	cfg      config.Config
	store    *memstore.Store
	resolver *visittest.Resolver
	orch     *orchestrator.Orchestrator
	closed   int
}

func newFakeApp(t *testing.T, cfg config.Config) *fakeApp {
	t.Helper()
	inc, err := cfg.Increment()
	require.NoError(t, err)
	f := &fakeApp{cfg: cfg, store: memstore.New(), resolver: &visittest.Resolver{}}
	blobs := memblob.NewBlobStore()
	browser := visittest.NewBrowser()
	f.orch, err = orchestrator.New(orchestrator.Deps{
		Resolver: f.resolver,
		Content:  content.New(&visittest.RawFetcher{}, browser, content.Options{Blobs: blobs, Hasher: sha256.New()}),
		Capture:  capture.New(blobs, zap.NewNop()),
		Browser:  browser,
		Store:    f.store,
		IDs:      uuid.New(),
	}, orchestrator.Config{
		Viewports:     cfg.Viewports,
		RenderTimeout: cfg.Visit.RenderTimeout,
		Increment:     inc,
		StartDate:     cfg.Visit.StartDate,
		EndDate:       cfg.Visit.EndDate,
		Overwrite:     cfg.Visit.Overwrite,
		Current:       cfg.Visit.Current,
		Concurrency:   cfg.Visit.Concurrency,
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func (f *fakeApp) Close()                                      { f.closed++ }
func (f *fakeApp) GetOrchestrator() *orchestrator.Orchestrator { return f.orch }
func (f *fakeApp) Server() *api.Server {
	return api.NewServer(f.orch, f.store, zap.NewNop(), api.Options{})
}

// stubApp swaps the factories for the duration of t and returns a pointer
// to the app the next command builds.
func stubApp(t *testing.T) **fakeApp {
	t.Helper()
	var built *fakeApp
	prevApp, prevLogger := newApp, newLogger
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		built = newFakeApp(t, cfg)
		return built, nil
	}
	newLogger = func(config.Config) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newApp, newLogger = prevApp, prevLogger })
	return &built
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVisitRunsCatalog(t *testing.T) {
	built := stubApp(t)
	catalogPath := writeFile(t, "pages.yaml", `
pages:
  - url: https://lib.example.edu
    start_date: "2010-01-01"
    end_date: "2012-01-02"
  - url: https://closed.example.edu
    visit: false
`)

	out, err := execute(t, "visit", "--catalog", catalogPath, "--increment", "1 years")
	require.NoError(t, err)

	app := *built
	require.NotNil(t, app)
	assert.Equal(t, 1, app.closed)
	dates, err := app.store.Dates(context.Background(), libURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"2010-01-01", "2011-01-01", "2012-01-01"}, dates)
	assert.Contains(t, out, `"created": 3`)
	assert.Contains(t, out, `"skipped_config": 1`)
}

func TestVisitFlagsOverrideConfig(t *testing.T) {
	built := stubApp(t)

	_, err := execute(t, "visit",
		"--url", libURL,
		"--start-date", "2005-06-01",
		"--end-date", "2005-06-02",
		"--increment", "1 days",
		"--overwrite",
		"--concurrency", "2",
	)
	require.NoError(t, err)

	cfg := (*built).cfg
	assert.Equal(t, "2005-06-01", cfg.Visit.StartDate)
	assert.Equal(t, "2005-06-02", cfg.Visit.EndDate)
	assert.Equal(t, "1 days", cfg.Visit.Increment)
	assert.True(t, cfg.Visit.Overwrite)
	assert.Equal(t, 2, cfg.Visit.Concurrency)

	calls := (*built).resolver.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, libURL, calls[0].URL)
}

func TestVisitExplicitPairs(t *testing.T) {
	built := stubApp(t)
	input := writeFile(t, "pairs.csv", "url,date\nhttps://lib.example.edu,2014-03-01\nhttps://lib.example.edu,2016-07-04\n")

	_, err := execute(t, "visit", "--input", input)
	require.NoError(t, err)

	dates, err := (*built).store.Dates(context.Background(), libURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"2014-03-01", "2016-07-04"}, dates)
}

func TestVisitWithoutPagesFails(t *testing.T) {
	built := stubApp(t)

	_, err := execute(t, "visit")
	require.ErrorContains(t, err, "nothing to visit")
	assert.Equal(t, 1, (*built).closed)
}

func TestVisitRejectsInvalidFlag(t *testing.T) {
	built := stubApp(t)

	_, err := execute(t, "visit", "--url", libURL, "--increment", "fortnightly")
	require.ErrorContains(t, err, "visit.increment")
	assert.Nil(t, *built)
}

func TestVisitReportsAppFailure(t *testing.T) {
	stubApp(t)
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return nil, errors.New("no chrome")
	}

	_, err := execute(t, "visit", "--url", libURL)
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestVisitMissingConfigFile(t *testing.T) {
	stubApp(t)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "visit", "--url", libURL)
	require.ErrorContains(t, err, "load config")
}

func TestServeRequiresCatalogForRun(t *testing.T) {
	built := stubApp(t)

	_, err := execute(t, "serve", "--run")
	require.ErrorContains(t, err, "needs a catalog")
	assert.Equal(t, 1, (*built).closed)
}

func TestStatusPrintsCountAndDates(t *testing.T) {
	built := stubApp(t)
	s := memstore.New()
	for _, date := range []string{"2010-01-01", "2011-01-01"} {
		_, err := s.Upsert(context.Background(), visit.Record{URL: libURL, Date: date})
		require.NoError(t, err)
	}
	prev := openStore
	openStore = func(context.Context, store.Config) (visit.Store, error) { return s, nil }
	t.Cleanup(func() { openStore = prev })

	out, err := execute(t, "status", "--url", libURL)
	require.NoError(t, err)
	assert.Nil(t, *built, "status must not launch the browser")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"records: 2",
		"https://lib.example.edu: 2 dates",
		"  2010-01-01",
		"  2011-01-01",
	}, lines)
}

func TestStatusReportsOpenFailure(t *testing.T) {
	stubApp(t)
	prev := openStore
	openStore = func(context.Context, store.Config) (visit.Store, error) { return nil, errors.New("locked") }
	t.Cleanup(func() { openStore = prev })

	_, err := execute(t, "status")
	require.ErrorContains(t, err, "open store")
}
