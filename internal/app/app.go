// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/api"
	"github.com/JakeFAU/webcat-crawler/internal/capture"
	"github.com/JakeFAU/webcat-crawler/internal/clientinfo"
	"github.com/JakeFAU/webcat-crawler/internal/clock/system"
	"github.com/JakeFAU/webcat-crawler/internal/config"
	"github.com/JakeFAU/webcat-crawler/internal/content"
	collyfetcher "github.com/JakeFAU/webcat-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/webcat-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/webcat-crawler/internal/hash/sha256"
	"github.com/JakeFAU/webcat-crawler/internal/id/uuid"
	"github.com/JakeFAU/webcat-crawler/internal/orchestrator"
	"github.com/JakeFAU/webcat-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/webcat-crawler/internal/policy/retry"
	"github.com/JakeFAU/webcat-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/webcat-crawler/internal/storage"
	"github.com/JakeFAU/webcat-crawler/internal/store"
	"github.com/JakeFAU/webcat-crawler/internal/telemetry"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
	"github.com/JakeFAU/webcat-crawler/internal/wayback"
)

// BrowserFactory launches the shared browser.
type BrowserFactory func(ctx context.Context, driver string, cfg headless.Config) (visit.Browser, error)

// Option overrides how a service is built.
type Option func(*builder)

type builder struct {
	browser   BrowserFactory
	resolver  visit.Resolver
	raw       visit.RawFetcher
	publisher visit.Publisher
	client    *visit.ClientInfo
}

// WithBrowserFactory replaces the headless launcher.
func WithBrowserFactory(f BrowserFactory) Option { return func(b *builder) { b.browser = f } }

// WithResolver replaces the archive resolver.
func WithResolver(r visit.Resolver) Option { return func(b *builder) { b.resolver = r } }

// WithRawFetcher replaces the colly fetcher used for raw bodies.
func WithRawFetcher(f visit.RawFetcher) Option { return func(b *builder) { b.raw = f } }

// WithPublisher replaces the Pub/Sub publisher. It is used only when a topic is configured.
func WithPublisher(p visit.Publisher) Option { return func(b *builder) { b.publisher = p } }

// WithClientInfo skips the public IP lookup and stamps info on every record.
func WithClientInfo(info visit.ClientInfo) Option { return func(b *builder) { b.client = &info } }

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by a Cobra hook after the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        visit.Store
	blobs        visit.BlobStore
	browser      visit.Browser
	publisher    visit.Publisher
	orchestrator *orchestrator.Orchestrator

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the services were built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetStore exposes the visit record store.
func (a *App) GetStore() visit.Store {
	return a.store
}

// GetBlobs exposes the screenshot and raw body store.
func (a *App) GetBlobs() visit.BlobStore {
	return a.blobs
}

// GetOrchestrator returns the batch runner.
func (a *App) GetOrchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Ready reports whether the record store answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.store.Count(ctx); err != nil {
		return fmt.Errorf("visit store not ready: %w", err)
	}
	return nil
}

// Server builds the ops HTTP server over the orchestrator and store.
func (a *App) Server() *api.Server {
	return api.NewServer(a.orchestrator, a.store, a.logger, api.Options{Ready: a.Ready})
}

// New creates every service from cfg. It fails fast; services opened before
// a failure are closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &builder{browser: headless.New}
	for _, opt := range opts {
		opt(b)
	}

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx, b); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("db", cfg.DB.Provider),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("browser", cfg.Browser.Driver),
		zap.Bool("publish", a.publisher != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, b *builder) error {
	cfg := a.cfg
	l := a.logger

	shutdown, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.onClose("tracer", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	l.Info("opening visit store", zap.String("provider", cfg.DB.Provider))
	a.store, err = store.Open(ctx, store.Config{
		Provider: cfg.DB.Provider,
		Path:     cfg.DB.Path,
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	a.onClose("store", a.store.Close)

	l.Info("opening blob storage", zap.String("provider", cfg.Storage.Provider))
	blobs, closeBlobs, err := storage.Open(ctx, storage.Config{
		Provider:    cfg.Storage.Provider,
		BaseDir:     cfg.Storage.BaseDir,
		GCSBucket:   cfg.Storage.GCSBucket,
		S3Bucket:    cfg.Storage.S3Bucket,
		S3Region:    cfg.Storage.S3Region,
		S3Endpoint:  cfg.Storage.S3Endpoint,
		S3PathStyle: cfg.Storage.S3PathStyle,
		Prefix:      cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.blobs = blobs
	a.onClose("storage", closeBlobs)

	l.Info("launching browser", zap.String("driver", cfg.Browser.Driver), zap.Bool("headless", cfg.Browser.Headless))
	a.browser, err = b.browser(ctx, cfg.Browser.Driver, headless.Config{
		UserAgent: cfg.Visit.UserAgent,
		Headless:  cfg.Browser.Headless,
		ExecPath:  cfg.Browser.ExecPath,
		MaxTabs:   cfg.Visit.Concurrency,
		Stealth:   cfg.Browser.Stealth,
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	a.onClose("browser", a.browser.Close)

	raw := b.raw
	if raw == nil {
		raw = collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Visit.UserAgent,
			Timeout:     cfg.Archive.RequestTimeout,
			MaxBodySize: cfg.Archive.MaxBodyBytes,
		})
	}

	resolver := b.resolver
	if resolver == nil {
		resolver = wayback.New(
			wayback.Config{
				AvailabilityURL: cfg.Archive.AvailabilityURL,
				WebBaseURL:      cfg.Archive.WebBaseURL,
				Timeout:         cfg.Archive.RequestTimeout,
				UserAgent:       cfg.Visit.UserAgent,
			},
			wayback.WithLimiter(ratelimit.New(ratelimit.Config{
				RPS:   cfg.Archive.RatePerSecond,
				Burst: cfg.Archive.Burst,
			})),
			wayback.WithRetry(retry.New(retry.WithMaxAttempts(cfg.Archive.MaxRetries+1))),
			wayback.WithLogger(l.Named("wayback")),
		)
	}

	if cfg.PubSub.TopicName != "" {
		a.publisher = b.publisher
		if a.publisher == nil {
			l.Info("connecting to Pub/Sub", zap.String("topic", cfg.PubSub.TopicName))
			p, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID)
			if err != nil {
				return fmt.Errorf("failed to initialize publisher: %w", err)
			}
			a.publisher = p
		}
		if c, ok := a.publisher.(io.Closer); ok {
			a.onClose("publisher", c.Close)
		}
	}

	var client visit.ClientInfo
	if b.client != nil {
		client = *b.client
	} else {
		r, err := clientinfo.New(clientinfo.Config{
			IPEndpoint: cfg.Client.IPEndpoint,
			GeoIPDB:    cfg.Client.GeoIPDB,
		}, l.Named("clientinfo"))
		if err != nil {
			return fmt.Errorf("failed to initialize client lookup: %w", err)
		}
		client = r.Lookup(ctx)
		if err := r.Close(); err != nil {
			l.Warn("error closing geoip database", zap.Error(err))
		}
	}

	inc, err := cfg.Increment()
	if err != nil {
		return err
	}
	clock := system.New()
	a.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Resolver: resolver,
		Content: content.New(raw, a.browser, content.Options{
			Blobs:  a.blobs,
			Hasher: sha256.New(),
			Clock:  clock,
			Agent:  cfg.Visit.UserAgent,
			Logger: l.Named("content"),
		}),
		Capture:   capture.New(a.blobs, l.Named("capture")),
		Browser:   a.browser,
		Store:     a.store,
		Publisher: a.publisher,
		Clock:     clock,
		IDs:       uuid.New(),
		Client:    client,
	}, orchestrator.Config{
		Viewports:     cfg.Viewports,
		RenderTimeout: cfg.Visit.RenderTimeout,
		Increment:     inc,
		StartDate:     cfg.Visit.StartDate,
		EndDate:       cfg.Visit.EndDate,
		Overwrite:     cfg.Visit.Overwrite,
		Current:       cfg.Visit.Current,
		Concurrency:   cfg.Visit.Concurrency,
		Topic:         cfg.PubSub.TopicName,
	}, l.Named("orchestrator"))
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close shuts down services in reverse order of creation and flushes the logger.
// It is safe to call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil

	// Sync fails on unbuffered terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
