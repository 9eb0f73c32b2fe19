package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/performance"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Chromedp implements visit.Browser with one Chrome process per batch.
type Chromedp struct {
	cfg           Config
	slots         slots
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// NewChromedp launches Chrome and waits for it to accept commands.
func NewChromedp(ctx context.Context, cfg Config) (*Chromedp, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headlessFlag(cfg.Headless)),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, visit.Errorf(visit.KindSetup, "launch chromedp", "", err)
	}
	return &Chromedp{
		cfg:           cfg,
		slots:         newSlots(cfg.MaxTabs),
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func headlessFlag(enabled bool) any {
	if enabled {
		return "new"
	}
	return false
}

// Close terminates the browser process.
func (c *Chromedp) Close() error {
	c.closeOnce.Do(func() {
		c.browserCancel()
		c.allocCancel()
	})
	return nil
}

// Identity reports the browser product and user agent.
func (c *Chromedp) Identity(ctx context.Context) (visit.BrowserIdentity, error) {
	var id visit.BrowserIdentity
	runCtx, cancel := context.WithCancel(c.browserCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, revision, userAgent, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return fmt.Errorf("browser version: %w", err)
		}
		id = visit.BrowserIdentity{Product: product, Version: revision, UserAgent: userAgent}
		return nil
	}))
	if err != nil {
		return visit.BrowserIdentity{}, visit.Errorf(visit.KindRender, "browser identity", "", err)
	}
	return id, nil
}

// NewTab opens a tab in the shared browser.
func (c *Chromedp) NewTab(ctx context.Context) (visit.Tab, error) {
	if err := c.slots.acquire(ctx); err != nil {
		return nil, visit.Errorf(visit.KindRender, "open tab", "", err)
	}
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	t := &chromedpTab{ctx: tabCtx, cancel: cancel, release: c.slots.release}
	if err := chromedp.Run(tabCtx, t.setupAction(c.cfg.UserAgent)); err != nil {
		_ = t.Close()
		return nil, visit.Errorf(visit.KindRender, "open tab", "", err)
	}
	return t, nil
}

type chromedpTab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	release   func()
	closeOnce sync.Once
}

func (t *chromedpTab) setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := performance.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable performance domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the tab, bounded by the caller's context.
func (t *chromedpTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the main frame's network to go idle.
func (t *chromedpTab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	mainFrame := cdp.FrameID(chromedp.FromContext(navCtx).Target.TargetID)
	idle := make(chan struct{}, 1)
	var armed atomic.Bool
	chromedp.ListenTarget(navCtx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.FrameID != mainFrame {
			return
		}
		switch e.Name {
		case "init":
			armed.Store(true)
		case "networkIdle":
			if armed.Load() {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	})

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			select {
			case <-idle:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("wait for network idle: %w", ctx.Err())
			}
		}),
	)
	return navigationError(ctx, url, err)
}

func (t *chromedpTab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (t *chromedpTab) Evaluate(ctx context.Context, script string, out any) error {
	if err := t.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (t *chromedpTab) Metrics(ctx context.Context) (map[string]float64, error) {
	var raw []*performance.Metric
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = performance.GetMetrics().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("performance metrics: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for _, m := range raw {
		out[m.Name] = m.Value
	}
	return out, nil
}

func (t *chromedpTab) SetViewport(ctx context.Context, vp visit.ViewportSpec) error {
	orientation := chromedp.EmulatePortrait
	if vp.Landscape {
		orientation = chromedp.EmulateLandscape
	}
	err := t.run(ctx, chromedp.EmulateViewport(int64(vp.Width), int64(viewportHeight(vp)),
		chromedp.EmulateScale(1), orientation))
	if err != nil {
		return fmt.Errorf("set viewport %s: %w", vp.Name, err)
	}
	return nil
}

// Screenshot returns PNG bytes of the viewport or the whole document.
func (t *chromedpTab) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := t.run(ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab and frees its slot. Safe to call more than once.
func (t *chromedpTab) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.release != nil {
			t.release()
		}
	})
	return nil
}
