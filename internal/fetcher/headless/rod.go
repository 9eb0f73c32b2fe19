package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Rod implements visit.Browser with go-rod.
type Rod struct {
	cfg       Config
	slots     slots
	browser   *rod.Browser
	launcher  *launcher.Launcher
	closeOnce sync.Once
}

// NewRod launches a local Chrome and connects to it.
func NewRod(ctx context.Context, cfg Config) (*Rod, error) {
	l := launcher.New().Headless(cfg.Headless).Context(ctx)
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, visit.Errorf(visit.KindSetup, "launch rod", "", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, visit.Errorf(visit.KindSetup, "connect rod", "", err)
	}
	return &Rod{
		cfg:      cfg,
		slots:    newSlots(cfg.MaxTabs),
		browser:  b,
		launcher: l,
	}, nil
}

// Close closes the browser and removes its profile directory.
func (r *Rod) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if cerr := r.browser.Close(); cerr != nil {
			err = fmt.Errorf("close rod browser: %w", cerr)
		}
		r.launcher.Kill()
		r.launcher.Cleanup()
	})
	return err
}

// Identity reports the browser product and user agent.
func (r *Rod) Identity(ctx context.Context) (visit.BrowserIdentity, error) {
	res, err := proto.BrowserGetVersion{}.Call(r.browser.Context(ctx))
	if err != nil {
		return visit.BrowserIdentity{}, visit.Errorf(visit.KindRender, "browser identity", "", err)
	}
	return visit.BrowserIdentity{Product: res.Product, Version: res.Revision, UserAgent: res.UserAgent}, nil
}

// NewTab opens a blank page, optionally with stealth patches applied.
func (r *Rod) NewTab(ctx context.Context) (visit.Tab, error) {
	if err := r.slots.acquire(ctx); err != nil {
		return nil, visit.Errorf(visit.KindRender, "open tab", "", err)
	}
	var (
		p   *rod.Page
		err error
	)
	if r.cfg.Stealth {
		p, err = stealth.Page(r.browser)
	} else {
		p, err = r.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		r.slots.release()
		return nil, visit.Errorf(visit.KindRender, "open tab", "", err)
	}
	t := &rodTab{page: p, release: r.slots.release, quiet: r.cfg.IdleQuiet}
	if t.quiet <= 0 {
		t.quiet = 500 * time.Millisecond
	}
	if r.cfg.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			_ = t.Close()
			return nil, visit.Errorf(visit.KindRender, "set user-agent", "", err)
		}
	}
	if err := (proto.PerformanceEnable{}).Call(p); err != nil {
		_ = t.Close()
		return nil, visit.Errorf(visit.KindRender, "enable performance domain", "", err)
	}
	return t, nil
}

type rodTab struct {
	page      *rod.Page
	release   func()
	quiet     time.Duration
	closeOnce sync.Once
}

func (t *rodTab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := t.page.Context(navCtx)

	waitIdle := p.WaitRequestIdle(t.quiet, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return navigationError(ctx, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return navigationError(ctx, url, err)
	}
	waitIdle()
	return navigationError(ctx, url, navCtx.Err())
}

func (t *rodTab) Title(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return res.Value.Str(), nil
}

func (t *rodTab) Evaluate(ctx context.Context, script string, out any) error {
	res, err := t.page.Context(ctx).Eval("() => (" + script + ")")
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func (t *rodTab) Metrics(ctx context.Context) (map[string]float64, error) {
	res, err := proto.PerformanceGetMetrics{}.Call(t.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("performance metrics: %w", err)
	}
	out := make(map[string]float64, len(res.Metrics))
	for _, m := range res.Metrics {
		out[m.Name] = m.Value
	}
	return out, nil
}

func (t *rodTab) SetViewport(ctx context.Context, vp visit.ViewportSpec) error {
	orientation := &proto.EmulationScreenOrientation{
		Type:  proto.EmulationScreenOrientationTypePortraitPrimary,
		Angle: 0,
	}
	if vp.Landscape {
		orientation = &proto.EmulationScreenOrientation{
			Type:  proto.EmulationScreenOrientationTypeLandscapePrimary,
			Angle: 90,
		}
	}
	err := t.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            viewportHeight(vp),
		DeviceScaleFactor: 1,
		ScreenOrientation: orientation,
	})
	if err != nil {
		return fmt.Errorf("set viewport %s: %w", vp.Name, err)
	}
	return nil
}

func (t *rodTab) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	buf, err := t.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (t *rodTab) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if cerr := t.page.Close(); cerr != nil {
			err = fmt.Errorf("close tab: %w", cerr)
		}
		if t.release != nil {
			t.release()
		}
	})
	return err
}
