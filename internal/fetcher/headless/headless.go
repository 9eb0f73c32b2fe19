// Package headless drives a shared headless browser for rendered captures
// and screenshots. Two drivers implement visit.Browser: chromedp (default)
// and rod.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Config controls browser launch and tab behavior.
type Config struct {
	UserAgent string
	Headless  bool
	ExecPath  string
	// MaxTabs bounds concurrently open tabs; 0 means unbounded.
	MaxTabs int
	// Stealth applies anti-detection patches (rod driver only).
	Stealth bool
	// IdleQuiet is how long the network must be silent to count as idle (rod driver).
	IdleQuiet time.Duration
}

// Driver names accepted by New.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// New launches the named driver.
func New(ctx context.Context, driver string, cfg Config) (visit.Browser, error) {
	switch driver {
	case "", DriverChromedp:
		return NewChromedp(ctx, cfg)
	case DriverRod:
		return NewRod(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		return nil
	}
	return make(slots, n)
}

func (s slots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser tab wait canceled: %w", ctx.Err())
	}
}

func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

// forwardCancel cancels the derived context when parent is done.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// navigationError classifies a failed navigation. A deadline that belongs to
// the navigation timeout rather than the caller is a render timeout.
func navigationError(parent context.Context, url string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return visit.Errorf(visit.KindRenderTimeout, "navigate", url, err)
	}
	return visit.Errorf(visit.KindRender, "navigate", url, err)
}

func viewportHeight(vp visit.ViewportSpec) int {
	if vp.Height < 1 {
		return 1
	}
	return vp.Height
}
