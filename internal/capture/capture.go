// Package capture takes one screenshot per viewport and records both the
// decoded image size and the document size the page reports.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png" // register PNG for DecodeConfig
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/metrics"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// dimensionsScript reports the largest document height and the body width.
const dimensionsScript = `(() => {
	const body = document.body;
	const html = document.documentElement;
	const height = Math.max(
		body ? body.scrollHeight : 0,
		body ? body.offsetHeight : 0,
		html.clientHeight,
		html.scrollHeight,
		html.offsetHeight
	);
	const width = document.width !== undefined ? document.width : (body ? body.offsetWidth : 0);
	return { width: width, height: height };
})()`

// Screenshot results reported to metrics.
const (
	ResultCaptured = "captured"
	ResultReused   = "reused"
	ResultFailed   = "failed"
)

// Namer maps a viewport to its blob path.
type Namer func(vp visit.ViewportSpec) string

// PathNamer names screenshots <slug>/<timestamp>-<viewport>.png.
func PathNamer(slug, timestamp string) Namer {
	return func(vp visit.ViewportSpec) string {
		return path.Join(slug, fmt.Sprintf("%s-%s.png", timestamp, vp.Name))
	}
}

// Failure is one viewport that could not be captured.
type Failure struct {
	Viewport string
	Err      error
}

// Capturer writes screenshots to a blob store.
type Capturer struct {
	blobs  visit.BlobStore
	logger *zap.Logger
}

// New builds a Capturer.
func New(blobs visit.BlobStore, logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{blobs: blobs, logger: logger}
}

// Capture attempts every viewport in order. Failed viewports are logged and
// returned separately; they never stop the remaining ones. Unless overwrite
// is set, an existing blob at the viewport's path is reused instead of
// taking a new screenshot.
func (c *Capturer) Capture(
	ctx context.Context,
	tab visit.Tab,
	viewports []visit.ViewportSpec,
	name Namer,
	overwrite bool,
) ([]visit.Screenshot, []Failure) {
	shots := make([]visit.Screenshot, 0, len(viewports))
	var failures []Failure
	for _, vp := range viewports {
		if ctx.Err() != nil {
			failures = append(failures, Failure{Viewport: vp.Name, Err: visit.Errorf(visit.KindCapture, "capture", vp.Name, ctx.Err())})
			continue
		}
		start := time.Now()
		shot, err := c.captureOne(ctx, tab, vp, name(vp), overwrite)
		metrics.ObserveStage("capture", time.Since(start))
		if err != nil {
			metrics.ObserveScreenshot(vp.Name, ResultFailed)
			c.logger.Warn("viewport capture failed",
				zap.String("viewport", vp.Name),
				zap.String("error_kind", string(visit.KindCapture)),
				zap.Error(err),
			)
			failures = append(failures, Failure{Viewport: vp.Name, Err: err})
			continue
		}
		result := ResultCaptured
		if shot.Reused {
			result = ResultReused
		}
		metrics.ObserveScreenshot(vp.Name, result)
		shots = append(shots, shot)
	}
	return shots, failures
}

func (c *Capturer) captureOne(
	ctx context.Context,
	tab visit.Tab,
	vp visit.ViewportSpec,
	blobPath string,
	overwrite bool,
) (visit.Screenshot, error) {
	fail := func(op string, err error) (visit.Screenshot, error) {
		return visit.Screenshot{}, visit.Errorf(visit.KindCapture, op, blobPath, err)
	}

	if err := tab.SetViewport(ctx, vp); err != nil {
		return fail("set viewport", err)
	}

	var (
		data   []byte
		uri    string
		reused bool
	)
	if !overwrite {
		existing, ok, err := c.blobs.Exists(ctx, blobPath)
		if err != nil {
			return fail("check existing screenshot", err)
		}
		if ok {
			data, err = c.blobs.GetObject(ctx, blobPath)
			switch {
			case errors.Is(err, visit.ErrBlobNotFound):
				data = nil
			case err != nil:
				return fail("read existing screenshot", err)
			default:
				uri, reused = existing, true
			}
		}
	}

	if !reused {
		shot, err := tab.Screenshot(ctx, vp.FullPage())
		if err != nil {
			return fail("screenshot", err)
		}
		uri, err = c.blobs.PutObject(ctx, blobPath, "image/png", shot)
		if err != nil {
			return fail("write screenshot", err)
		}
		data = shot
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fail("decode screenshot", err)
	}

	var calculated visit.Dimensions
	if err := tab.Evaluate(ctx, dimensionsScript, &calculated); err != nil {
		return fail("measure document", err)
	}

	return visit.Screenshot{
		Viewport:   vp,
		Path:       blobPath,
		URI:        uri,
		Physical:   visit.Dimensions{Width: cfg.Width, Height: cfg.Height},
		Calculated: visit.Dimensions{Width: max(calculated.Width, 0), Height: max(calculated.Height, 0)},
		Reused:     reused,
	}, nil
}
