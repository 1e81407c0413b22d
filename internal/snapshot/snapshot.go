// Package snapshot renders an input HTML document to a reference PNG using
// a headless Chromium driven over DevTools.
package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	// DefaultWidth and DefaultHeight match the 16:9 slide canvas the
	// generated deck targets.
	DefaultWidth  = 1920
	DefaultHeight = 1080

	// settleDelay gives animations and web fonts a moment after load.
	settleDelay = time.Second
)

// Provider produces a reference raster image of a document.
type Provider interface {
	Capture(ctx context.Context, htmlPath string, width, height int) ([]byte, error)
}

// Browser captures snapshots with a freshly launched headless Chromium per
// call. Launch and teardown are contained within Capture so a wedged
// browser can never outlive an attempt.
type Browser struct {
	logger *zap.Logger
}

// NewBrowser returns a snapshot provider.
func NewBrowser(logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{logger: logger}
}

// Capture renders htmlPath at the given viewport and returns PNG bytes.
func (b *Browser) Capture(ctx context.Context, htmlPath string, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	url := FileURL(abs)
	b.logger.Debug("capturing snapshot",
		zap.String("url", url),
		zap.Int("width", width),
		zap.Int("height", height))

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load: %w", err)
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	png, err := page.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	b.logger.Debug("snapshot captured", zap.Int("bytes", len(png)))
	return png, nil
}

// FileURL converts an absolute path into a file:// URL Chromium accepts.
func FileURL(abs string) string {
	return "file://" + filepath.ToSlash(abs)
}
