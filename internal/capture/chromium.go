package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	appLog "daygrid/internal/log"
)

// Default capture parameters. The viewport is sized for a vertical day at
// the default layout scale.
const (
	DefaultWidth   = 800
	DefaultHeight  = 1200
	DefaultTimeout = 30 * time.Second
)

// readySelector matches the root element written by render.SVG.
const readySelector = `svg[data-ready="true"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/day.svg".
	URL string

	// OutputPath is where the PNG screenshot is written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture. If zero, DefaultTimeout is used.
	Timeout time.Duration
}

func (o *Options) validate() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if _, err := url.ParseRequestURI(o.URL); err != nil {
		return fmt.Errorf("capture: URL: %w", err)
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// DayURL is the /day.svg URL of the server listening on listen. Basic auth
// credentials, when set, are embedded in the URL. A listen address with
// no host (":8080" style) resolves to loopback.
func DayURL(listen, username, password string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	u := url.URL{Scheme: "http", Host: listen, Path: "/day.svg"}
	if username != "" && password != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}

// DayPNG launches a headless Chromium instance via chromedp, opens
// opts.URL, waits until the SVG root reports data-ready="true" and writes
// a full-page PNG screenshot to opts.OutputPath.
func DayPNG(parentCtx context.Context, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("capture written", "path", opts.OutputPath, "bytes", len(png))
	return nil
}
