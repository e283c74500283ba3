// Package snapshotrod rasterizes elements through go-rod.
package snapshotrod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/goliatone/go-cotizaciones/snapshot"
)

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// Engine drives a local or remote Chrome through the DevTools protocol.
type Engine struct {
	BrowserPath string
	// RemoteURL connects to an existing browser instead of launching one.
	RemoteURL string
	Headless  bool
	NoSandbox bool
	Stealth   bool
	Timeout   time.Duration
	Args      []string
	Logger    snapshot.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// Rasterize opens a tab, loads the document and screenshots the element.
func (e *Engine) Rasterize(ctx context.Context, doc snapshot.Document, el snapshot.Element, opts snapshot.Options) (image.Image, error) {
	if e == nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "rod engine is nil", nil)
	}
	if doc == nil || el == nil {
		return nil, snapshot.NewError(snapshot.KindValidation, "rod engine requires a document and element", nil)
	}
	if el.ID() == "" {
		return nil, snapshot.NewError(snapshot.KindValidation, "target element has no id", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	browser, err := e.ensureBrowser()
	if err != nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "rod engine init failed", err)
	}

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	page, err := e.openPage(browser)
	if err != nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "rod create tab failed", err)
	}
	defer page.Close()
	page = page.Context(runCtx)

	data, err := capture(page, doc, el.ID(), opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, snapshot.NewError(snapshot.KindTimeout, fmt.Sprintf("rod capture timed out after %s", e.Timeout), err)
		}
		var typed *snapshot.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, snapshot.NewError(snapshot.KindInternal, "rod capture failed", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "decode rod screenshot failed", err)
	}
	e.logger().Debugf("rod: captured #%s %dx%d", el.ID(), img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Close disconnects the browser and kills a launched process.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.lnch != nil {
		e.lnch.Kill()
		e.lnch = nil
	}
	return err
}

func (e *Engine) ensureBrowser() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil {
		return e.browser, nil
	}

	wsURL := e.RemoteURL
	if wsURL == "" {
		l := e.launcher()
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch: %w", err)
		}
		wsURL = u
		e.lnch = l
		e.logger().Infof("rod: launched local chrome at %s", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	e.browser = b
	return b, nil
}

func (e *Engine) launcher() *launcher.Launcher {
	l := launcher.New().Headless(e.Headless).NoSandbox(e.NoSandbox)
	if e.BrowserPath != "" {
		l = l.Bin(e.BrowserPath)
	}
	l = l.Set("hide-scrollbars")
	for name, value := range launcherFlags(e.Args) {
		if value == "" {
			l = l.Set(flags.Flag(name))
			continue
		}
		l = l.Set(flags.Flag(name), value)
	}
	return l
}

func (e *Engine) openPage(b *rod.Browser) (*rod.Page, error) {
	if e.Stealth {
		return stealth.Page(b)
	}
	return b.Page(proto.TargetCreateTarget{URL: ""})
}

func (e *Engine) logger() snapshot.Logger {
	if e.Logger == nil {
		return snapshot.NopLogger{}
	}
	return e.Logger
}

func capture(page *rod.Page, doc snapshot.Document, id string, opts snapshot.Options) ([]byte, error) {
	width, height := windowSize(opts)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, err
	}
	if !opts.UseCORS {
		if err := (proto.NetworkEnable{}).Call(page); err != nil {
			return nil, err
		}
		if err := (proto.NetworkSetBlockedURLs{Urls: []string{"http://*", "https://*"}}).Call(page); err != nil {
			return nil, err
		}
	}
	if err := page.SetDocumentContent(string(doc.HTML())); err != nil {
		return nil, err
	}
	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	el, err := page.ElementByJS(rod.Eval(`(id) => document.getElementById(id)`, id))
	if err != nil {
		return nil, err
	}
	shape, err := el.Shape()
	if err != nil {
		return nil, err
	}
	rect := shape.Box()
	if rect == nil {
		return nil, snapshot.NewError(snapshot.KindValidation, "target element has no visible area", nil)
	}

	clip, err := clipFor(rect.X, rect.Y, rect.Width, rect.Height, opts)
	if err != nil {
		return nil, err
	}
	return page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		Clip:                  clip,
		CaptureBeyondViewport: true,
	})
}

func windowSize(opts snapshot.Options) (int, int) {
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 {
		width = opts.Width
	}
	if height <= 0 {
		height = opts.Height
	}
	if width <= 0 {
		width = defaultWindowWidth
	}
	if height <= 0 {
		height = defaultWindowHeight
	}
	return width, height
}

func clipFor(x, y, w, h float64, opts snapshot.Options) (*proto.PageViewport, error) {
	if opts.Width > 0 {
		w = float64(opts.Width)
	}
	if opts.Height > 0 {
		h = float64(opts.Height)
	}
	if w <= 0 || h <= 0 {
		return nil, snapshot.NewError(snapshot.KindValidation, "target element has no visible area", nil)
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	return &proto.PageViewport{
		X:      math.Max(0, x),
		Y:      math.Max(0, y),
		Width:  w,
		Height: h,
		Scale:  scale,
	}, nil
}

// launcherFlags turns "--name=value" style args into launcher flags.
func launcherFlags(args []string) map[string]string {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		name, value, _ := strings.Cut(arg, "=")
		out[name] = value
	}
	return out
}
