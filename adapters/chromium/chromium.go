package snapshotchromium

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

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/goliatone/go-cotizaciones/snapshot"
)

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// Engine rasterizes elements using a shared headless Chromium instance.
type Engine struct {
	BrowserPath string
	RemoteURL   string
	Headless    bool
	Timeout     time.Duration
	Args        []string
	Logger      snapshot.Logger

	initOnce      sync.Once
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	initErr       error
}

// box is the element's page-space bounding box.
type box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rasterize loads the document in a fresh tab and captures the element.
func (e *Engine) Rasterize(ctx context.Context, doc snapshot.Document, el snapshot.Element, opts snapshot.Options) (image.Image, error) {
	if e == nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "chromium engine is nil", nil)
	}
	if doc == nil || el == nil {
		return nil, snapshot.NewError(snapshot.KindValidation, "chromium engine requires a document and element", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := e.ensureBrowser(); err != nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "chromium engine init failed", err)
	}

	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	defer cancel()

	execCtx, cancelReq := context.WithCancel(tabCtx)
	defer cancelReq()
	go func() {
		select {
		case <-ctx.Done():
			cancelReq()
		case <-execCtx.Done():
		}
	}()
	if e.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeout(execCtx, e.Timeout)
		defer cancelTimeout()
	}

	actions, shot, err := buildActions(doc, el.ID(), opts)
	if err != nil {
		return nil, err
	}
	if err := chromedp.Run(execCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, snapshot.NewError(snapshot.KindTimeout, fmt.Sprintf("chromium capture timed out after %s", e.Timeout), err)
		}
		return nil, snapshot.NewError(snapshot.KindInternal, "chromium capture failed", err)
	}

	img, err := png.Decode(bytes.NewReader(*shot))
	if err != nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "decode chromium screenshot failed", err)
	}
	e.logger().Debugf("chromium: captured #%s %dx%d", el.ID(), img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Close releases Chromium resources if they have been initialized.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	if e.browserCancel != nil {
		e.browserCancel()
	}
	if e.allocCancel != nil {
		e.allocCancel()
	}
	return nil
}

func (e *Engine) ensureBrowser() error {
	e.initOnce.Do(func() {
		if e.RemoteURL != "" {
			e.allocCtx, e.allocCancel = chromedp.NewRemoteAllocator(context.Background(), e.RemoteURL)
		} else {
			options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
			if e.BrowserPath != "" {
				options = append(options, chromedp.ExecPath(e.BrowserPath))
			}
			options = append(options, chromedp.Flag("headless", e.Headless))
			options = append(options, chromedp.Flag("hide-scrollbars", true))
			options = append(options, allocatorOptionsFromArgs(e.Args)...)
			e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), options...)
		}
		e.browserCtx, e.browserCancel = chromedp.NewContext(e.allocCtx)
		// Running the browser context once starts the process that every
		// tab context then shares.
		if err := chromedp.Run(e.browserCtx); err != nil {
			e.initErr = err
			e.browserCancel()
			e.allocCancel()
		}
	})
	if e.initErr != nil {
		return e.initErr
	}
	if e.allocCtx == nil || e.browserCtx == nil {
		return errors.New("chromium allocator unavailable")
	}
	return nil
}

func (e *Engine) logger() snapshot.Logger {
	if e.Logger == nil {
		return snapshot.NopLogger{}
	}
	return e.Logger
}

func buildActions(doc snapshot.Document, id string, opts snapshot.Options) ([]chromedp.Action, *[]byte, error) {
	if id == "" {
		return nil, nil, snapshot.NewError(snapshot.KindValidation, "target element has no id", nil)
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, nil, err
	}
	background, err := backgroundRGBA(opts.BackgroundColor)
	if err != nil {
		return nil, nil, err
	}

	width, height := windowSize(opts)
	source := string(doc.HTML())
	selector := "#" + cssEscapeID(id)
	shot := new([]byte)

	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(width, height, 1, false),
	}
	if background != nil {
		actions = append(actions, emulation.SetDefaultBackgroundColorOverride().WithColor(background))
	}
	if !opts.UseCORS {
		actions = append(actions,
			network.Enable(),
			network.SetBlockedURLs([]string{"http://*", "https://*"}),
		)
	}

	var target box
	actions = append(actions,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, source).Do(ctx)
		}),
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Evaluate(boxScript(id), &target),
		chromedp.ActionFunc(func(ctx context.Context) error {
			clip, err := clipFor(target, opts)
			if err != nil {
				return err
			}
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithClip(clip).
				WithCaptureBeyondViewport(true).
				Do(ctx)
			if err != nil {
				return err
			}
			*shot = data
			return nil
		}),
	)
	return actions, shot, nil
}

func windowSize(opts snapshot.Options) (int64, int64) {
	width := int64(opts.WindowWidth)
	height := int64(opts.WindowHeight)
	if width <= 0 {
		width = int64(opts.Width)
	}
	if height <= 0 {
		height = int64(opts.Height)
	}
	if width <= 0 {
		width = defaultWindowWidth
	}
	if height <= 0 {
		height = defaultWindowHeight
	}
	return width, height
}

// clipFor returns the capture region: the element's top-left corner with
// the explicit output size when set, otherwise the element box.
func clipFor(target box, opts snapshot.Options) (*page.Viewport, error) {
	width := target.Width
	height := target.Height
	if opts.Width > 0 {
		width = float64(opts.Width)
	}
	if opts.Height > 0 {
		height = float64(opts.Height)
	}
	if width <= 0 || height <= 0 {
		return nil, snapshot.NewError(snapshot.KindValidation, "target element has no visible area", nil)
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	return &page.Viewport{
		X:      math.Max(0, target.X),
		Y:      math.Max(0, target.Y),
		Width:  width,
		Height: height,
		Scale:  scale,
	}, nil
}

func backgroundRGBA(value string) (*cdp.RGBA, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	c, err := snapshot.ParseColor(value)
	if err != nil {
		return nil, err
	}
	return &cdp.RGBA{
		R: int64(c.R),
		G: int64(c.G),
		B: int64(c.B),
		A: float64(c.A) / 255,
	}, nil
}

func boxScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%q);
	if (!el) { return {x: 0, y: 0, width: 0, height: 0}; }
	const r = el.getBoundingClientRect();
	return {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height};
})()`, id)
}

// cssEscapeID escapes characters that would break an #id selector.
func cssEscapeID(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_', r > 0x7f:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, `\%x `, r)
				continue
			}
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allocatorOptionsFromArgs(args []string) []chromedp.ExecAllocatorOption {
	options := make([]chromedp.ExecAllocatorOption, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		arg = strings.TrimPrefix(arg, "--")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			options = append(options, chromedp.Flag(name, value))
			continue
		}
		options = append(options, chromedp.Flag(arg, true))
	}
	return options
}
