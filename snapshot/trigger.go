package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Config supplies dependencies for a Trigger.
type Config struct {
	// Rasterizer is the injected rendering capability. A nil rasterizer
	// turns the trigger into a silent no-op.
	Rasterizer Rasterizer
	Downloader Downloader
	Options    Options
	TargetID   string
	Logger     Logger
	Now        func() time.Time
}

// Trigger rasterizes the target element once per page load and hands the
// encoded JPEG to the downloader.
type Trigger struct {
	rasterizer Rasterizer
	downloader Downloader
	options    Options
	targetID   string
	logger     Logger
	now        func() time.Time

	fired   atomic.Bool
	mu      sync.Mutex
	outcome Outcome
}

// NewTrigger creates a Trigger with the provided configuration.
func NewTrigger(cfg Config) *Trigger {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	targetID := cfg.TargetID
	if targetID == "" {
		targetID = TargetID
	}
	return &Trigger{
		rasterizer: cfg.Rasterizer,
		downloader: cfg.Downloader,
		options:    cfg.Options,
		targetID:   targetID,
		logger:     logger,
		now:        nowFn,
	}
}

// Register binds the trigger to the page ready signal.
func (t *Trigger) Register(p *Page) {
	if t == nil || p == nil {
		return
	}
	p.OnReady(func(ctx context.Context, doc Document) error {
		_, err := t.Handle(ctx, doc)
		return err
	})
}

// Outcome returns the result of the first Handle call.
func (t *Trigger) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Handle runs the trigger against doc. Only the first call does any work;
// later calls report SkipAlreadyFired.
func (t *Trigger) Handle(ctx context.Context, doc Document) (Outcome, error) {
	if t == nil {
		return Outcome{}, NewError(KindInternal, "trigger is nil", nil)
	}
	if !t.fired.CompareAndSwap(false, true) {
		return Outcome{Skipped: SkipAlreadyFired}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	outcome, err := t.run(ctx, doc)
	t.mu.Lock()
	t.outcome = outcome
	t.mu.Unlock()
	return outcome, err
}

func (t *Trigger) run(ctx context.Context, doc Document) (Outcome, error) {
	if doc == nil {
		t.logger.Debugf("snapshot: no document, skipping")
		return Outcome{Skipped: SkipNoTarget}, nil
	}
	el, ok := doc.ElementByID(t.targetID)
	if !ok || el == nil {
		t.logger.Debugf("snapshot: #%s not found, skipping", t.targetID)
		return Outcome{Skipped: SkipNoTarget}, nil
	}
	if t.rasterizer == nil {
		t.logger.Debugf("snapshot: no rasterizer available, skipping")
		return Outcome{Skipped: SkipNoRasterizer}, nil
	}
	if t.downloader == nil {
		return Outcome{}, NewError(KindValidation, "snapshot trigger requires a downloader", nil)
	}

	opts, err := t.options.Normalize()
	if err != nil {
		return Outcome{}, err
	}

	start := t.now()
	img, err := t.rasterizer.Rasterize(ctx, doc, el, opts)
	if err != nil {
		t.logger.Errorf("snapshot: rasterize #%s failed: %v", t.targetID, err)
		return Outcome{}, wrapRasterError(ctx, err)
	}

	href, data, err := EncodeDataURI(img, opts)
	if err != nil {
		t.logger.Errorf("snapshot: encode failed: %v", err)
		return Outcome{}, err
	}

	now := t.now()
	correlativo := Correlativo(el, now)
	download := Download{
		Filename:    Filename(correlativo),
		Href:        href,
		ContentType: ContentTypeJPEG,
		Data:        data,
		Correlativo: correlativo,
		CreatedAt:   now,
	}

	if err := t.downloader.Download(ctx, download); err != nil {
		t.logger.Errorf("snapshot: download %s failed: %v", download.Filename, err)
		var snapErr *Error
		if errors.As(err, &snapErr) {
			return Outcome{}, err
		}
		return Outcome{}, NewError(KindInternal, "snapshot download failed", err)
	}

	duration := now.Sub(start)
	t.logger.Infof("snapshot: %s ready (%d bytes, %s)", download.Filename, download.Size(), duration.Round(time.Millisecond))
	return Outcome{Download: download, Duration: duration}, nil
}

func wrapRasterError(ctx context.Context, err error) error {
	var snapErr *Error
	if errors.As(err, &snapErr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return NewError(KindTimeout, "rasterization timed out", err)
		}
		return NewError(KindCanceled, "rasterization canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, "rasterization timed out", err)
	}
	return NewError(KindInternal, "rasterization failed", err)
}
