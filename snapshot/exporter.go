package snapshot

import (
	"context"
	"time"
)

// ExportRequest describes one snapshot of a rendered page.
type ExportRequest struct {
	QuotationID string
	Variant     string
	Layout      Layout
	Options     Options
	Document    Document
	Downloader  Downloader
}

// ExporterConfig supplies dependencies for an Exporter.
type ExporterConfig struct {
	Rasterizer    Rasterizer
	Tracker       Tracker
	Store         ArtifactStore
	ArchivePrefix string
	// Notify receives every completed download after it was delivered.
	// Its errors are logged, not returned.
	Notify Downloader
	Logger Logger
	Now    func() time.Time
}

// Exporter runs a fresh page load per request: it binds a Trigger to a
// Page, fires the ready signal and records the result.
type Exporter struct {
	rasterizer    Rasterizer
	tracker       Tracker
	store         ArtifactStore
	archivePrefix string
	notify        Downloader
	logger        Logger
	now           func() time.Time
}

// NewExporter creates an Exporter.
func NewExporter(cfg ExporterConfig) *Exporter {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	return &Exporter{
		rasterizer:    cfg.Rasterizer,
		tracker:       tracker,
		store:         cfg.Store,
		archivePrefix: cfg.ArchivePrefix,
		notify:        cfg.Notify,
		logger:        logger,
		now:           nowFn,
	}
}

// Tracker returns the tracker records are written to.
func (e *Exporter) Tracker() Tracker {
	return e.tracker
}

// Export renders req.Document once and delivers the download.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (Outcome, error) {
	if e == nil {
		return Outcome{}, NewError(KindInternal, "exporter is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := OptionsForLayout(req.Layout)
	if err != nil {
		return Outcome{}, err
	}
	opts = MergeOptions(opts, req.Options)

	layout := req.Layout
	if layout == "" {
		layout = LayoutFixed
	}
	recordID, err := e.tracker.Start(ctx, Record{
		QuotationID: req.QuotationID,
		Variant:     req.Variant,
		Layout:      string(layout),
		State:       StateRunning,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return Outcome{}, err
	}

	downloaders := MultiDownloader{}
	if req.Downloader != nil {
		downloaders = append(downloaders, req.Downloader)
	}
	var archive *StoreDownloader
	if e.store != nil {
		// Keys are scoped by record so variants of one quotation never
		// share a file.
		archive = &StoreDownloader{Store: e.store, Prefix: ArtifactKey(e.archivePrefix, recordID)}
		downloaders = append(downloaders, archive)
	}

	trigger := NewTrigger(Config{
		Rasterizer: e.rasterizer,
		Downloader: downloaders,
		Options:    opts,
		Logger:     e.logger,
		Now:        e.now,
	})
	page := NewPage(req.Document)
	trigger.Register(page)

	if err := page.Ready(ctx); err != nil {
		if trackErr := e.tracker.Fail(ctx, recordID, err); trackErr != nil {
			e.logger.Errorf("snapshot: tracker fail %s: %v", recordID, trackErr)
		}
		return Outcome{}, err
	}

	outcome := trigger.Outcome()
	outcome.RecordID = recordID
	if !outcome.Triggered() {
		if trackErr := e.tracker.Skip(ctx, recordID, outcome.Skipped); trackErr != nil {
			e.logger.Errorf("snapshot: tracker skip %s: %v", recordID, trackErr)
		}
		return outcome, nil
	}

	artifactKey := ""
	if archive != nil {
		artifactKey = archive.LastKey()
	}
	if trackErr := e.tracker.Complete(ctx, recordID, outcome.Download, artifactKey); trackErr != nil {
		e.logger.Errorf("snapshot: tracker complete %s: %v", recordID, trackErr)
	}
	if e.notify != nil {
		if err := e.notify.Download(ctx, outcome.Download); err != nil {
			e.logger.Errorf("snapshot: notify %s: %v", recordID, err)
		}
	}
	return outcome, nil
}
