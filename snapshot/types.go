package snapshot

import (
	"context"
	"errors"
	"image"
	"io"
	"time"
)

const (
	// TargetID is the id of the element that gets rasterized.
	TargetID = "cotizacion-print"
	// CorrelativoAttr carries the quotation sequence used in the filename.
	CorrelativoAttr = "data-correlativo"
	// FilenamePrefix prefixes every downloaded file.
	FilenamePrefix = "cotizacion_"
	// ContentTypeJPEG is the content type of every download.
	ContentTypeJPEG = "image/jpeg"
	// DataURIPrefix starts every encoded download href.
	DataURIPrefix = "data:image/jpeg;base64,"
	// DefaultQuality is the JPEG quality on the 0..1 scale.
	DefaultQuality = 0.95
)

// Element is the subset of a DOM node the trigger needs.
type Element interface {
	ID() string
	Attr(name string) (string, bool)
}

// Document exposes element lookup plus the source the rasterizer loads.
type Document interface {
	ElementByID(id string) (Element, bool)
	HTML() []byte
}

// Rasterizer renders an element of a document into a bitmap.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document, el Element, opts Options) (image.Image, error)
}

// RasterizerFunc adapts a function to a Rasterizer.
type RasterizerFunc func(ctx context.Context, doc Document, el Element, opts Options) (image.Image, error)

func (f RasterizerFunc) Rasterize(ctx context.Context, doc Document, el Element, opts Options) (image.Image, error) {
	if f == nil {
		return nil, errors.New("rasterizer func is nil")
	}
	return f(ctx, doc, el, opts)
}

// Download is the artifact handed to a Downloader.
type Download struct {
	Filename    string
	Href        string
	ContentType string
	Data        []byte
	Correlativo string
	CreatedAt   time.Time
}

// Size returns the encoded payload length.
func (d Download) Size() int64 {
	return int64(len(d.Data))
}

// Downloader delivers a finished download.
type Downloader interface {
	Download(ctx context.Context, d Download) error
}

// DownloadFunc adapts a function to a Downloader.
type DownloadFunc func(ctx context.Context, d Download) error

func (f DownloadFunc) Download(ctx context.Context, d Download) error {
	if f == nil {
		return errors.New("download func is nil")
	}
	return f(ctx, d)
}

// SkipReason explains why a trigger did not produce a download.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipNoTarget     SkipReason = "no_target"
	SkipNoRasterizer SkipReason = "no_rasterizer"
	SkipAlreadyFired SkipReason = "already_fired"
)

// Outcome reports what a trigger did.
type Outcome struct {
	RecordID string
	Skipped  SkipReason
	Download Download
	Duration time.Duration
}

// Triggered reports whether a download was produced.
func (o Outcome) Triggered() bool {
	return o.Skipped == SkipNone && o.Download.Filename != ""
}

// ArtifactMeta describes stored artifact metadata.
type ArtifactMeta struct {
	ContentType string
	Size        int64
	Filename    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ArtifactRef references a stored artifact.
type ArtifactRef struct {
	Key  string
	Meta ArtifactMeta
}

// ArtifactStore stores snapshot artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error)
	Open(ctx context.Context, key string) (io.ReadCloser, ArtifactMeta, error)
	Delete(ctx context.Context, key string) error
}

// State captures snapshot record states.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateFailed    State = "failed"
)

// Record captures tracker state for a snapshot.
type Record struct {
	ID          string
	QuotationID string
	Correlativo string
	Variant     string
	Layout      string
	State       State
	Filename    string
	Bytes       int64
	SkipReason  SkipReason
	Error       string
	ArtifactKey string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// RecordFilter filters tracker lists.
type RecordFilter struct {
	QuotationID string
	State       State
	Since       time.Time
	Until       time.Time
}

// Tracker persists snapshot records.
type Tracker interface {
	Start(ctx context.Context, record Record) (string, error)
	Complete(ctx context.Context, id string, d Download, artifactKey string) error
	Skip(ctx context.Context, id string, reason SkipReason) error
	Fail(ctx context.Context, id string, err error) error
	Status(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, filter RecordFilter) ([]Record, error)
}

// Logger provides logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
