package snapshot

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestExporter_CompletesAndArchives(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewMemoryTracker()
	capture := &CaptureDownloader{}
	exporter := NewExporter(ExporterConfig{
		Rasterizer:    &countingRasterizer{},
		Tracker:       tracker,
		Store:         store,
		ArchivePrefix: "cotizaciones/q-1",
	})

	outcome, err := exporter.Export(context.Background(), ExportRequest{
		QuotationID: "q-1",
		Variant:     "cliente",
		Document:    docWithTarget(map[string]string{CorrelativoAttr: "00012"}),
		Downloader:  capture,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if outcome.Download.Filename != "cotizacion_00012.jpg" {
		t.Fatalf("unexpected filename %q", outcome.Download.Filename)
	}
	if capture.Count() != 1 {
		t.Fatalf("expected one download, got %d", capture.Count())
	}

	wantKey := "cotizaciones/q-1/" + outcome.RecordID + "/cotizacion_00012.jpg"
	reader, meta, err := store.Open(context.Background(), wantKey)
	if err != nil {
		t.Fatalf("open archived artifact: %v", err)
	}
	defer reader.Close()
	payload, _ := io.ReadAll(reader)
	if int64(len(payload)) != outcome.Download.Size() || meta.ContentType != ContentTypeJPEG {
		t.Fatalf("unexpected archived artifact: %d bytes, %q", len(payload), meta.ContentType)
	}

	records, err := tracker.List(context.Background(), RecordFilter{QuotationID: "q-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	record := records[0]
	if record.ID != outcome.RecordID {
		t.Fatalf("expected outcome record id %q, got %q", record.ID, outcome.RecordID)
	}
	if record.State != StateCompleted || record.Layout != string(LayoutFixed) || record.Variant != "cliente" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.ArtifactKey != wantKey {
		t.Fatalf("unexpected artifact key %q", record.ArtifactKey)
	}
}

func TestExporter_RecordsSkip(t *testing.T) {
	tracker := NewMemoryTracker()
	exporter := NewExporter(ExporterConfig{Tracker: tracker})

	outcome, err := exporter.Export(context.Background(), ExportRequest{
		QuotationID: "q-2",
		Document:    docWithTarget(nil),
		Downloader:  &CaptureDownloader{},
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if outcome.Skipped != SkipNoRasterizer {
		t.Fatalf("expected no_rasterizer skip, got %q", outcome.Skipped)
	}
	records, _ := tracker.List(context.Background(), RecordFilter{State: StateSkipped})
	if len(records) != 1 || records[0].SkipReason != SkipNoRasterizer {
		t.Fatalf("expected skipped record, got %+v", records)
	}
}

func TestExporter_RecordsFailure(t *testing.T) {
	tracker := NewMemoryTracker()
	exporter := NewExporter(ExporterConfig{
		Rasterizer: &countingRasterizer{err: errors.New("out of memory")},
		Tracker:    tracker,
		Now:        func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	})

	_, err := exporter.Export(context.Background(), ExportRequest{
		QuotationID: "q-3",
		Layout:      LayoutNatural,
		Document:    docWithTarget(nil),
		Downloader:  &CaptureDownloader{},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	records, _ := tracker.List(context.Background(), RecordFilter{QuotationID: "q-3"})
	if len(records) != 1 || records[0].State != StateFailed || records[0].Error == "" {
		t.Fatalf("expected failed record, got %+v", records)
	}
	if records[0].Layout != string(LayoutNatural) {
		t.Fatalf("expected natural layout, got %q", records[0].Layout)
	}
}

func TestExporter_RejectsUnknownLayout(t *testing.T) {
	exporter := NewExporter(ExporterConfig{})
	_, err := exporter.Export(context.Background(), ExportRequest{Layout: "poster"})
	if KindFromError(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExporter_NotifyFailureKeepsDownload(t *testing.T) {
	notified := 0
	exporter := NewExporter(ExporterConfig{
		Rasterizer: &countingRasterizer{},
		Notify: DownloadFunc(func(ctx context.Context, d Download) error {
			notified++
			return NewError(KindExternal, "webhook down", nil)
		}),
	})

	capture := &CaptureDownloader{}
	outcome, err := exporter.Export(context.Background(), ExportRequest{
		Document:   docWithTarget(map[string]string{CorrelativoAttr: "7"}),
		Downloader: capture,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if notified != 1 || capture.Count() != 1 {
		t.Fatalf("expected one notification and one download, got %d/%d", notified, capture.Count())
	}
	record, err := exporter.Tracker().Status(context.Background(), outcome.RecordID)
	if err != nil || record.State != StateCompleted {
		t.Fatalf("expected completed record, got %+v (%v)", record, err)
	}
}
