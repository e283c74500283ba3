package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	snapshotchromium "github.com/goliatone/go-cotizaciones/adapters/chromium"
	snapshothttp "github.com/goliatone/go-cotizaciones/adapters/http"
	snapshotrod "github.com/goliatone/go-cotizaciones/adapters/rod"
	"github.com/goliatone/go-cotizaciones/cmd/cotizaciones/config"
	"github.com/goliatone/go-cotizaciones/snapshot"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	cfg.Snapshot.ArtifactDir = t.TempDir()
	cfg.Server.StaffToken = "secreto"
	return cfg
}

func TestNewEngine(t *testing.T) {
	cfg := config.Defaults().Snapshot
	cfg.Args = []string{"disable-gpu"}

	eng, err := newEngine(cfg, snapshot.NopLogger{})
	if err != nil {
		t.Fatalf("chromium: %v", err)
	}
	chromium, ok := eng.(*snapshotchromium.Engine)
	if !ok {
		t.Fatalf("expected chromium engine, got %T", eng)
	}
	if !chromium.Headless || chromium.Timeout != cfg.RasterTimeout() || len(chromium.Args) != 1 {
		t.Fatalf("unexpected chromium engine %+v", chromium)
	}

	cfg.Engine = "ROD"
	cfg.Stealth = true
	eng, err = newEngine(cfg, snapshot.NopLogger{})
	if err != nil {
		t.Fatalf("rod: %v", err)
	}
	rod, ok := eng.(*snapshotrod.Engine)
	if !ok || !rod.Stealth {
		t.Fatalf("expected stealth rod engine, got %#v", eng)
	}

	cfg.Engine = "wkhtml"
	if _, err := newEngine(cfg, snapshot.NopLogger{}); snapshot.KindFromError(err) != snapshot.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewApp_WiresArchiveAndHandler(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	app, err := NewApp(ctx, cfg, newLogger(&bytes.Buffer{}, log.InfoLevel))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()

	if app.Store == nil || app.Store.Root != cfg.Snapshot.ArtifactDir {
		t.Fatalf("expected archive store at %s, got %+v", cfg.Snapshot.ArtifactDir, app.Store)
	}
	if app.Exporter.Tracker() != app.Tracker {
		t.Fatal("exporter should record to the bun tracker")
	}

	handler, err := app.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := snapshothttp.NewApp(handler)

	resp, err := srv.Test(httptest.NewRequest("GET", "/snapshots", nil), -1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = srv.Test(httptest.NewRequest("GET", "/", nil), -1)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected index page, got %d", resp.StatusCode)
	}
}

func TestNewApp_NoArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Archive = false
	app, err := NewApp(context.Background(), cfg, newLogger(&bytes.Buffer{}, log.InfoLevel))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()
	if app.Store != nil {
		t.Fatalf("expected no archive store, got %+v", app.Store)
	}
}

func TestRunMigrate(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.WithValue(context.Background(), loggerKey, newLogger(&buf, log.InfoLevel))
	dsn := "file:" + filepath.Base(t.TempDir()) + "?mode=memory&cache=shared"
	if err := runMigrate(ctx, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(buf.String(), "tracker table ready") {
		t.Fatalf("expected log line, got %q", buf.String())
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "snapshot", "migrate", "cleanup"} {
		if !names[want] {
			t.Fatalf("expected %s command", want)
		}
	}
}

func TestContextFallbacks(t *testing.T) {
	ctx := context.Background()
	if loggerFromContext(ctx) != log.Default() {
		t.Fatal("expected default logger")
	}
	if configFromContext(ctx).Server.Port != config.Defaults().Server.Port {
		t.Fatal("expected default config")
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Defaults().Snapshot
	if newNotifier(cfg) != nil {
		t.Fatal("expected no notifier without a webhook url")
	}

	cfg.WebhookURL = "https://erp.example/hooks"
	cfg.WebhookToken = "tok"
	notifier := newNotifier(cfg)
	if notifier == nil || notifier.URL != cfg.WebhookURL {
		t.Fatalf("unexpected notifier %+v", notifier)
	}
	if notifier.Headers["Authorization"] != "Bearer tok" {
		t.Fatalf("expected bearer header, got %v", notifier.Headers)
	}
}

func TestAppCleanup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Snapshot.RetentionHours = 1
	app, err := NewApp(ctx, cfg, newLogger(&bytes.Buffer{}, log.InfoLevel))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()

	now := time.Now().UTC()
	oldID, err := app.Tracker.Start(ctx, snapshot.Record{Variant: snapshot.VariantCliente, CreatedAt: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := app.Tracker.Skip(ctx, oldID, snapshot.SkipNoTarget); err != nil {
		t.Fatalf("skip: %v", err)
	}
	freshID, _ := app.Tracker.Start(ctx, snapshot.Record{Variant: snapshot.VariantCliente, CreatedAt: now})
	_ = app.Tracker.Skip(ctx, freshID, snapshot.SkipNoTarget)

	deleted, err := app.Cleanup(ctx, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one deletion, got %d", deleted)
	}
	if _, err := app.Tracker.Status(ctx, freshID); err != nil {
		t.Fatalf("fresh record should remain: %v", err)
	}
}
