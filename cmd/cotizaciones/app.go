package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	snapshotchromium "github.com/goliatone/go-cotizaciones/adapters/chromium"
	snapshothttp "github.com/goliatone/go-cotizaciones/adapters/http"
	snapshotrod "github.com/goliatone/go-cotizaciones/adapters/rod"
	storefs "github.com/goliatone/go-cotizaciones/adapters/store/fs"
	snapshottemplate "github.com/goliatone/go-cotizaciones/adapters/template"
	trackerbun "github.com/goliatone/go-cotizaciones/adapters/tracker/bun"
	snapshotwebhook "github.com/goliatone/go-cotizaciones/adapters/webhook"
	"github.com/goliatone/go-cotizaciones/cmd/cotizaciones/config"
	"github.com/goliatone/go-cotizaciones/snapshot"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// engine is a rasterizer that owns a browser.
type engine interface {
	snapshot.Rasterizer
	Close() error
}

// App holds the wired service dependencies.
type App struct {
	Config   config.Config
	Logger   *log.Logger
	DB       *bun.DB
	Tracker  *trackerbun.Tracker
	Store    *storefs.Store
	Engine   engine
	Exporter *snapshot.Exporter
}

// NewApp opens the database, migrates the tracker table and builds the
// exporter for the configured engine.
func NewApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	db, err := openDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	tracker := trackerbun.NewTracker(db)
	if err := tracker.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tracker: %w", err)
	}

	eng, err := newEngine(cfg.Snapshot, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Tracker: tracker,
		Engine:  eng,
	}
	exporterCfg := snapshot.ExporterConfig{
		Rasterizer: eng,
		Tracker:    tracker,
		Logger:     logger,
	}
	if cfg.Snapshot.Archive {
		app.Store = storefs.NewStore(cfg.Snapshot.ArtifactDir)
		exporterCfg.Store = app.Store
		exporterCfg.ArchivePrefix = cfg.Snapshot.ArchivePrefix
	}
	if notify := newNotifier(cfg.Snapshot); notify != nil {
		exporterCfg.Notify = notify
	}
	app.Exporter = snapshot.NewExporter(exporterCfg)
	return app, nil
}

func newNotifier(cfg config.SnapshotConfig) *snapshotwebhook.Downloader {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil
	}
	notifier := &snapshotwebhook.Downloader{
		URL:         cfg.WebhookURL,
		IncludeData: cfg.WebhookIncludeData,
		Sender:      &snapshotwebhook.HTTPSender{Client: &http.Client{Timeout: 10 * time.Second}},
	}
	if cfg.WebhookToken != "" {
		notifier.Headers = map[string]string{"Authorization": "Bearer " + cfg.WebhookToken}
	}
	return notifier
}

// Handler builds the HTTP handler for the app.
func (a *App) Handler() (*snapshothttp.Handler, error) {
	templates, err := snapshottemplate.NewPongo2Templates()
	if err != nil {
		return nil, err
	}
	handlerCfg := snapshothttp.Config{
		Exporter:     a.Exporter,
		Tracker:      a.Tracker,
		Index:        &snapshottemplate.Renderer{Templates: templates},
		Guard:        snapshothttp.TokenGuard{Token: a.Config.Server.StaffToken},
		BasePath:     a.Config.Server.BasePath,
		BaseURL:      a.Config.Snapshot.BaseURL,
		Sanitize:     a.Config.Snapshot.Sanitize,
		MaxBodyBytes: a.Config.Server.MaxBodyBytes,
		Logger:       a.Logger,
	}
	if a.Store != nil {
		handlerCfg.Store = a.Store
	}
	return snapshothttp.NewHandler(handlerCfg), nil
}

// Cleanup applies the retention window to records and archived artifacts.
func (a *App) Cleanup(ctx context.Context, now time.Time) (int, error) {
	rules := snapshot.RetentionRules{DefaultTTL: a.Config.Snapshot.Retention()}
	var store snapshot.ArtifactStore
	if a.Store != nil {
		store = a.Store
	}
	return snapshot.Cleanup(ctx, a.Tracker, store, rules, now)
}

// Close releases the browser and the database.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func openDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func newEngine(cfg config.SnapshotConfig, logger snapshot.Logger) (engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", config.EngineChromium:
		return &snapshotchromium.Engine{
			BrowserPath: cfg.BrowserPath,
			RemoteURL:   cfg.RemoteURL,
			Headless:    cfg.Headless,
			Timeout:     cfg.RasterTimeout(),
			Args:        cfg.Args,
			Logger:      logger,
		}, nil
	case config.EngineRod:
		return &snapshotrod.Engine{
			BrowserPath: cfg.BrowserPath,
			RemoteURL:   cfg.RemoteURL,
			Headless:    cfg.Headless,
			NoSandbox:   cfg.NoSandbox,
			Stealth:     cfg.Stealth,
			Timeout:     cfg.RasterTimeout(),
			Args:        cfg.Args,
			Logger:      logger,
		}, nil
	default:
		return nil, snapshot.NewError(snapshot.KindValidation, fmt.Sprintf("unknown snapshot engine %q", cfg.Engine), nil)
	}
}
