package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/goliatone/go-cotizaciones/adapters/htmldoc"
	storefs "github.com/goliatone/go-cotizaciones/adapters/store/fs"
	"github.com/goliatone/go-cotizaciones/snapshot"
	"github.com/spf13/cobra"
)

type snapshotOptions struct {
	htmlPath    string
	outDir      string
	layout      string
	variant     string
	quotationID string
	engine      string
	baseURL     string
	dataURI     bool
	sanitize    bool
}

func newSnapshotCmd() *cobra.Command {
	opts := snapshotOptions{outDir: ".", variant: snapshot.VariantCliente}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render a saved quotation page to cotizacion_<correlativo>.jpg",
		Example: `  cotizaciones snapshot --html cotizacion.html --out ./descargas
  cotizaciones snapshot --html cotizacion.html --variant interna --datauri`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(ctx)
			log := loggerFromContext(ctx)
			if opts.engine != "" {
				cfg.Snapshot.Engine = opts.engine
			}
			if opts.baseURL == "" {
				opts.baseURL = cfg.Snapshot.BaseURL
			}
			opts.sanitize = opts.sanitize || cfg.Snapshot.Sanitize

			eng, err := newEngine(cfg.Snapshot, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			return renderFile(ctx, opts, eng, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.htmlPath, "html", "", "rendered quotation page")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", opts.outDir, "download directory")
	cmd.Flags().StringVar(&opts.layout, "layout", "", "fixed or natural (default depends on variant)")
	cmd.Flags().StringVar(&opts.variant, "variant", opts.variant, "cliente or interna")
	cmd.Flags().StringVar(&opts.quotationID, "quotation-id", "", "quotation id recorded with the snapshot")
	cmd.Flags().StringVar(&opts.engine, "engine", "", "chromium or rod (overrides config)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "base URL for relative assets (default: the page directory)")
	cmd.Flags().BoolVar(&opts.dataURI, "datauri", false, "print the data URI instead of writing a file")
	cmd.Flags().BoolVar(&opts.sanitize, "sanitize", false, "strip scripts and handlers before rendering")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}

// renderFile fires the page-ready signal for a local page and reports
// where the download went.
func renderFile(ctx context.Context, opts snapshotOptions, rasterizer snapshot.Rasterizer, log snapshot.Logger, out io.Writer) error {
	source, err := os.ReadFile(opts.htmlPath)
	if err != nil {
		return snapshot.NewError(snapshot.KindNotFound, "read page", err)
	}
	if opts.sanitize {
		source = htmldoc.Sanitize(source)
	}
	baseURL := opts.baseURL
	if baseURL == "" {
		baseURL = dirURL(opts.htmlPath)
	}
	doc, err := htmldoc.ParseBytes(htmldoc.InjectBaseURL(source, baseURL))
	if err != nil {
		return err
	}

	capture := &snapshot.CaptureDownloader{}
	downloaders := snapshot.MultiDownloader{capture}
	if !opts.dataURI {
		downloaders = append(downloaders, &storefs.Store{Root: opts.outDir, Now: time.Now})
	}

	layout := snapshot.Layout(opts.layout)
	if layout == "" {
		layout = snapshot.DefaultLayout(opts.variant)
	}

	exporter := snapshot.NewExporter(snapshot.ExporterConfig{Rasterizer: rasterizer, Logger: log})
	outcome, err := exporter.Export(ctx, snapshot.ExportRequest{
		QuotationID: opts.quotationID,
		Variant:     opts.variant,
		Layout:      layout,
		Document:    doc,
		Downloader:  downloaders,
	})
	if err != nil {
		return err
	}
	if !outcome.Triggered() {
		log.Infof("no download: %s", outcome.Skipped)
		return nil
	}

	download := outcome.Download
	if opts.dataURI {
		_, err = fmt.Fprintln(out, download.Href)
		return err
	}
	_, err = fmt.Fprintln(out, filepath.Join(opts.outDir, download.Filename))
	return err
}

func dirURL(pagePath string) string {
	abs, err := filepath.Abs(filepath.Dir(pagePath))
	if err != nil {
		return ""
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs) + "/"}
	return u.String()
}
