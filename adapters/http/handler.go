// Package snapshothttp exposes the snapshot exporter over fiber.
package snapshothttp

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/goliatone/go-cotizaciones/adapters/htmldoc"
	snapshottemplate "github.com/goliatone/go-cotizaciones/adapters/template"
	"github.com/goliatone/go-cotizaciones/snapshot"
)

const (
	formatJPG     = "jpg"
	formatDataURI = "datauri"

	headerSnapshotID = "X-Snapshot-ID"
	headerSkip       = "X-Snapshot-Skip"
)

// StaffGuard authorizes requests for the interna variant.
type StaffGuard interface {
	AuthorizeStaff(c *fiber.Ctx) error
}

// TokenGuard accepts requests carrying "Authorization: Bearer <Token>".
// An empty Token denies every request.
type TokenGuard struct {
	Token string
}

// AuthorizeStaff checks the bearer token.
func (g TokenGuard) AuthorizeStaff(c *fiber.Ctx) error {
	if g.Token == "" {
		return snapshot.NewError(snapshot.KindAuthz, "staff access is not configured", nil)
	}
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(g.Token)) != 1 {
		return snapshot.NewError(snapshot.KindAuthz, "staff access required", nil)
	}
	return nil
}

// Config configures the HTTP adapter.
type Config struct {
	Exporter *snapshot.Exporter
	// Tracker defaults to the exporter's tracker.
	Tracker snapshot.Tracker
	// Store serves archived artifacts; nil disables the artifact route.
	Store    snapshot.ArtifactStore
	Index    *snapshottemplate.Renderer
	Guard    StaffGuard
	BasePath string
	// BaseURL is injected into uploaded pages as <base href>.
	BaseURL string
	// Sanitize forces sanitising of every uploaded page.
	Sanitize     bool
	MaxBodyBytes int64
	Logger       snapshot.Logger
}

// Handler exposes snapshot HTTP endpoints.
type Handler struct {
	exporter *snapshot.Exporter
	tracker  snapshot.Tracker
	store    snapshot.ArtifactStore
	index    *snapshottemplate.Renderer
	guard    StaffGuard
	basePath string
	baseURL  string
	sanitize bool
	maxBody  int64
	logger   snapshot.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(cfg Config) *Handler {
	tracker := cfg.Tracker
	if tracker == nil && cfg.Exporter != nil {
		tracker = cfg.Exporter.Tracker()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = TokenGuard{}
	}
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if basePath == "" {
		basePath = "/snapshots"
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = htmldoc.DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = snapshot.NopLogger{}
	}
	return &Handler{
		exporter: cfg.Exporter,
		tracker:  tracker,
		store:    cfg.Store,
		index:    cfg.Index,
		guard:    guard,
		basePath: basePath,
		baseURL:  cfg.BaseURL,
		sanitize: cfg.Sanitize,
		maxBody:  maxBody,
		logger:   logger,
	}
}

// NewApp builds a fiber app with middleware installed ahead of the
// handler routes.
func NewApp(h *Handler, middleware ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "cotizaciones",
		BodyLimit:             int(h.maxBody),
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	for _, mw := range middleware {
		app.Use(mw)
	}
	h.Register(app)
	return app
}

// Register mounts the routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	r.Get("/", h.indexPage)

	group := r.Group(h.basePath)
	group.Post("/", h.createSnapshot)
	group.Get("/", h.listSnapshots)
	group.Get("/:id", h.getSnapshot)
	group.Get("/:id/artifact", h.getArtifact)
}

func (h *Handler) createSnapshot(c *fiber.Ctx) error {
	if h.exporter == nil {
		return writeError(c, snapshot.NewError(snapshot.KindNotImpl, "snapshot exporter not configured", nil))
	}

	// Query values alias fiber's request buffer; anything handed to the
	// tracker must be copied.
	variant := utils.CopyString(strings.ToLower(strings.TrimSpace(c.Query("variant", snapshot.VariantCliente))))
	if variant != snapshot.VariantCliente && variant != snapshot.VariantInterna {
		return writeError(c, snapshot.NewValidationError("invalid request", map[string]string{
			"variant": "must be cliente or interna",
		}))
	}
	if variant == snapshot.VariantInterna {
		if err := h.guard.AuthorizeStaff(c); err != nil {
			return writeError(c, err)
		}
	}

	format := strings.ToLower(c.Query("format", formatJPG))
	if format != formatJPG && format != formatDataURI {
		return writeError(c, snapshot.NewValidationError("invalid request", map[string]string{
			"format": "must be jpg or datauri",
		}))
	}

	layout := snapshot.Layout(utils.CopyString(c.Query("layout")))
	if layout == "" {
		layout = snapshot.DefaultLayout(variant)
	}

	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return writeError(c, snapshot.NewValidationError("invalid request", map[string]string{
			"body": "html page is required",
		}))
	}
	source := body
	if h.sanitize || queryBool(c, "sanitize") {
		source = htmldoc.Sanitize(source)
	}
	source = htmldoc.InjectBaseURL(source, h.baseURL)

	doc, err := htmldoc.ParseBytes(source)
	if err != nil {
		return writeError(c, err)
	}

	capture := &snapshot.CaptureDownloader{}
	outcome, err := h.exporter.Export(c.UserContext(), snapshot.ExportRequest{
		QuotationID: utils.CopyString(c.Query("quotation_id")),
		Variant:     variant,
		Layout:      layout,
		Document:    doc,
		Downloader:  capture,
	})
	if err != nil {
		h.logger.Errorf("snapshot http: export failed: %v", err)
		return writeError(c, err)
	}
	if outcome.RecordID != "" {
		c.Set(headerSnapshotID, outcome.RecordID)
	}
	if !outcome.Triggered() {
		c.Set(headerSkip, string(outcome.Skipped))
		return c.SendStatus(fiber.StatusNoContent)
	}

	download := outcome.Download
	if format == formatDataURI {
		return c.Status(fiber.StatusOK).JSON(dataURIResponse{
			ID:       outcome.RecordID,
			Filename: download.Filename,
			DataURI:  download.Href,
			Bytes:    download.Size(),
		})
	}
	c.Attachment(download.Filename)
	c.Set(fiber.HeaderContentType, download.ContentType)
	return c.Send(download.Data)
}

func (h *Handler) listSnapshots(c *fiber.Ctx) error {
	if h.tracker == nil {
		return writeError(c, snapshot.NewError(snapshot.KindNotImpl, "snapshot tracker not configured", nil))
	}
	filter, err := parseFilter(c)
	if err != nil {
		return writeError(c, err)
	}
	records, err := h.tracker.List(c.UserContext(), filter)
	if err != nil {
		return writeError(c, err)
	}
	resp := listResponse{Records: make([]recordResponse, 0, len(records))}
	for _, record := range records {
		resp.Records = append(resp.Records, h.recordView(record))
	}
	return c.JSON(resp)
}

func (h *Handler) getSnapshot(c *fiber.Ctx) error {
	if h.tracker == nil {
		return writeError(c, snapshot.NewError(snapshot.KindNotImpl, "snapshot tracker not configured", nil))
	}
	record, err := h.tracker.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(h.recordView(record))
}

func (h *Handler) getArtifact(c *fiber.Ctx) error {
	if h.tracker == nil || h.store == nil {
		return writeError(c, snapshot.NewError(snapshot.KindNotImpl, "artifact archive not configured", nil))
	}
	ctx := c.UserContext()
	record, err := h.tracker.Status(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if record.ArtifactKey == "" {
		return writeError(c, snapshot.NewError(snapshot.KindNotFound, "snapshot has no archived artifact", nil))
	}
	if record.Variant == snapshot.VariantInterna {
		if err := h.guard.AuthorizeStaff(c); err != nil {
			return writeError(c, err)
		}
	}

	reader, meta, err := h.store.Open(ctx, record.ArtifactKey)
	if err != nil {
		return writeError(c, err)
	}
	filename := meta.Filename
	if filename == "" {
		filename = record.Filename
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = snapshot.ContentTypeJPEG
	}
	size := -1
	if meta.Size > 0 {
		size = int(meta.Size)
	}
	c.Attachment(filename)
	c.Set(fiber.HeaderContentType, contentType)
	// fiber closes the reader once the body is written.
	return c.SendStream(reader, size)
}

func (h *Handler) indexPage(c *fiber.Ctx) error {
	if h.index == nil || h.tracker == nil {
		return c.Redirect(h.basePath, fiber.StatusFound)
	}
	records, err := h.tracker.List(c.UserContext(), snapshot.RecordFilter{})
	if err != nil {
		return writeError(c, err)
	}
	var buf bytes.Buffer
	renderer := *h.index
	if renderer.ArtifactURL == nil && h.store != nil {
		renderer.ArtifactURL = h.artifactURL
	}
	if err := renderer.RenderIndex(c.UserContext(), &buf, records); err != nil {
		return writeError(c, err)
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

func (h *Handler) artifactURL(record snapshot.Record) string {
	return h.basePath + "/" + url.PathEscape(record.ID) + "/artifact"
}

func parseFilter(c *fiber.Ctx) (snapshot.RecordFilter, error) {
	filter := snapshot.RecordFilter{
		QuotationID: c.Query("quotation_id"),
		State:       snapshot.State(c.Query("state")),
	}
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return snapshot.RecordFilter{}, snapshot.NewError(snapshot.KindValidation, "invalid since timestamp", err)
		}
		filter.Since = ts
	}
	if until := c.Query("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return snapshot.RecordFilter{}, snapshot.NewError(snapshot.KindValidation, "invalid until timestamp", err)
		}
		filter.Until = ts
	}
	return filter, nil
}

func queryBool(c *fiber.Ctx, key string) bool {
	value, err := strconv.ParseBool(c.Query(key))
	return err == nil && value
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{Error: errorBody{Message: fe.Message, Code: strconv.Itoa(fe.Code)}})
	}
	return writeError(c, err)
}
