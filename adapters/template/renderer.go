package snapshottemplate

import (
	"context"
	"embed"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-cotizaciones/snapshot"
)

// DefaultTemplateName is the index page template.
const DefaultTemplateName = "index"

//go:embed templates/*.html
var builtin embed.FS

// TemplateExecutor executes a named template with data.
type TemplateExecutor interface {
	ExecuteTemplate(w io.Writer, name string, data any) error
}

// Pongo2Templates holds compiled pongo2 templates by name.
type Pongo2Templates struct {
	mu        sync.RWMutex
	templates map[string]*pongo2.Template
}

// NewPongo2Templates compiles the built-in templates.
func NewPongo2Templates() (*Pongo2Templates, error) {
	t := &Pongo2Templates{templates: map[string]*pongo2.Template{}}
	source, err := builtin.ReadFile("templates/index.html")
	if err != nil {
		return nil, err
	}
	if err := t.AddString(DefaultTemplateName, string(source)); err != nil {
		return nil, err
	}
	return t, nil
}

// AddString compiles source under name, replacing any previous template.
func (t *Pongo2Templates) AddString(name, source string) error {
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return snapshot.NewError(snapshot.KindValidation, fmt.Sprintf("compile template %q failed", name), err)
	}
	t.mu.Lock()
	t.templates[name] = tpl
	t.mu.Unlock()
	return nil
}

// AddFile compiles the template at path under name.
func (t *Pongo2Templates) AddFile(name, path string) error {
	tpl, err := pongo2.FromFile(path)
	if err != nil {
		return snapshot.NewError(snapshot.KindValidation, fmt.Sprintf("load template %q failed", path), err)
	}
	t.mu.Lock()
	t.templates[name] = tpl
	t.mu.Unlock()
	return nil
}

// ExecuteTemplate renders name with data. data must be a pongo2.Context
// or a map[string]any.
func (t *Pongo2Templates) ExecuteTemplate(w io.Writer, name string, data any) error {
	t.mu.RLock()
	tpl, ok := t.templates[name]
	t.mu.RUnlock()
	if !ok {
		return snapshot.NewError(snapshot.KindNotFound, fmt.Sprintf("template %q not found", name), nil)
	}

	var ctx pongo2.Context
	switch v := data.(type) {
	case pongo2.Context:
		ctx = v
	case map[string]any:
		ctx = pongo2.Context(v)
	case nil:
		ctx = pongo2.Context{}
	default:
		return snapshot.NewError(snapshot.KindValidation, fmt.Sprintf("unsupported template data %T", data), nil)
	}
	return tpl.ExecuteWriter(ctx, w)
}

// Renderer renders the snapshot index page.
type Renderer struct {
	Templates    TemplateExecutor
	TemplateName string
	Title        string
	// ArtifactURL builds the link for an archived record; nil disables links.
	ArtifactURL func(snapshot.Record) string
	Now         func() time.Time
}

// RenderIndex writes the index page listing records.
func (r Renderer) RenderIndex(ctx context.Context, w io.Writer, records []snapshot.Record) error {
	if r.Templates == nil {
		return snapshot.NewError(snapshot.KindValidation, "template renderer requires templates", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := r.TemplateName
	if name == "" {
		name = DefaultTemplateName
	}
	title := r.Title
	if title == "" {
		title = "Descargas de cotizaciones"
	}

	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, r.recordView(record))
	}

	return r.Templates.ExecuteTemplate(w, name, pongo2.Context{
		"title":        title,
		"generated_at": r.now(),
		"records":      rows,
	})
}

func (r Renderer) recordView(record snapshot.Record) map[string]any {
	detail := string(record.SkipReason)
	if record.Error != "" {
		detail = record.Error
	}
	link := ""
	if r.ArtifactURL != nil && record.ArtifactKey != "" {
		link = r.ArtifactURL(record)
	}
	size := "-"
	if record.Bytes > 0 {
		size = humanize.Bytes(uint64(record.Bytes))
	}
	return map[string]any{
		"id":           record.ID,
		"correlativo":  record.Correlativo,
		"filename":     record.Filename,
		"variant":      record.Variant,
		"layout":       strings.ToLower(record.Layout),
		"state":        string(record.State),
		"detail":       detail,
		"size":         size,
		"created_at":   record.CreatedAt,
		"artifact_url": link,
	}
}

func (r Renderer) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
