package snapshothttp

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	snapshottemplate "github.com/goliatone/go-cotizaciones/adapters/template"
	"github.com/goliatone/go-cotizaciones/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quotationPage = `<!doctype html><html><head><title>c</title></head><body>
<div id="cotizacion-print" data-correlativo="00042"><h1>Cotización</h1></div>
</body></html>`

type fixture struct {
	handler *Handler
	tracker *snapshot.MemoryTracker
	store   *snapshot.MemoryStore
	layouts []snapshot.Options
}

func newFixture(t *testing.T, rasterErr error) *fixture {
	t.Helper()
	f := &fixture{
		tracker: snapshot.NewMemoryTracker(),
		store:   snapshot.NewMemoryStore(),
	}
	raster := snapshot.RasterizerFunc(func(ctx context.Context, doc snapshot.Document, el snapshot.Element, opts snapshot.Options) (image.Image, error) {
		f.layouts = append(f.layouts, opts)
		if rasterErr != nil {
			return nil, rasterErr
		}
		scale := int(opts.Scale)
		if scale < 1 {
			scale = 1
		}
		w, h := 6*scale, 4*scale
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, color.RGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xff})
			}
		}
		return img, nil
	})
	exporter := snapshot.NewExporter(snapshot.ExporterConfig{
		Rasterizer:    raster,
		Tracker:       f.tracker,
		Store:         f.store,
		ArchivePrefix: "cotizaciones",
	})
	templates, err := snapshottemplate.NewPongo2Templates()
	require.NoError(t, err)

	f.handler = NewHandler(Config{
		Exporter: exporter,
		Store:    f.store,
		Index:    &snapshottemplate.Renderer{Templates: templates},
		Guard:    TokenGuard{Token: "secreto"},
		BaseURL:  "https://app.test/",
	})
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := NewApp(f.handler).Test(req, -1)
	require.NoError(t, err)
	return resp
}

func postPage(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/html")
	return req
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var payload errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestCreateSnapshot_ReturnsJPEGAttachment(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, postPage("/snapshots?quotation_id=q-1", quotationPage))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, snapshot.ContentTypeJPEG, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="cotizacion_00042.jpg"`)
	assert.NotEmpty(t, resp.Header.Get(headerSnapshotID))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Greater(t, len(body), 2)
	assert.Equal(t, []byte{0xff, 0xd8}, body[:2])

	require.Len(t, f.layouts, 1)
	assert.Equal(t, 1305, f.layouts[0].Width)
	assert.Equal(t, 1485, f.layouts[0].Height)
	assert.Equal(t, 1.0, f.layouts[0].Scale)

	record, err := f.tracker.Status(context.Background(), resp.Header.Get(headerSnapshotID))
	require.NoError(t, err)
	assert.Equal(t, snapshot.StateCompleted, record.State)
	assert.Equal(t, "q-1", record.QuotationID)
	assert.Equal(t, "cotizaciones/"+record.ID+"/cotizacion_00042.jpg", record.ArtifactKey)
}

func TestCreateSnapshot_DataURI(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, postPage("/snapshots?format=datauri", quotationPage))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload dataURIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "cotizacion_00042.jpg", payload.Filename)
	assert.True(t, strings.HasPrefix(payload.DataURI, snapshot.DataURIPrefix))
	assert.Positive(t, payload.Bytes)
}

func TestCreateSnapshot_NoTargetIsNoContent(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, postPage("/snapshots", `<html><body><p>sin cotización</p></body></html>`))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, string(snapshot.SkipNoTarget), resp.Header.Get(headerSkip))
	assert.Empty(t, f.layouts)
}

func TestCreateSnapshot_InternaRequiresStaff(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, postPage("/snapshots?variant=interna", quotationPage))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authz", decodeError(t, resp).Error.Code)

	req := postPage("/snapshots?variant=interna", quotationPage)
	req.Header.Set("Authorization", "Bearer secreto")
	resp = f.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, f.layouts, 1)
	assert.Equal(t, 2.0, f.layouts[0].Scale)
	assert.Zero(t, f.layouts[0].Width)
}

func TestCreateSnapshot_Validation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		target string
		body   string
		field  string
	}{
		{target: "/snapshots", body: "  ", field: "body"},
		{target: "/snapshots?format=png", body: quotationPage, field: "format"},
		{target: "/snapshots?variant=otro", body: quotationPage, field: "variant"},
	}
	for _, tc := range cases {
		resp := f.do(t, postPage(tc.target, tc.body))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.target)
		payload := decodeError(t, resp)
		assert.Equal(t, "validation", payload.Error.Code)
		assert.Contains(t, payload.Error.Fields, tc.field)
	}

	resp := f.do(t, postPage("/snapshots?layout=poster", quotationPage))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateSnapshot_RasterFailure(t *testing.T) {
	f := newFixture(t, errors.New("canvas tainted"))

	resp := f.do(t, postPage("/snapshots", quotationPage))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal", decodeError(t, resp).Error.Code)

	records, err := f.tracker.List(context.Background(), snapshot.RecordFilter{State: snapshot.StateFailed})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCreateSnapshot_SanitizeKeepsTarget(t *testing.T) {
	f := newFixture(t, nil)
	page := `<div id="cotizacion-print" data-correlativo="7"><script>document.body.innerHTML=""</script>x</div>`

	resp := f.do(t, postPage("/snapshots?sanitize=1", page))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "cotizacion_7.jpg")
}

func TestListAndGetSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	created := f.do(t, postPage("/snapshots?quotation_id=q-9", quotationPage))
	require.Equal(t, http.StatusOK, created.StatusCode)
	id := created.Header.Get(headerSnapshotID)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots?quotation_id=q-9", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Records, 1)
	assert.Equal(t, id, list.Records[0].ID)
	assert.Equal(t, "/snapshots/"+id+"/artifact", list.Records[0].ArtifactURL)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots/"+id, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var record recordResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	assert.Equal(t, "completed", record.State)
	assert.Equal(t, "00042", record.Correlativo)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	since := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots?since="+since, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = listResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list.Records)
}

func TestGetArtifact(t *testing.T) {
	f := newFixture(t, nil)
	created := f.do(t, postPage("/snapshots", quotationPage))
	require.Equal(t, http.StatusOK, created.StatusCode)
	original, err := io.ReadAll(created.Body)
	require.NoError(t, err)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots/"+created.Header.Get(headerSnapshotID)+"/artifact", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	archived, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, original, archived)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "cotizacion_00042.jpg")

	skipped := f.do(t, postPage("/snapshots", `<p>nada</p>`))
	require.Equal(t, http.StatusNoContent, skipped.StatusCode)
	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots/"+skipped.Header.Get(headerSnapshotID)+"/artifact", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetArtifact_VariantsOfOneQuotationStayApart(t *testing.T) {
	f := newFixture(t, nil)

	cliente := f.do(t, postPage("/snapshots?quotation_id=q-42", quotationPage))
	require.Equal(t, http.StatusOK, cliente.StatusCode)
	clienteJPEG, err := io.ReadAll(cliente.Body)
	require.NoError(t, err)

	req := postPage("/snapshots?quotation_id=q-42&variant=interna", quotationPage)
	req.Header.Set("Authorization", "Bearer secreto")
	interna := f.do(t, req)
	require.Equal(t, http.StatusOK, interna.StatusCode)
	internaJPEG, err := io.ReadAll(interna.Body)
	require.NoError(t, err)
	require.NotEqual(t, clienteJPEG, internaJPEG)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots/"+cliente.Header.Get(headerSnapshotID)+"/artifact", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	archived, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, clienteJPEG, archived)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/snapshots/"+interna.Header.Get(headerSnapshotID)+"/artifact", nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	clienteRecord, err := f.tracker.Status(context.Background(), cliente.Header.Get(headerSnapshotID))
	require.NoError(t, err)
	internaRecord, err := f.tracker.Status(context.Background(), interna.Header.Get(headerSnapshotID))
	require.NoError(t, err)
	assert.Equal(t, clienteRecord.Filename, internaRecord.Filename)
	assert.NotEqual(t, clienteRecord.ArtifactKey, internaRecord.ArtifactKey)
}

func TestCreateSnapshot_RecordsOutliveRequestBuffers(t *testing.T) {
	f := newFixture(t, nil)
	app := NewApp(f.handler)

	first, err := app.Test(postPage("/snapshots?quotation_id=q-111&variant=cliente&layout=fixed", quotationPage), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstID := first.Header.Get(headerSnapshotID)

	req := postPage("/snapshots?quotation_id=q-999&variant=interna&layout=natural", quotationPage)
	req.Header.Set("Authorization", "Bearer secreto")
	second, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, second.StatusCode)

	record, err := f.tracker.Status(context.Background(), firstID)
	require.NoError(t, err)
	assert.Equal(t, "q-111", record.QuotationID)
	assert.Equal(t, snapshot.VariantCliente, record.Variant)
	assert.Equal(t, "fixed", record.Layout)

	records, err := f.tracker.List(context.Background(), snapshot.RecordFilter{QuotationID: "q-111"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestIndexPageAndHealth(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, postPage("/snapshots", quotationPage)).StatusCode)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cotizacion_00042.jpg")

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateSnapshot_WithoutExporter(t *testing.T) {
	app := NewApp(NewHandler(Config{}))
	resp, err := app.Test(postPage("/snapshots", quotationPage), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestTokenGuard_EmptyTokenDenies(t *testing.T) {
	app := NewApp(NewHandler(Config{Exporter: snapshot.NewExporter(snapshot.ExporterConfig{})}))
	req := postPage("/snapshots?variant=interna", quotationPage)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
