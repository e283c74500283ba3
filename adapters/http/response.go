package snapshothttp

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-cotizaciones/snapshot"
	errorslib "github.com/goliatone/go-errors"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type dataURIResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	DataURI  string `json:"data_uri"`
	Bytes    int64  `json:"bytes"`
}

type recordResponse struct {
	ID          string     `json:"id"`
	QuotationID string     `json:"quotation_id,omitempty"`
	Correlativo string     `json:"correlativo,omitempty"`
	Variant     string     `json:"variant,omitempty"`
	Layout      string     `json:"layout"`
	State       string     `json:"state"`
	Filename    string     `json:"filename,omitempty"`
	Bytes       int64      `json:"bytes"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	ArtifactURL string     `json:"artifact_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type listResponse struct {
	Records []recordResponse `json:"records"`
}

func (h *Handler) recordView(record snapshot.Record) recordResponse {
	view := recordResponse{
		ID:          record.ID,
		QuotationID: record.QuotationID,
		Correlativo: record.Correlativo,
		Variant:     record.Variant,
		Layout:      record.Layout,
		State:       string(record.State),
		Filename:    record.Filename,
		Bytes:       record.Bytes,
		SkipReason:  string(record.SkipReason),
		Error:       record.Error,
		CreatedAt:   record.CreatedAt,
	}
	if record.ArtifactKey != "" && h.store != nil {
		view.ArtifactURL = h.artifactURL(record)
	}
	if !record.CompletedAt.IsZero() {
		completed := record.CompletedAt
		view.CompletedAt = &completed
	}
	return view
}

func writeError(c *fiber.Ctx, err error) error {
	mapped := snapshot.AsGoError(err)
	return c.Status(statusForError(mapped)).JSON(errorResponse{
		Error: errorBody{
			Message: mapped.Message,
			Code:    mapped.TextCode,
			Fields:  snapshot.FieldErrors(err),
		},
	})
}

func statusForError(err *errorslib.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	if err.TextCode == "not_implemented" {
		return http.StatusNotImplemented
	}
	switch err.Category {
	case errorslib.CategoryValidation:
		return http.StatusBadRequest
	case errorslib.CategoryAuthz:
		return http.StatusForbidden
	case errorslib.CategoryNotFound:
		return http.StatusNotFound
	case errorslib.CategoryExternal:
		return http.StatusBadGateway
	case errorslib.CategoryOperation:
		if err.TextCode == "canceled" {
			return http.StatusConflict
		}
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
