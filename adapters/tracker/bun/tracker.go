package trackerbun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-cotizaciones/snapshot"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Tracker stores snapshot records in a Bun-backed database.
type Tracker struct {
	DB          *bun.DB
	Now         func() time.Time
	IDGenerator func() string
}

// NewTracker creates a Bun-backed tracker.
func NewTracker(db *bun.DB) *Tracker {
	return &Tracker{DB: db, Now: time.Now, IDGenerator: uuid.NewString}
}

// Migrate creates the snapshot_records table when missing.
func (t *Tracker) Migrate(ctx context.Context) error {
	if t == nil || t.DB == nil {
		return snapshot.NewError(snapshot.KindNotImpl, "tracker database not configured", nil)
	}
	_, err := t.DB.NewCreateTable().Model((*recordModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Start inserts a running record.
func (t *Tracker) Start(ctx context.Context, record snapshot.Record) (string, error) {
	if t == nil || t.DB == nil {
		return "", snapshot.NewError(snapshot.KindNotImpl, "tracker database not configured", nil)
	}
	if record.ID == "" {
		record.ID = t.nextID()
	}
	if record.State == "" {
		record.State = snapshot.StateRunning
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = t.now()
	}

	model := modelFromRecord(record)
	if _, err := t.DB.NewInsert().Model(&model).Exec(ctx); err != nil {
		return "", err
	}
	return record.ID, nil
}

// Complete stores the download details of a finished snapshot.
func (t *Tracker) Complete(ctx context.Context, id string, d snapshot.Download, artifactKey string) error {
	return t.update(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("state = ?", string(snapshot.StateCompleted)).
			Set("correlativo = ?", d.Correlativo).
			Set("filename = ?", d.Filename).
			Set("bytes = ?", d.Size()).
			Set("artifact_key = ?", artifactKey).
			Set("completed_at = COALESCE(completed_at, ?)", t.now())
	})
}

// Skip marks a record as skipped.
func (t *Tracker) Skip(ctx context.Context, id string, reason snapshot.SkipReason) error {
	return t.update(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("state = ?", string(snapshot.StateSkipped)).
			Set("skip_reason = ?", string(reason)).
			Set("completed_at = COALESCE(completed_at, ?)", t.now())
	})
}

// Fail marks a record as failed.
func (t *Tracker) Fail(ctx context.Context, id string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return t.update(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("state = ?", string(snapshot.StateFailed)).
			Set("error = ?", message).
			Set("completed_at = COALESCE(completed_at, ?)", t.now())
	})
}

// Status returns a record by ID.
func (t *Tracker) Status(ctx context.Context, id string) (snapshot.Record, error) {
	if t == nil || t.DB == nil {
		return snapshot.Record{}, snapshot.NewError(snapshot.KindNotImpl, "tracker database not configured", nil)
	}
	if id == "" {
		return snapshot.Record{}, snapshot.NewError(snapshot.KindValidation, "snapshot ID is required", nil)
	}

	model := new(recordModel)
	err := t.DB.NewSelect().Model(model).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Record{}, snapshot.NewError(snapshot.KindNotFound, fmt.Sprintf("snapshot %q not found", id), nil)
		}
		return snapshot.Record{}, err
	}
	return model.toRecord(), nil
}

// List returns records matching a filter, newest first.
func (t *Tracker) List(ctx context.Context, filter snapshot.RecordFilter) ([]snapshot.Record, error) {
	if t == nil || t.DB == nil {
		return nil, snapshot.NewError(snapshot.KindNotImpl, "tracker database not configured", nil)
	}

	models := make([]recordModel, 0)
	query := t.DB.NewSelect().Model(&models)
	if filter.QuotationID != "" {
		query = query.Where("quotation_id = ?", filter.QuotationID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", string(filter.State))
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at <= ?", filter.Until)
	}
	query = query.Order("created_at DESC", "id DESC")

	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	records := make([]snapshot.Record, 0, len(models))
	for _, model := range models {
		records = append(records, model.toRecord())
	}
	return records, nil
}

// Delete removes a record from the tracker.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	if t == nil || t.DB == nil {
		return snapshot.NewError(snapshot.KindNotImpl, "tracker database not configured", nil)
	}
	if id == "" {
		return snapshot.NewError(snapshot.KindValidation, "snapshot ID is required", nil)
	}

	res, err := t.DB.NewDelete().Model((*recordModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return snapshot.NewError(snapshot.KindNotFound, fmt.Sprintf("snapshot %q not found", id), nil)
	}
	return nil
}

func (t *Tracker) update(ctx context.Context, id string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if t == nil || t.DB == nil {
		return snapshot.NewError(snapshot.KindNotImpl, "tracker database not configured", nil)
	}
	if id == "" {
		return snapshot.NewError(snapshot.KindValidation, "snapshot ID is required", nil)
	}

	query := apply(t.DB.NewUpdate().Model((*recordModel)(nil))).Where("id = ?", id)
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return snapshot.NewError(snapshot.KindNotFound, fmt.Sprintf("snapshot %q not found", id), nil)
	}
	return nil
}

type recordModel struct {
	bun.BaseModel `bun:"table:snapshot_records,alias:sr"`

	ID          string    `bun:",pk"`
	QuotationID string    `bun:"quotation_id"`
	Correlativo string    `bun:"correlativo"`
	Variant     string    `bun:"variant"`
	Layout      string    `bun:"layout"`
	State       string    `bun:",notnull"`
	Filename    string    `bun:"filename"`
	Bytes       int64     `bun:"bytes"`
	SkipReason  string    `bun:"skip_reason"`
	Error       string    `bun:"error"`
	ArtifactKey string    `bun:"artifact_key"`
	CreatedAt   time.Time `bun:"created_at"`
	CompletedAt time.Time `bun:"completed_at,nullzero"`
}

func modelFromRecord(record snapshot.Record) recordModel {
	return recordModel{
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
		ArtifactKey: record.ArtifactKey,
		CreatedAt:   record.CreatedAt,
		CompletedAt: record.CompletedAt,
	}
}

func (m recordModel) toRecord() snapshot.Record {
	return snapshot.Record{
		ID:          m.ID,
		QuotationID: m.QuotationID,
		Correlativo: m.Correlativo,
		Variant:     m.Variant,
		Layout:      m.Layout,
		State:       snapshot.State(m.State),
		Filename:    m.Filename,
		Bytes:       m.Bytes,
		SkipReason:  snapshot.SkipReason(m.SkipReason),
		Error:       m.Error,
		ArtifactKey: m.ArtifactKey,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) nextID() string {
	if t.IDGenerator != nil {
		return t.IDGenerator()
	}
	return uuid.NewString()
}
