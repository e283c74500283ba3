package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore stores artifacts in memory (test/dev only).
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	meta ArtifactMeta
}

// NewMemoryStore creates an in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores an artifact.
func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error) {
	_ = ctx
	if key == "" {
		return ArtifactRef{}, NewError(KindValidation, "artifact key is required", nil)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ArtifactRef{}, err
	}
	meta.Size = int64(len(data))
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, meta: meta}
	s.mu.Unlock()

	return ArtifactRef{Key: key, Meta: meta}, nil
}

// Open reads an artifact.
func (s *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, ArtifactMeta, error) {
	_ = ctx
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ArtifactMeta{}, NewError(KindNotFound, fmt.Sprintf("artifact %q not found", key), nil)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta, nil
}

// Delete removes an artifact.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// MemoryTracker stores snapshot records in memory (test/dev only).
type MemoryTracker struct {
	mu      sync.RWMutex
	records map[string]Record
	counter uint64
	Now     func() time.Time
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: make(map[string]Record), Now: time.Now}
}

// Start creates a new record in the running state.
func (t *MemoryTracker) Start(ctx context.Context, record Record) (string, error) {
	_ = ctx
	if record.ID == "" {
		record.ID = t.nextID()
	}
	if record.State == "" {
		record.State = StateRunning
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = t.now()
	}

	t.mu.Lock()
	t.records[record.ID] = record
	t.mu.Unlock()
	return record.ID, nil
}

// Complete marks the record as completed.
func (t *MemoryTracker) Complete(ctx context.Context, id string, d Download, artifactKey string) error {
	_ = ctx
	return t.update(id, func(record *Record) {
		record.State = StateCompleted
		record.Filename = d.Filename
		record.Correlativo = d.Correlativo
		record.Bytes = d.Size()
		record.ArtifactKey = artifactKey
		record.CompletedAt = t.now()
	})
}

// Skip marks the record as skipped.
func (t *MemoryTracker) Skip(ctx context.Context, id string, reason SkipReason) error {
	_ = ctx
	return t.update(id, func(record *Record) {
		record.State = StateSkipped
		record.SkipReason = reason
		record.CompletedAt = t.now()
	})
}

// Fail records failure state.
func (t *MemoryTracker) Fail(ctx context.Context, id string, err error) error {
	_ = ctx
	return t.update(id, func(record *Record) {
		record.State = StateFailed
		if err != nil {
			record.Error = err.Error()
		}
		record.CompletedAt = t.now()
	})
}

// Delete removes a record.
func (t *MemoryTracker) Delete(ctx context.Context, id string) error {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[id]; !ok {
		return NewError(KindNotFound, fmt.Sprintf("snapshot %q not found", id), nil)
	}
	delete(t.records, id)
	return nil
}

// Status returns a record by ID.
func (t *MemoryTracker) Status(ctx context.Context, id string) (Record, error) {
	_ = ctx
	t.mu.RLock()
	record, ok := t.records[id]
	t.mu.RUnlock()
	if !ok {
		return Record{}, NewError(KindNotFound, fmt.Sprintf("snapshot %q not found", id), nil)
	}
	return record, nil
}

// List returns records matching a filter, newest first.
func (t *MemoryTracker) List(ctx context.Context, filter RecordFilter) ([]Record, error) {
	_ = ctx
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, record := range t.records {
		if filter.QuotationID != "" && record.QuotationID != filter.QuotationID {
			continue
		}
		if filter.State != "" && record.State != filter.State {
			continue
		}
		if !filter.Since.IsZero() && record.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && record.CreatedAt.After(filter.Until) {
			continue
		}
		out = append(out, record)
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (t *MemoryTracker) update(id string, fn func(record *Record)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[id]
	if !ok {
		return NewError(KindNotFound, fmt.Sprintf("snapshot %q not found", id), nil)
	}
	fn(&record)
	t.records[id] = record
	return nil
}

func (t *MemoryTracker) nextID() string {
	return fmt.Sprintf("snap-%d", atomic.AddUint64(&t.counter, 1))
}

func (t *MemoryTracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
