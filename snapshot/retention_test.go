package snapshot

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestRetentionRules_TTL(t *testing.T) {
	rules := RetentionRules{
		DefaultTTL: 24 * time.Hour,
		ByVariant:  map[string]time.Duration{VariantInterna: 2 * time.Hour},
		ByState:    map[State]time.Duration{StateFailed: time.Hour},
		Rules: []RetentionRule{
			{State: StateSkipped, TTL: 10 * time.Minute},
			{Variant: VariantCliente, State: StateSkipped, TTL: 5 * time.Minute},
		},
	}

	cases := []struct {
		name   string
		record Record
		want   time.Duration
	}{
		{"most specific rule", Record{Variant: VariantCliente, State: StateSkipped}, 5 * time.Minute},
		{"state rule", Record{Variant: VariantInterna, State: StateSkipped}, 10 * time.Minute},
		{"by variant", Record{Variant: VariantInterna, State: StateCompleted}, 2 * time.Hour},
		{"by state", Record{Variant: VariantCliente, State: StateFailed}, time.Hour},
		{"default", Record{Variant: VariantCliente, State: StateCompleted}, 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rules.TTL(tc.record); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRetentionRules_Expired(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := RetentionRules{DefaultTTL: time.Hour}

	if !rules.Expired(Record{State: StateCompleted, CreatedAt: now.Add(-time.Hour)}, now) {
		t.Fatal("expected record at ttl boundary to expire")
	}
	if rules.Expired(Record{State: StateCompleted, CreatedAt: now.Add(-time.Minute)}, now) {
		t.Fatal("fresh record should not expire")
	}
	if rules.Expired(Record{State: StateRunning, CreatedAt: now.Add(-48 * time.Hour)}, now) {
		t.Fatal("running records never expire")
	}
	if (RetentionRules{}).Expired(Record{State: StateCompleted, CreatedAt: now.Add(-48 * time.Hour)}, now) {
		t.Fatal("zero ttl keeps records")
	}
}

func TestCleanup_RemovesExpiredRecordsAndArtifacts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker()
	store := NewMemoryStore()

	oldID, _ := tracker.Start(ctx, Record{Variant: VariantCliente, CreatedAt: now.Add(-3 * time.Hour)})
	_ = tracker.Complete(ctx, oldID, Download{Filename: "cotizacion_1.jpg"}, "cotizaciones/cotizacion_1.jpg")
	_, _ = store.Put(ctx, "cotizaciones/cotizacion_1.jpg", bytes.NewReader([]byte("jpg")), ArtifactMeta{})

	freshID, _ := tracker.Start(ctx, Record{Variant: VariantCliente, CreatedAt: now.Add(-time.Minute)})
	_ = tracker.Complete(ctx, freshID, Download{Filename: "cotizacion_2.jpg"}, "")

	runningID, _ := tracker.Start(ctx, Record{CreatedAt: now.Add(-5 * time.Hour)})

	deleted, err := Cleanup(ctx, tracker, store, RetentionRules{DefaultTTL: time.Hour}, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one deletion, got %d", deleted)
	}
	if _, err := tracker.Status(ctx, oldID); KindFromError(err) != KindNotFound {
		t.Fatalf("expected old record removed, got %v", err)
	}
	if _, _, err := store.Open(ctx, "cotizaciones/cotizacion_1.jpg"); KindFromError(err) != KindNotFound {
		t.Fatalf("expected artifact removed, got %v", err)
	}
	for _, id := range []string{freshID, runningID} {
		if _, err := tracker.Status(ctx, id); err != nil {
			t.Fatalf("expected %s kept: %v", id, err)
		}
	}
}

type listOnlyTracker struct{ Tracker }

func TestCleanup_RequiresDeleter(t *testing.T) {
	_, err := Cleanup(context.Background(), listOnlyTracker{NewMemoryTracker()}, nil, RetentionRules{}, time.Time{})
	if KindFromError(err) != KindNotImpl {
		t.Fatalf("expected not implemented, got %v", err)
	}
	if _, err := Cleanup(context.Background(), nil, nil, RetentionRules{}, time.Time{}); KindFromError(err) != KindNotImpl {
		t.Fatalf("expected not implemented without tracker, got %v", err)
	}
}
