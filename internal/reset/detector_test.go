package reset

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/router-for-me/UsageDeck/internal/models"
	"github.com/router-for-me/UsageDeck/internal/store"
)

func newDetectorTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:reset_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(
		&models.ProviderIdentity{},
		&models.UsageSnapshot{},
		&models.RawSnapshot{},
		&models.ResetEvent{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return store.New(db)
}

func appendPair(t *testing.T, st *store.Store, providerID string, previous, current models.UsageSnapshot) {
	t.Helper()
	ctx := context.Background()
	previous.ProviderID = providerID
	current.ProviderID = providerID
	if previous.FetchedAt.IsZero() {
		previous.FetchedAt = time.Now().UTC().Add(-5 * time.Minute)
	}
	if current.FetchedAt.IsZero() {
		current.FetchedAt = time.Now().UTC()
	}
	if errAppend := st.AppendHistory(ctx, []models.UsageSnapshot{previous}); errAppend != nil {
		t.Fatalf("append previous: %v", errAppend)
	}
	if errAppend := st.AppendHistory(ctx, []models.UsageSnapshot{current}); errAppend != nil {
		t.Fatalf("append current: %v", errAppend)
	}
}

func TestDetectQuotaReset(t *testing.T) {
	st := newDetectorTestStore(t)
	ctx := context.Background()

	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{
		ProviderID:  "codex",
		DisplayName: "Codex",
		PlanKind:    models.PlanKindQuota,
	}); errUpsert != nil {
		t.Fatalf("upsert identity: %v", errUpsert)
	}
	// Quota plans store remaining capacity: 10% left, then 90% left.
	appendPair(t, st, "codex",
		models.UsageSnapshot{Percentage: 10, AmountUsed: 90, IsAvailable: true},
		models.UsageSnapshot{Percentage: 90, AmountUsed: 10, IsAvailable: true},
	)

	detector := NewDetector(st, Thresholds{})
	emitted, errDetect := detector.Detect(ctx, []string{"codex"})
	if errDetect != nil {
		t.Fatalf("detect: %v", errDetect)
	}
	if emitted != 1 {
		t.Fatalf("expected 1 event, got %d", emitted)
	}

	events, errQuery := st.ResetEventsForProvider(ctx, "codex", 10)
	if errQuery != nil {
		t.Fatalf("query events: %v", errQuery)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	ev := events[0]
	if ev.ResetKind != models.ResetKindQuota {
		t.Fatalf("expected quota reset, got %q", ev.ResetKind)
	}
	if ev.PreviousValue != 90 || ev.NewValue != 10 {
		t.Fatalf("expected raw amounts 90 -> 10, got %v -> %v", ev.PreviousValue, ev.NewValue)
	}
	if ev.ProviderDisplayName != "Codex" {
		t.Fatalf("display name missing: %q", ev.ProviderDisplayName)
	}
}

func TestDetectUsageDrop(t *testing.T) {
	st := newDetectorTestStore(t)
	ctx := context.Background()

	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{
		ProviderID: "openai",
		PlanKind:   models.PlanKindUsage,
	}); errUpsert != nil {
		t.Fatalf("upsert identity: %v", errUpsert)
	}
	appendPair(t, st, "openai",
		models.UsageSnapshot{Percentage: 80, AmountUsed: 800, IsAvailable: true},
		models.UsageSnapshot{Percentage: 5, AmountUsed: 50, IsAvailable: true},
	)

	detector := NewDetector(st, Thresholds{})
	emitted, errDetect := detector.Detect(ctx, []string{"openai"})
	if errDetect != nil {
		t.Fatalf("detect: %v", errDetect)
	}
	if emitted != 1 {
		t.Fatalf("expected 1 event, got %d", emitted)
	}

	events, _ := st.ResetEventsForProvider(ctx, "openai", 10)
	if len(events) != 1 || events[0].ResetKind != models.ResetKindUsage {
		t.Fatalf("expected usage reset event, got %+v", events)
	}
}

func TestDetectScheduleResetWinsOverQuota(t *testing.T) {
	st := newDetectorTestStore(t)
	ctx := context.Background()

	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{
		ProviderID: "codex",
		PlanKind:   models.PlanKindQuota,
	}); errUpsert != nil {
		t.Fatalf("upsert identity: %v", errUpsert)
	}
	prevReset := time.Now().UTC().Add(time.Hour)
	currReset := prevReset.Add(5 * time.Hour)
	appendPair(t, st, "codex",
		models.UsageSnapshot{Percentage: 10, AmountUsed: 90, IsAvailable: true, NextResetTime: &prevReset},
		models.UsageSnapshot{Percentage: 90, AmountUsed: 10, IsAvailable: true, NextResetTime: &currReset},
	)

	detector := NewDetector(st, Thresholds{})
	if _, errDetect := detector.Detect(ctx, []string{"codex"}); errDetect != nil {
		t.Fatalf("detect: %v", errDetect)
	}

	events, _ := st.ResetEventsForProvider(ctx, "codex", 10)
	if len(events) != 1 || events[0].ResetKind != models.ResetKindSchedule {
		t.Fatalf("expected schedule reset to win, got %+v", events)
	}
}

func TestDetectNeedsTwoRows(t *testing.T) {
	st := newDetectorTestStore(t)
	ctx := context.Background()

	if errAppend := st.AppendHistory(ctx, []models.UsageSnapshot{{
		ProviderID:  "codex",
		Percentage:  10,
		IsAvailable: true,
		FetchedAt:   time.Now().UTC(),
	}}); errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}

	detector := NewDetector(st, Thresholds{})
	emitted, errDetect := detector.Detect(ctx, []string{"codex"})
	if errDetect != nil {
		t.Fatalf("detect: %v", errDetect)
	}
	if emitted != 0 {
		t.Fatalf("expected no events with one row, got %d", emitted)
	}
}

func TestDetectSkipsUnavailableRows(t *testing.T) {
	st := newDetectorTestStore(t)
	ctx := context.Background()

	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{
		ProviderID: "codex",
		PlanKind:   models.PlanKindQuota,
	}); errUpsert != nil {
		t.Fatalf("upsert identity: %v", errUpsert)
	}
	appendPair(t, st, "codex",
		models.UsageSnapshot{Percentage: 10, AmountUsed: 90, IsAvailable: true},
		models.UsageSnapshot{Percentage: 0, AmountUsed: 0, IsAvailable: false},
	)

	detector := NewDetector(st, Thresholds{})
	emitted, errDetect := detector.Detect(ctx, []string{"codex"})
	if errDetect != nil {
		t.Fatalf("detect: %v", errDetect)
	}
	if emitted != 0 {
		t.Fatalf("expected no events for unavailable row, got %d", emitted)
	}
}

func TestDetectSmallDropIgnored(t *testing.T) {
	st := newDetectorTestStore(t)
	ctx := context.Background()

	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{
		ProviderID: "openai",
		PlanKind:   models.PlanKindUsage,
	}); errUpsert != nil {
		t.Fatalf("upsert identity: %v", errUpsert)
	}
	appendPair(t, st, "openai",
		models.UsageSnapshot{Percentage: 50, AmountUsed: 500, IsAvailable: true},
		models.UsageSnapshot{Percentage: 45, AmountUsed: 450, IsAvailable: true},
	)

	detector := NewDetector(st, Thresholds{})
	emitted, errDetect := detector.Detect(ctx, []string{"openai"})
	if errDetect != nil {
		t.Fatalf("detect: %v", errDetect)
	}
	if emitted != 0 {
		t.Fatalf("expected no events for a 10%% drop, got %d", emitted)
	}
}
