package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/router-for-me/UsageDeck/internal/models"
)

func openStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(openStoreTestDB(t))
}

func TestUpsertIdentityPreservesNonEmptyFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := models.ProviderIdentity{
		ProviderID:  "OpenAI",
		DisplayName: "OpenAI",
		PlanKind:    models.PlanKindUsage,
		AccountName: "team@example.com",
		IsActive:    true,
	}
	if errUpsert := st.UpsertIdentity(ctx, first); errUpsert != nil {
		t.Fatalf("first upsert: %v", errUpsert)
	}

	placeholder := models.ProviderIdentity{ProviderID: "openai", IsActive: false}
	if errUpsert := st.UpsertIdentity(ctx, placeholder); errUpsert != nil {
		t.Fatalf("placeholder upsert: %v", errUpsert)
	}

	var row models.ProviderIdentity
	if errFind := st.DB().Where("provider_id = ?", "openai").First(&row).Error; errFind != nil {
		t.Fatalf("load identity: %v", errFind)
	}
	if row.DisplayName != "OpenAI" {
		t.Fatalf("display name erased: %q", row.DisplayName)
	}
	if row.AccountName != "team@example.com" {
		t.Fatalf("account name erased: %q", row.AccountName)
	}
	if row.PlanKind != models.PlanKindUsage {
		t.Fatalf("plan kind erased: %q", row.PlanKind)
	}
	if row.IsActive {
		t.Fatalf("is_active should follow the latest write")
	}

	var count int64
	if errCount := st.DB().Model(&models.ProviderIdentity{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count identities: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 identity row, got %d", count)
	}
}

func TestUpsertIdentityUpdatesNonEmptyFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{ProviderID: "codex"}); errUpsert != nil {
		t.Fatalf("first upsert: %v", errUpsert)
	}
	richer := models.ProviderIdentity{
		ProviderID:  "codex",
		DisplayName: "Codex",
		PlanKind:    models.PlanKindQuota,
		IsActive:    true,
	}
	if errUpsert := st.UpsertIdentity(ctx, richer); errUpsert != nil {
		t.Fatalf("second upsert: %v", errUpsert)
	}

	var row models.ProviderIdentity
	if errFind := st.DB().Where("provider_id = ?", "codex").First(&row).Error; errFind != nil {
		t.Fatalf("load identity: %v", errFind)
	}
	if row.DisplayName != "Codex" || row.PlanKind != models.PlanKindQuota || !row.IsActive {
		t.Fatalf("unexpected row after upsert: %+v", row)
	}
}

func TestClampPercentage(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{in: -5, want: 0},
		{in: 0, want: 0},
		{in: 42.5, want: 42.5},
		{in: 150, want: 100},
		{in: math.NaN(), want: 0},
		{in: math.Inf(1), want: 0},
		{in: math.Inf(-1), want: 0},
	}
	for _, tc := range cases {
		if got := ClampPercentage(tc.in); got != tc.want {
			t.Fatalf("ClampPercentage(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAppendHistoryNormalizesAndCreatesIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	snapshots := []models.UsageSnapshot{{
		ProviderID: "Antigravity.Gemini-3-Pro",
		Percentage: 120,
		FetchedAt:  time.Now().UTC(),
	}}
	if errAppend := st.AppendHistory(ctx, snapshots); errAppend != nil {
		t.Fatalf("append history: %v", errAppend)
	}

	var row models.UsageSnapshot
	if errFind := st.DB().First(&row).Error; errFind != nil {
		t.Fatalf("load snapshot: %v", errFind)
	}
	if row.ProviderID != "antigravity.gemini-3-pro" {
		t.Fatalf("provider id not normalized: %q", row.ProviderID)
	}
	if row.Percentage != 100 {
		t.Fatalf("percentage not clamped: %v", row.Percentage)
	}

	var identity models.ProviderIdentity
	if errFind := st.DB().Where("provider_id = ?", "antigravity.gemini-3-pro").First(&identity).Error; errFind != nil {
		t.Fatalf("identity row missing: %v", errFind)
	}
}

func TestPurgeRawOlderThanBoundary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-14 * 24 * time.Hour)

	old := models.RawSnapshot{ProviderID: "codex", RawPayload: "{}", FetchedAt: cutoff.Add(-time.Minute)}
	fresh := models.RawSnapshot{ProviderID: "codex", RawPayload: "{}", FetchedAt: cutoff.Add(time.Minute)}
	if errCreate := st.DB().Create(&old).Error; errCreate != nil {
		t.Fatalf("seed old: %v", errCreate)
	}
	if errCreate := st.DB().Create(&fresh).Error; errCreate != nil {
		t.Fatalf("seed fresh: %v", errCreate)
	}

	purged, errPurge := st.PurgeRawOlderThan(ctx, cutoff)
	if errPurge != nil {
		t.Fatalf("purge: %v", errPurge)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}

	var remaining []models.RawSnapshot
	if errFind := st.DB().Find(&remaining).Error; errFind != nil {
		t.Fatalf("load remaining: %v", errFind)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Fatalf("wrong rows survived: %+v", remaining)
	}
}

func TestLatestPerProviderExcludesInternalRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.UsageSnapshot{
		{ProviderID: "openai", Percentage: 10, IsAvailable: true, FetchedAt: now.Add(-time.Minute)},
		{ProviderID: "openai", Percentage: 20, IsAvailable: true, FetchedAt: now},
		{ProviderID: "internal:selfcheck", Percentage: 1, FetchedAt: now},
	}
	if errAppend := st.AppendHistory(ctx, batch); errAppend != nil {
		t.Fatalf("append history: %v", errAppend)
	}
	if errUpsert := st.UpsertIdentity(ctx, models.ProviderIdentity{
		ProviderID:  "openai",
		DisplayName: "OpenAI",
		PlanKind:    models.PlanKindUsage,
		IsActive:    true,
	}); errUpsert != nil {
		t.Fatalf("upsert identity: %v", errUpsert)
	}

	rows, errQuery := st.LatestPerProvider(ctx)
	if errQuery != nil {
		t.Fatalf("latest per provider: %v", errQuery)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(rows), rows)
	}
	if rows[0].ProviderID != "openai" || rows[0].Percentage != 20 {
		t.Fatalf("expected newest openai row, got %+v", rows[0])
	}
	if rows[0].DisplayName != "OpenAI" {
		t.Fatalf("identity join missing: %+v", rows[0])
	}
}

func TestRecentHistoryLimitsPerProvider(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var batch []models.UsageSnapshot
	for i := 0; i < 4; i++ {
		batch = append(batch,
			models.UsageSnapshot{ProviderID: "openai", Percentage: float64(i), FetchedAt: now},
			models.UsageSnapshot{ProviderID: "claude", Percentage: float64(i), FetchedAt: now},
		)
	}
	if errAppend := st.AppendHistory(ctx, batch); errAppend != nil {
		t.Fatalf("append history: %v", errAppend)
	}

	rows, errQuery := st.RecentHistory(ctx, 2)
	if errQuery != nil {
		t.Fatalf("recent history: %v", errQuery)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	perProvider := map[string]int{}
	for _, row := range rows {
		perProvider[row.ProviderID]++
	}
	if perProvider["openai"] != 2 || perProvider["claude"] != 2 {
		t.Fatalf("unexpected distribution: %v", perProvider)
	}
	// Newest first within each provider.
	if rows[0].ID < rows[1].ID {
		t.Fatalf("expected descending ids, got %d then %d", rows[0].ID, rows[1].ID)
	}
}

func TestHistoryEmpty(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	empty, errEmpty := st.HistoryEmpty(ctx)
	if errEmpty != nil {
		t.Fatalf("history empty: %v", errEmpty)
	}
	if !empty {
		t.Fatalf("expected empty history")
	}

	if errAppend := st.AppendHistory(ctx, []models.UsageSnapshot{{ProviderID: "openai", FetchedAt: time.Now().UTC()}}); errAppend != nil {
		t.Fatalf("append history: %v", errAppend)
	}
	empty, errEmpty = st.HistoryEmpty(ctx)
	if errEmpty != nil {
		t.Fatalf("history empty: %v", errEmpty)
	}
	if empty {
		t.Fatalf("expected non-empty history")
	}
}

func TestAppendResetEventAndQuery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := models.ResetEvent{
			ProviderID:    "codex",
			ResetKind:     models.ResetKindQuota,
			PreviousValue: 90,
			NewValue:      float64(i),
			DetectedAt:    time.Now().UTC(),
		}
		if errAppend := st.AppendResetEvent(ctx, ev); errAppend != nil {
			t.Fatalf("append reset event: %v", errAppend)
		}
	}

	rows, errQuery := st.ResetEventsForProvider(ctx, "CODEX", 2)
	if errQuery != nil {
		t.Fatalf("reset events: %v", errQuery)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID < rows[1].ID {
		t.Fatalf("expected newest first")
	}
}
