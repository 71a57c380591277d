// Package store is the persistence layer for provider identities, usage
// history, raw payloads and reset events. All writes are serialized through
// a single writer mutex; reads go straight to the pooled connections.
package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/router-for-me/UsageDeck/internal/models"
)

// internalProviderPrefix marks self-test and probe rows that must never show
// up in dashboard queries.
const internalProviderPrefix = "internal:"

// Store wraps the GORM connection with the write serialization the embedded
// database needs.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// New constructs a Store around an opened connection.
func New(conn *gorm.DB) *Store {
	if conn == nil {
		return nil
	}
	return &Store{db: conn}
}

// DB exposes the underlying connection for read-only collaborators.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// NormalizeProviderID lowers and trims a provider ID. Provider IDs compare
// case-insensitively everywhere, so they are stored normalized.
func NormalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ClampPercentage forces a percentage into [0,100]. NaN and infinities
// collapse to 0 so a broken upstream value can never poison the series.
func ClampPercentage(pct float64) float64 {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// UpsertIdentity inserts or updates a provider identity keyed by provider_id.
// On conflict only non-empty incoming fields overwrite stored values, so a
// placeholder write cannot erase a previously known display or account name.
func (s *Store) UpsertIdentity(ctx context.Context, identity models.ProviderIdentity) error {
	if s == nil || s.db == nil {
		return errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	identity.ProviderID = NormalizeProviderID(identity.ProviderID)
	if identity.ProviderID == "" {
		return errors.New("store: empty provider id")
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	// A true conflict-update: replace-by-delete would transiently orphan
	// history rows referencing the identity.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"display_name": gorm.Expr("CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE provider_identities.display_name END"),
			"plan_kind":    gorm.Expr("CASE WHEN excluded.plan_kind <> '' THEN excluded.plan_kind ELSE provider_identities.plan_kind END"),
			"auth_source":  gorm.Expr("CASE WHEN excluded.auth_source <> '' THEN excluded.auth_source ELSE provider_identities.auth_source END"),
			"account_name": gorm.Expr("CASE WHEN excluded.account_name <> '' THEN excluded.account_name ELSE provider_identities.account_name END"),
			"extra_config": gorm.Expr("CASE WHEN excluded.extra_config IS NOT NULL THEN excluded.extra_config ELSE provider_identities.extra_config END"),
			"is_active":    gorm.Expr("excluded.is_active"),
			"updated_at":   now,
		}),
	}).Create(&identity).Error
}

// AppendHistory appends usage snapshots and upserts a minimal identity row
// for each snapshot's provider, since history can arrive for dynamically
// discovered sub-providers that were never configured.
func (s *Store) AppendHistory(ctx context.Context, snapshots []models.UsageSnapshot) error {
	if s == nil || s.db == nil {
		return errors.New("store: not initialized")
	}
	if len(snapshots) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	for i := range snapshots {
		snapshots[i].ProviderID = NormalizeProviderID(snapshots[i].ProviderID)
		snapshots[i].Percentage = ClampPercentage(snapshots[i].Percentage)
		if snapshots[i].FetchedAt.IsZero() {
			snapshots[i].FetchedAt = now
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range snapshots {
			identity := models.ProviderIdentity{
				ProviderID: snapshots[i].ProviderID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if errUpsert := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "provider_id"}},
				DoNothing: true,
			}).Create(&identity).Error; errUpsert != nil {
				return errUpsert
			}
		}
		return tx.Create(&snapshots).Error
	})
}

// AppendRaw stores a raw upstream payload tagged with the current time.
func (s *Store) AppendRaw(ctx context.Context, providerID, payload string, httpStatus int) error {
	if s == nil || s.db == nil {
		return errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := models.RawSnapshot{
		ProviderID: NormalizeProviderID(providerID),
		RawPayload: payload,
		HTTPStatus: httpStatus,
		FetchedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Create(&row).Error
}

// PurgeRawOlderThan deletes raw snapshots fetched strictly before cutoff.
// It touches only the raw_snapshots table.
func (s *Store) PurgeRawOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).
		Where("fetched_at < ?", cutoff.UTC()).
		Delete(&models.RawSnapshot{})
	return res.RowsAffected, res.Error
}

// AppendResetEvent appends a detected reset. Events are never mutated.
func (s *Store) AppendResetEvent(ctx context.Context, ev models.ResetEvent) error {
	if s == nil || s.db == nil {
		return errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ev.ProviderID = NormalizeProviderID(ev.ProviderID)
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Create(&ev).Error
}
