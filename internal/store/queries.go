package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/router-for-me/UsageDeck/internal/models"
)

// LatestSnapshot is the newest usage snapshot for a provider joined with its
// identity display data.
type LatestSnapshot struct {
	ProviderID      string         `gorm:"column:provider_id" json:"provider_id"`
	DisplayName     string         `gorm:"column:display_name" json:"display_name"`
	PlanKind        string         `gorm:"column:plan_kind" json:"plan_kind"`
	AccountName     string         `gorm:"column:account_name" json:"account_name,omitempty"`
	IsActive        bool           `gorm:"column:is_active" json:"is_active"`
	AmountUsed      float64        `gorm:"column:amount_used" json:"amount_used"`
	AmountAvailable float64        `gorm:"column:amount_available" json:"amount_available"`
	Percentage      float64        `gorm:"column:percentage" json:"percentage"`
	IsAvailable     bool           `gorm:"column:is_available" json:"is_available"`
	StatusMessage   string         `gorm:"column:status_message" json:"status_message,omitempty"`
	NextResetTime   *time.Time     `gorm:"column:next_reset_time" json:"next_reset_time,omitempty"`
	FetchedAt       time.Time      `gorm:"column:fetched_at" json:"fetched_at"`
	Details         datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
}

// LatestPerProvider returns the most recent snapshot per provider by
// insertion order, joined with identity display data. Internal probe rows
// are excluded.
func (s *Store) LatestPerProvider(ctx context.Context) ([]LatestSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []LatestSnapshot
	errScan := s.db.WithContext(ctx).Raw(`
		SELECT u.provider_id,
		       COALESCE(i.display_name, '') AS display_name,
		       COALESCE(i.plan_kind, '') AS plan_kind,
		       COALESCE(i.account_name, '') AS account_name,
		       COALESCE(i.is_active, FALSE) AS is_active,
		       u.amount_used, u.amount_available, u.percentage,
		       u.is_available, u.status_message, u.next_reset_time,
		       u.fetched_at, u.details
		FROM usage_snapshots u
		JOIN (
			SELECT provider_id, MAX(id) AS max_id
			FROM usage_snapshots
			GROUP BY provider_id
		) last ON last.max_id = u.id
		LEFT JOIN provider_identities i ON i.provider_id = u.provider_id
		WHERE u.provider_id NOT LIKE ?
		ORDER BY u.provider_id ASC
	`, internalProviderPrefix+"%").Scan(&rows).Error
	if errScan != nil {
		return nil, errScan
	}
	return rows, nil
}

// HistoryForProvider returns the most recent snapshots for one provider,
// newest first, bounded by limit.
func (s *Store) HistoryForProvider(ctx context.Context, providerID string, limit int) ([]models.UsageSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []models.UsageSnapshot
	errFind := s.db.WithContext(ctx).
		Where("provider_id = ?", NormalizeProviderID(providerID)).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// RecentHistory returns up to perProvider most recent snapshots for every
// provider in a single query, newest first within each provider. The reset
// detector uses this to avoid one query per provider.
func (s *Store) RecentHistory(ctx context.Context, perProvider int) ([]models.UsageSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if perProvider <= 0 {
		perProvider = 2
	}

	var rows []models.UsageSnapshot
	errScan := s.db.WithContext(ctx).Raw(`
		SELECT * FROM (
			SELECT u.*, ROW_NUMBER() OVER (PARTITION BY provider_id ORDER BY id DESC) AS row_rank
			FROM usage_snapshots u
		) ranked
		WHERE ranked.row_rank <= ?
		ORDER BY provider_id ASC, id DESC
	`, perProvider).Scan(&rows).Error
	if errScan != nil {
		return nil, errScan
	}
	return rows, nil
}

// ResetEventsForProvider returns the most recent reset events for one
// provider, newest first, bounded by limit.
func (s *Store) ResetEventsForProvider(ctx context.Context, providerID string, limit int) ([]models.ResetEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []models.ResetEvent
	errFind := s.db.WithContext(ctx).
		Where("provider_id = ?", NormalizeProviderID(providerID)).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// IdentitiesByID loads identities for a set of providers in one query,
// keyed by normalized provider ID.
func (s *Store) IdentitiesByID(ctx context.Context, providerIDs []string) (map[string]models.ProviderIdentity, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(providerIDs) == 0 {
		return map[string]models.ProviderIdentity{}, nil
	}

	normalized := make([]string, 0, len(providerIDs))
	for _, id := range providerIDs {
		if id = NormalizeProviderID(id); id != "" {
			normalized = append(normalized, id)
		}
	}

	var rows []models.ProviderIdentity
	if errFind := s.db.WithContext(ctx).
		Where("provider_id IN ?", normalized).
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}

	out := make(map[string]models.ProviderIdentity, len(rows))
	for _, row := range rows {
		out[row.ProviderID] = row
	}
	return out, nil
}

// HistoryEmpty reports whether no usage snapshot has ever been written. The
// orchestrator uses this for its first-run seeding check.
func (s *Store) HistoryEmpty(ctx context.Context) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.UsageSnapshot{}).
		Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count == 0, nil
}
