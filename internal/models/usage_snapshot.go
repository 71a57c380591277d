package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageSnapshot is one append-only row per (provider, fetch) time point.
// History is never mutated; retention is indefinite.
type UsageSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID string `gorm:"column:provider_id;type:text;not null;index"` // Related provider ID.

	AmountUsed      float64 `gorm:"not null;default:0"` // Raw used amount.
	AmountAvailable float64 `gorm:"not null;default:0"` // Remaining capacity (quota) or limit (usage).
	Percentage      float64 `gorm:"not null;default:0"` // Clamped to [0,100]; meaning depends on plan kind.

	IsAvailable   bool   `gorm:"not null;default:false"` // Fetch succeeded with usable data.
	StatusMessage string `gorm:"type:text;not null;default:''"`

	NextResetTime *time.Time // Provider-declared reset time, when known.

	FetchedAt time.Time `gorm:"not null;index"` // Fetch timestamp.

	Details datatypes.JSON `gorm:"type:jsonb"` // Ordered sub-line items.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Insertion timestamp.
}

// TableName overrides the default table name.
func (UsageSnapshot) TableName() string {
	return "usage_snapshots"
}

// SnapshotDetail is one sub-line item inside UsageSnapshot.Details.
type SnapshotDetail struct {
	Name        string     `json:"name"`
	Used        string     `json:"used"`
	Description string     `json:"description,omitempty"`
	ResetTime   *time.Time `json:"reset_time,omitempty"`
}
