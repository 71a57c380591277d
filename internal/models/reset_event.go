package models

import "time"

// Reset kinds stored on ResetEvent.ResetKind.
const (
	ResetKindQuota    = "quota"
	ResetKindUsage    = "usage"
	ResetKindSchedule = "schedule"
)

// ResetEvent records a detected quota/usage reset. Append-only, kept forever.
type ResetEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID          string `gorm:"column:provider_id;type:text;not null;index"` // Related provider ID.
	ProviderDisplayName string `gorm:"type:text;not null;default:''"`               // Display name at detection time.

	PreviousValue float64 `gorm:"not null;default:0"` // Raw used amount before the reset.
	NewValue      float64 `gorm:"not null;default:0"` // Raw used amount after the reset.

	ResetKind string `gorm:"type:text;not null;default:''"` // "quota", "usage" or "schedule".

	DetectedAt time.Time `gorm:"not null;index"` // Detection timestamp.
}

// TableName overrides the default table name.
func (ResetEvent) TableName() string {
	return "reset_events"
}
