package models

import "time"

// RawSnapshot keeps the raw upstream response alongside a usage snapshot.
// Rows older than the raw retention window are purged by a periodic sweep.
type RawSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID string `gorm:"column:provider_id;type:text;not null;index"` // Related provider ID.

	RawPayload string `gorm:"type:text;not null;default:''"` // Upstream body, typically JSON.
	HTTPStatus int    `gorm:"not null;default:0"`            // Upstream HTTP status.

	FetchedAt time.Time `gorm:"not null;index"` // Fetch timestamp, drives the TTL sweep.
}

// TableName overrides the default table name.
func (RawSnapshot) TableName() string {
	return "raw_snapshots"
}
