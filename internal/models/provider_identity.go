package models

import (
	"time"

	"gorm.io/datatypes"
)

// Plan kinds stored on ProviderIdentity.PlanKind.
const (
	PlanKindUsage = "usage" // Percentage counts consumed capacity.
	PlanKindQuota = "quota" // Percentage counts remaining capacity.
)

// ProviderIdentity is one row per known provider, including sub-providers
// discovered during a fetch. Rows are upserted by ProviderID and never
// deleted by runtime code.
type ProviderIdentity struct {
	ProviderID string `gorm:"column:provider_id;type:text;primaryKey"` // Lower-case unique ID.

	DisplayName string `gorm:"type:text;not null;default:''"` // Human readable name.
	PlanKind    string `gorm:"type:text;not null;default:''"` // "usage" or "quota".
	AuthSource  string `gorm:"type:text;not null;default:''"` // Credential provenance.
	AccountName string `gorm:"type:text;not null;default:''"` // Optional account label.

	IsActive bool `gorm:"not null;default:false"` // Whether a usable credential exists.

	ExtraConfig datatypes.JSON `gorm:"type:jsonb"` // Opaque forward-compat blob.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (ProviderIdentity) TableName() string {
	return "provider_identities"
}
