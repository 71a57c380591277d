package fetch

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/router-for-me/UsageDeck/internal/models"
)

// Snapshot converts the result into a history row. Detail marshaling
// failures degrade to a row without details rather than dropping the
// observation.
func (r Result) Snapshot() models.UsageSnapshot {
	snapshot := models.UsageSnapshot{
		ProviderID:      r.Report.ProviderID,
		AmountUsed:      r.Report.AmountUsed,
		AmountAvailable: r.Report.AmountAvailable,
		Percentage:      r.Report.Percentage,
		IsAvailable:     r.Report.IsAvailable,
		StatusMessage:   r.Report.StatusMessage,
		NextResetTime:   r.Report.NextResetTime,
		FetchedAt:       time.Now().UTC(),
	}
	if len(r.Report.Details) > 0 {
		if payload, errMarshal := json.Marshal(r.Report.Details); errMarshal == nil {
			snapshot.Details = datatypes.JSON(payload)
		}
	}
	return snapshot
}
