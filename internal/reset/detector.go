// Package reset detects quota-reset discontinuities in per-provider usage
// history. The heuristics are best-effort: small resets can be missed and a
// flaky upstream reporting a large legitimate drop can trigger a false
// positive.
package reset

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/UsageDeck/internal/models"
	"github.com/router-for-me/UsageDeck/internal/store"
)

// Thresholds are the detection constants. The defaults mirror observed
// provider behavior and are surfaced as configuration rather than being
// baked in; they may need per-provider tuning.
type Thresholds struct {
	// ScheduleBuffer is how much later a provider-declared reset time must
	// move before a schedule reset is reported.
	ScheduleBuffer time.Duration

	// QuotaPrevMinPercent is the minimum previous effective-used percentage
	// for the quota rule to arm.
	QuotaPrevMinPercent float64

	// QuotaDropRatio is the fraction of the previous effective-used
	// percentage the current value must fall below.
	QuotaDropRatio float64

	// UsageDropRatio is the fraction of the previous used amount the drop
	// must exceed for usage-based providers.
	UsageDropRatio float64
}

// DefaultThresholds returns the stock detection constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ScheduleBuffer:      time.Minute,
		QuotaPrevMinPercent: 50,
		QuotaDropRatio:      0.3,
		UsageDropRatio:      0.2,
	}
}

// Detector inspects the last two history rows per provider and appends
// reset events.
type Detector struct {
	store      *store.Store
	thresholds Thresholds
}

// NewDetector constructs a Detector. Zero-value thresholds fall back to the
// defaults field by field.
func NewDetector(st *store.Store, thresholds Thresholds) *Detector {
	defaults := DefaultThresholds()
	if thresholds.ScheduleBuffer <= 0 {
		thresholds.ScheduleBuffer = defaults.ScheduleBuffer
	}
	if thresholds.QuotaPrevMinPercent <= 0 {
		thresholds.QuotaPrevMinPercent = defaults.QuotaPrevMinPercent
	}
	if thresholds.QuotaDropRatio <= 0 {
		thresholds.QuotaDropRatio = defaults.QuotaDropRatio
	}
	if thresholds.UsageDropRatio <= 0 {
		thresholds.UsageDropRatio = defaults.UsageDropRatio
	}
	return &Detector{store: st, thresholds: thresholds}
}

// Detect runs detection for the given providers (normally the just-written
// batch) and appends one reset event per triggering provider. A bad row for
// one provider never blocks detection for the others. Returns the number of
// events appended.
func (d *Detector) Detect(ctx context.Context, providerIDs []string) (int, error) {
	if d == nil || d.store == nil {
		return 0, errors.New("reset: detector not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(providerIDs) == 0 {
		return 0, nil
	}

	history, errHistory := d.store.RecentHistory(ctx, 2)
	if errHistory != nil {
		return 0, errHistory
	}

	// RecentHistory returns rows newest first within each provider.
	byProvider := make(map[string][]models.UsageSnapshot)
	for _, row := range history {
		byProvider[row.ProviderID] = append(byProvider[row.ProviderID], row)
	}

	identities, errIdentities := d.store.IdentitiesByID(ctx, providerIDs)
	if errIdentities != nil {
		return 0, errIdentities
	}

	emitted := 0
	for _, rawID := range providerIDs {
		id := store.NormalizeProviderID(rawID)
		rows := byProvider[id]
		if len(rows) < 2 {
			continue
		}
		current, previous := rows[0], rows[1]

		identity := identities[id]
		event, triggered := d.evaluate(identity, previous, current)
		if !triggered {
			continue
		}
		if errAppend := d.store.AppendResetEvent(ctx, event); errAppend != nil {
			log.WithError(errAppend).Warnf("reset: append event failed (provider=%s)", id)
			continue
		}
		emitted++
		log.Infof("reset: detected %s reset for %s (%.2f -> %.2f)",
			event.ResetKind, id, event.PreviousValue, event.NewValue)
	}
	return emitted, nil
}

// evaluate applies the detection rules in order; the first match wins.
func (d *Detector) evaluate(identity models.ProviderIdentity, previous, current models.UsageSnapshot) (models.ResetEvent, bool) {
	// Rows without usable data carry zeros that would look like resets.
	if !previous.IsAvailable || !current.IsAvailable {
		return models.ResetEvent{}, false
	}

	event := models.ResetEvent{
		ProviderID:          current.ProviderID,
		ProviderDisplayName: identity.DisplayName,
		PreviousValue:       previous.AmountUsed,
		NewValue:            current.AmountUsed,
		DetectedAt:          time.Now().UTC(),
	}

	// 1. Schedule: the provider-declared reset time moved forward.
	if previous.NextResetTime != nil && current.NextResetTime != nil &&
		current.NextResetTime.After(previous.NextResetTime.Add(d.thresholds.ScheduleBuffer)) {
		event.ResetKind = models.ResetKindSchedule
		return event, true
	}

	prevEffective := effectiveUsedPercent(identity.PlanKind, previous.Percentage)
	currEffective := effectiveUsedPercent(identity.PlanKind, current.Percentage)

	// 2. Quota heuristic: a heavily used quota window snapped back.
	if identity.PlanKind == models.PlanKindQuota &&
		prevEffective > d.thresholds.QuotaPrevMinPercent &&
		currEffective < prevEffective*d.thresholds.QuotaDropRatio {
		event.ResetKind = models.ResetKindQuota
		return event, true
	}

	// 3. Usage drop: a cumulative usage counter went sharply backwards.
	if identity.PlanKind == models.PlanKindUsage &&
		previous.AmountUsed > current.AmountUsed &&
		previous.AmountUsed-current.AmountUsed > previous.AmountUsed*d.thresholds.UsageDropRatio {
		event.ResetKind = models.ResetKindUsage
		return event, true
	}

	return models.ResetEvent{}, false
}

// effectiveUsedPercent normalizes the stored percentage into "how much is
// consumed": quota plans store remaining capacity, usage plans store
// consumption.
func effectiveUsedPercent(planKind string, percentage float64) float64 {
	if planKind == models.PlanKindQuota {
		return 100 - percentage
	}
	return percentage
}
