// Package refresh schedules usage refresh cycles and persists their results.
package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/router-for-me/UsageDeck/internal/config"
	"github.com/router-for-me/UsageDeck/internal/fetch"
	"github.com/router-for-me/UsageDeck/internal/models"
	"github.com/router-for-me/UsageDeck/internal/reset"
	"github.com/router-for-me/UsageDeck/internal/store"
)

const refreshKey = "refresh"

// Summary describes one completed refresh cycle.
type Summary struct {
	Generation  string        `json:"generation"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Configured  int           `json:"configured"`
	Fetched     int           `json:"fetched"`
	Persisted   int           `json:"persisted"`
	ResetEvents int           `json:"reset_events"`
	RawPurged   int64         `json:"raw_purged"`
}

// Orchestrator owns the refresh schedule. All refresh requests, scheduled or
// manual, funnel through a singleflight group so concurrent callers share one
// provider fetch batch.
type Orchestrator struct {
	configs  *config.Store
	store    *store.Store
	engine   *fetch.Engine
	detector *reset.Detector
	group    singleflight.Group
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(configs *config.Store, st *store.Store, engine *fetch.Engine, detector *reset.Detector) *Orchestrator {
	if configs == nil || st == nil || engine == nil {
		return nil
	}
	return &Orchestrator{
		configs:  configs,
		store:    st,
		engine:   engine,
		detector: detector,
	}
}

// Trigger runs a refresh cycle, joining an in-flight one when present. Every
// caller of a shared cycle receives the same summary. forceAll probes
// uncredentialed providers too.
func (o *Orchestrator) Trigger(ctx context.Context, forceAll bool) (*Summary, error) {
	if o == nil {
		return nil, errors.New("refresh: orchestrator not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Joined callers share the cycle's result, so the cycle runs detached
	// from the triggering caller's context. Cancelling one request must not
	// fail the batch for everyone else.
	cycleCtx := context.WithoutCancel(ctx)
	result, errCycle, shared := o.group.Do(refreshKey, func() (interface{}, error) {
		return o.cycle(cycleCtx, forceAll)
	})
	if errCycle != nil {
		return nil, errCycle
	}
	summary, ok := result.(*Summary)
	if !ok {
		return nil, errors.New("refresh: unexpected cycle result")
	}
	if shared {
		log.Debugf("refresh: joined in-flight cycle (generation=%s)", summary.Generation)
	}
	return summary, nil
}

// Start launches the scheduler loop in a background goroutine.
func (o *Orchestrator) Start(ctx context.Context) {
	if o == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go o.run(ctx)
	log.Infof("refresh: scheduler started (interval=%s quiet=%s)",
		o.configs.Current().Refresh.Interval(), o.configs.Current().Refresh.QuietPeriod())
}

func (o *Orchestrator) run(ctx context.Context) {
	o.seedIfEmpty(ctx)

	wait := o.configs.Current().Refresh.QuietPeriod()
	for {
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
		if _, errCycle := o.Trigger(ctx, false); errCycle != nil && !errors.Is(errCycle, context.Canceled) {
			log.WithError(errCycle).Warn("refresh: scheduled cycle failed")
		}
		wait = o.configs.Current().Refresh.Interval()
	}
}

// seedIfEmpty runs an immediate refresh when the history table has no rows,
// so a fresh install shows data without waiting out the quiet period.
func (o *Orchestrator) seedIfEmpty(ctx context.Context) {
	empty, errEmpty := o.store.HistoryEmpty(ctx)
	if errEmpty != nil {
		log.WithError(errEmpty).Warn("refresh: history check failed, skipping seed")
		return
	}
	if !empty {
		return
	}
	log.Info("refresh: no history found, seeding initial snapshot")
	if _, errCycle := o.Trigger(ctx, true); errCycle != nil && !errors.Is(errCycle, context.Canceled) {
		log.WithError(errCycle).Warn("refresh: seed cycle failed")
	}
}

func (o *Orchestrator) cycle(ctx context.Context, forceAll bool) (*Summary, error) {
	started := time.Now()
	generation := uuid.NewString()

	// A forced refresh re-reads the configuration so newly added providers
	// are probed in the same cycle. Load failures fail the forced trigger.
	cfg := o.configs.Current()
	if forceAll {
		fresh, errReload := o.configs.Reload()
		if errReload != nil {
			return nil, errReload
		}
		cfg = fresh
	}
	providers := cfg.Providers

	log.Debugf("refresh: cycle started (generation=%s configured=%d)", generation, len(providers))

	results := o.engine.FetchAll(ctx, providers, forceAll, nil)

	identities := make([]models.ProviderIdentity, 0, len(providers))
	for i := range providers {
		if identity, ok := identityFromConfig(providers[i]); ok {
			identities = append(identities, identity)
		}
	}
	for i := range identities {
		if errUpsert := o.store.UpsertIdentity(ctx, identities[i]); errUpsert != nil {
			log.WithError(errUpsert).Warnf("refresh: identity upsert failed (provider=%s)", identities[i].ProviderID)
			return nil, errUpsert
		}
	}

	snapshots := make([]models.UsageSnapshot, 0, len(results))
	seen := make([]string, 0, len(results))
	for i := range results {
		res := results[i]
		if !res.Credentialed && !res.System && !res.Discovered {
			continue
		}
		snapshots = append(snapshots, res.Snapshot())
		seen = append(seen, res.Report.ProviderID)
		if len(res.Report.RawPayload) > 0 {
			if errRaw := o.store.AppendRaw(ctx, res.Report.ProviderID, res.Report.RawPayload, res.Report.RawStatus); errRaw != nil {
				log.WithError(errRaw).Warnf("refresh: raw append failed (provider=%s)", res.Report.ProviderID)
				return nil, errRaw
			}
		}
	}
	if len(snapshots) > 0 {
		if errHistory := o.store.AppendHistory(ctx, snapshots); errHistory != nil {
			log.WithError(errHistory).Warn("refresh: history append failed")
			return nil, errHistory
		}
	}

	resetCount := 0
	if o.detector != nil && len(seen) > 0 {
		detected, errDetect := o.detector.Detect(ctx, seen)
		if errDetect != nil {
			log.WithError(errDetect).Warn("refresh: reset detection failed")
		} else {
			resetCount = detected
		}
	}

	purged, errPurge := o.store.PurgeRawOlderThan(ctx, started.Add(-cfg.Retention.RawWindow()))
	if errPurge != nil {
		log.WithError(errPurge).Warn("refresh: raw purge failed")
	}

	summary := &Summary{
		Generation:  generation,
		StartedAt:   started.UTC(),
		Duration:    time.Since(started),
		Configured:  len(providers),
		Fetched:     len(results),
		Persisted:   len(snapshots),
		ResetEvents: resetCount,
		RawPurged:   purged,
	}
	log.Infof("refresh: cycle done (generation=%s fetched=%d persisted=%d resets=%d took=%s)",
		generation, summary.Fetched, summary.Persisted, summary.ResetEvents, summary.Duration.Round(time.Millisecond))
	return summary, nil
}
