// Package fetch fans provider fetches out under a bounded concurrency gate
// and normalizes every outcome into a snapshot-shaped result, including
// placeholders for missing integrations and failed calls.
package fetch

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/UsageDeck/internal/models"
	"github.com/router-for-me/UsageDeck/internal/provider"
)

// DefaultGateSize bounds concurrent in-flight provider calls so a large
// provider list cannot saturate outbound connections.
const DefaultGateSize = 6

// Result is one normalized fetch outcome.
type Result struct {
	Report provider.Report

	// ConfigID is the configured provider the report originated from. For
	// dynamic sub-providers it differs from Report.ProviderID.
	ConfigID string

	// Credentialed records whether the originating config carried a usable
	// credential.
	Credentialed bool

	// System marks results for the fixed zero-credential provider set.
	System bool

	// Discovered marks sub-providers that were not in the config set.
	Discovered bool
}

// Engine resolves configs to capabilities and runs the fan-out.
type Engine struct {
	registry *provider.Registry
	gateSize int

	// OnDiscover, when set, is called once per fetch for every sub-provider
	// ID that was not part of the config set. Used to register identities
	// for dynamically discovered providers.
	OnDiscover func(identity models.ProviderIdentity)
}

// NewEngine constructs an Engine. gateSize <= 0 selects the default.
func NewEngine(registry *provider.Registry, gateSize int) *Engine {
	if gateSize <= 0 {
		gateSize = DefaultGateSize
	}
	return &Engine{registry: registry, gateSize: gateSize}
}

// FetchAll fetches usage for every config plus the injected zero-credential
// system providers. Individual provider failures never abort the batch.
// forceAll probes uncredentialed providers too instead of short-circuiting
// them to placeholders. progress, when non-nil, is invoked per result from
// its own goroutine and never blocks the fetch path.
func (e *Engine) FetchAll(ctx context.Context, configs []provider.Config, forceAll bool, progress func(Result)) []Result {
	if e == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	configs = injectSystemConfigs(configs)

	known := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		known[normalizeID(cfg.ID)] = struct{}{}
	}

	sem := make(chan struct{}, e.gateSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []Result

	emit := func(res Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		if progress != nil {
			// Fire and forget: a slow consumer must not stall the batch.
			go progress(res)
		}
	}

	for _, cfg := range configs {
		if cfg.Disabled || normalizeID(cfg.ID) == "" {
			continue
		}

		system := provider.IsSystemProvider(cfg.ID)
		credentialed := cfg.HasCredential()

		// Only the fixed system set is probed without a credential;
		// everything else short-circuits before resolution or any
		// network call.
		if !credentialed && !system && !forceAll {
			emit(placeholder(cfg, system, credentialed, false, "no credential"))
			continue
		}
		capability, ok := e.registry.Resolve(cfg)
		if !ok {
			emit(placeholder(cfg, system, credentialed, false, "integration missing"))
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			emit(placeholder(cfg, system, credentialed, false, "cancelled"))
			continue
		}

		wg.Add(1)
		go func(cfg provider.Config, capability provider.Capability, system, credentialed bool) {
			defer wg.Done()
			defer func() { <-sem }()

			reports, errFetch := capability.Fetch(ctx, cfg)
			if errFetch != nil {
				if provider.IsCredentialError(errFetch) {
					emit(placeholder(cfg, system, credentialed, false, errFetch.Error()))
					return
				}
				log.WithError(errFetch).Warnf("fetch: provider %s failed", normalizeID(cfg.ID))
				emit(placeholder(cfg, system, credentialed, true, errFetch.Error()))
				return
			}

			for _, report := range reports {
				res := Result{
					Report:       report,
					ConfigID:     normalizeID(cfg.ID),
					Credentialed: credentialed,
					System:       system,
				}
				if _, seen := known[normalizeID(report.ProviderID)]; !seen {
					res.Discovered = true
					e.discover(report)
				}
				emit(res)
			}
		}(cfg, capability, system, credentialed)
	}

	wg.Wait()
	return results
}

// discover forwards an identity-registration side effect for a sub-provider
// seen for the first time in this fetch.
func (e *Engine) discover(report provider.Report) {
	if e == nil || e.OnDiscover == nil {
		return
	}
	e.OnDiscover(models.ProviderIdentity{
		ProviderID:  normalizeID(report.ProviderID),
		DisplayName: report.DisplayName,
		PlanKind:    report.PlanKind,
		AccountName: report.AccountName,
		AuthSource:  "discovered",
		IsActive:    true,
	})
}

// injectSystemConfigs appends the fixed zero-credential provider set when
// absent so those providers are always probed.
func injectSystemConfigs(configs []provider.Config) []provider.Config {
	present := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		present[normalizeID(cfg.ID)] = struct{}{}
	}
	out := make([]provider.Config, 0, len(configs)+len(provider.SystemProviderIDs))
	out = append(out, configs...)
	for _, id := range provider.SystemProviderIDs {
		if _, ok := present[id]; ok {
			continue
		}
		out = append(out, provider.Config{ID: id})
	}
	return out
}

// placeholder synthesizes a result for a provider that produced no report.
// available=false marks caller-input problems ("not configured" style);
// available=true keeps backend-errored providers visible with the error
// text.
func placeholder(cfg provider.Config, system, credentialed, available bool, message string) Result {
	planKind := strings.ToLower(strings.TrimSpace(cfg.PlanHint))
	display := strings.TrimSpace(cfg.DisplayName)
	if display == "" {
		display = cfg.ID
	}
	return Result{
		Report: provider.Report{
			ProviderID:    normalizeID(cfg.ID),
			DisplayName:   display,
			PlanKind:      planKind,
			IsAvailable:   available,
			StatusMessage: message,
		},
		ConfigID:     normalizeID(cfg.ID),
		Credentialed: credentialed,
		System:       system,
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
