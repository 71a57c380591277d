// Package provider defines the capability boundary for external usage APIs
// and the registry that resolves configured providers to capabilities.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/router-for-me/UsageDeck/internal/models"
)

// Config is one configured provider entry as loaded from the config file.
type Config struct {
	ID          string            `yaml:"id"`
	DisplayName string            `yaml:"display_name"`
	APIKey      string            `yaml:"api_key"`
	PlanHint    string            `yaml:"plan_hint"` // "usage" or "quota", when known.
	Payment     string            `yaml:"payment"`   // "api-key" enables the generic fallback.
	BaseURL     string            `yaml:"base_url"`
	Extra       map[string]string `yaml:"extra"`
	Disabled    bool              `yaml:"disabled"`
}

// HasCredential reports whether the config carries a usable credential.
func (c Config) HasCredential() bool {
	if strings.TrimSpace(c.APIKey) != "" {
		return true
	}
	for _, key := range []string{"access_token", "refresh_token", "token"} {
		if strings.TrimSpace(c.Extra[key]) != "" {
			return true
		}
	}
	return false
}

// Report is one logical usage observation returned by a capability. A single
// fetch may yield several reports when one account exposes per-model rows.
type Report struct {
	ProviderID  string // May differ from the config ID for sub-providers.
	DisplayName string
	PlanKind    string // models.PlanKindUsage or models.PlanKindQuota.
	AccountName string

	AmountUsed      float64
	AmountAvailable float64
	Percentage      float64 // Meaning depends on PlanKind.

	IsAvailable   bool
	StatusMessage string
	NextResetTime *time.Time
	Details       []models.SnapshotDetail

	// Raw upstream response, persisted separately with a short TTL.
	RawPayload string
	RawStatus  int
}

// Capability fetches usage for one provider family given a configuration.
type Capability interface {
	// ID returns the canonical provider ID this capability serves.
	ID() string

	// Fetch retrieves current usage. Credential problems must be reported
	// via NewCredentialError so callers can distinguish them from backend
	// failures.
	Fetch(ctx context.Context, cfg Config) ([]Report, error)
}
