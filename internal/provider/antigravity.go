package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/UsageDeck/internal/models"
)

const antigravityUserAgent = "antigravity/1.11.5 windows/amd64"

// antigravityQuotaURLs are tried in order; the daily endpoints front the
// sandbox and production backends.
var antigravityQuotaURLs = []string{
	"https://daily-cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal:fetchAvailableModels",
	"https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels",
}

// Antigravity fetches per-model quota from the Antigravity backend. One
// account yields one report per model, published as dynamic sub-providers
// "antigravity.<model>".
type Antigravity struct{}

// NewAntigravity constructs the antigravity capability.
func NewAntigravity() *Antigravity { return &Antigravity{} }

// ID returns the canonical provider ID.
func (a *Antigravity) ID() string { return "antigravity" }

type antigravityModelsResponse struct {
	Models []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		QuotaInfo   struct {
			RemainingFraction float64 `json:"remainingFraction"`
			ResetTime         string  `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

// Fetch retrieves quota for every model exposed to the account.
func (a *Antigravity) Fetch(ctx context.Context, cfg Config) ([]Report, error) {
	token := strings.TrimSpace(cfg.Extra["access_token"])
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if token == "" {
		return nil, NewCredentialError("antigravity: missing access token")
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", antigravityUserAgent)
	headers.Set("Authorization", "Bearer "+token)

	var lastErr error
	for _, url := range antigravityQuotaURLs {
		status, payload, errReq := doRequest(ctx, http.MethodPost, url, []byte("{}"), headers)
		if errReq != nil {
			lastErr = &RequestError{Provider: "antigravity", Err: errReq}
			continue
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, NewCredentialStatusError(status, "antigravity: token rejected (status=%d)", status)
		}
		if !is2xx(status) {
			lastErr = &RequestError{
				Provider:   "antigravity",
				StatusCode: status,
				Err:        fmt.Errorf("antigravity: non-2xx status=%d", status),
			}
			continue
		}
		return a.parse(payload, status)
	}
	if lastErr == nil {
		lastErr = &RequestError{Provider: "antigravity", Err: errors.New("antigravity: all endpoints failed")}
	}
	return nil, lastErr
}

func (a *Antigravity) parse(payload []byte, status int) ([]Report, error) {
	var parsed antigravityModelsResponse
	if errUnmarshal := json.Unmarshal(payload, &parsed); errUnmarshal != nil {
		return nil, &RequestError{Provider: "antigravity", StatusCode: status, Err: errUnmarshal}
	}
	if len(parsed.Models) == 0 {
		return nil, &RequestError{
			Provider:   "antigravity",
			StatusCode: status,
			Err:        errors.New("antigravity: no models in response"),
		}
	}

	reports := make([]Report, 0, len(parsed.Models))
	for _, model := range parsed.Models {
		name := strings.TrimSpace(model.Name)
		if name == "" {
			continue
		}
		display := strings.TrimSpace(model.DisplayName)
		if display == "" {
			display = name
		}

		remaining := model.QuotaInfo.RemainingFraction * 100
		report := Report{
			ProviderID:      "antigravity." + strings.ToLower(name),
			DisplayName:     "Antigravity " + display,
			PlanKind:        models.PlanKindQuota,
			AmountUsed:      100 - remaining,
			AmountAvailable: remaining,
			Percentage:      remaining,
			IsAvailable:     true,
			NextResetTime:   parseAntigravityReset(model.QuotaInfo.ResetTime),
			RawPayload:      string(payload),
			RawStatus:       status,
		}
		reports = append(reports, report)
	}
	if len(reports) == 0 {
		return nil, &RequestError{
			Provider:   "antigravity",
			StatusCode: status,
			Err:        errors.New("antigravity: no usable model rows"),
		}
	}
	return reports, nil
}

func parseAntigravityReset(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, errParse := time.Parse(time.RFC3339, raw)
	if errParse != nil {
		return nil
	}
	return &parsed
}
