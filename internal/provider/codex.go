package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/UsageDeck/internal/models"
)

const (
	codexUsageURL  = "https://chatgpt.com/backend-api/wham/usage"
	codexUserAgent = "codex_cli_rs/0.76.0 (Debian 13.0.0; x86_64) WindowsTerminal"
)

// Codex fetches ChatGPT/Codex rate-limit windows. Zero-credential system
// provider: the access token comes from the locally cached CLI login, handed
// in through Extra.
type Codex struct{}

// NewCodex constructs the codex capability.
func NewCodex() *Codex { return &Codex{} }

// ID returns the canonical provider ID.
func (c *Codex) ID() string { return "codex" }

type codexUsageResponse struct {
	PlanType   string `json:"plan_type"`
	RateLimits struct {
		Primary   codexWindow `json:"primary"`
		Secondary codexWindow `json:"secondary"`
	} `json:"rate_limits"`
}

type codexWindow struct {
	UsedPercent        float64 `json:"used_percent"`
	WindowMinutes      int64   `json:"window_minutes"`
	ResetsAfterSeconds int64   `json:"resets_after_seconds"`
}

// Fetch retrieves the current Codex usage windows.
func (c *Codex) Fetch(ctx context.Context, cfg Config) ([]Report, error) {
	token := strings.TrimSpace(cfg.Extra["access_token"])
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if token == "" {
		return nil, NewCredentialError("codex: not logged in")
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", codexUserAgent)
	headers.Set("Authorization", "Bearer "+token)
	if accountID := strings.TrimSpace(cfg.Extra["account_id"]); accountID != "" {
		headers.Set("Chatgpt-Account-Id", accountID)
	}

	status, payload, errReq := doRequest(ctx, http.MethodGet, codexUsageURL, nil, headers)
	if errReq != nil {
		return nil, &RequestError{Provider: "codex", Err: errReq}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, NewCredentialStatusError(status, "codex: token rejected (status=%d)", status)
	}
	if !is2xx(status) {
		return nil, &RequestError{
			Provider:   "codex",
			StatusCode: status,
			Err:        fmt.Errorf("codex: non-2xx status=%d", status),
		}
	}

	var parsed codexUsageResponse
	if errUnmarshal := json.Unmarshal(payload, &parsed); errUnmarshal != nil {
		return nil, &RequestError{Provider: "codex", StatusCode: status, Err: errUnmarshal}
	}

	now := time.Now()
	primary := parsed.RateLimits.Primary
	secondary := parsed.RateLimits.Secondary

	report := Report{
		ProviderID:      "codex",
		DisplayName:     "Codex",
		PlanKind:        models.PlanKindQuota,
		AccountName:     strings.TrimSpace(parsed.PlanType),
		AmountUsed:      primary.UsedPercent,
		AmountAvailable: 100 - primary.UsedPercent,
		Percentage:      100 - primary.UsedPercent,
		IsAvailable:     true,
		RawPayload:      string(payload),
		RawStatus:       status,
	}
	if primary.ResetsAfterSeconds > 0 {
		reset := now.Add(time.Duration(primary.ResetsAfterSeconds) * time.Second)
		report.NextResetTime = &reset
	}

	report.Details = append(report.Details, codexDetail("Primary", primary, now))
	if secondary.WindowMinutes > 0 {
		report.Details = append(report.Details, codexDetail("Secondary", secondary, now))
	}

	return []Report{report}, nil
}

func codexDetail(name string, window codexWindow, now time.Time) models.SnapshotDetail {
	detail := models.SnapshotDetail{
		Name:        fmt.Sprintf("%s (%s)", name, formatWindow(window.WindowMinutes)),
		Used:        fmt.Sprintf("%.0f%%", window.UsedPercent),
		Description: "window usage",
	}
	if window.ResetsAfterSeconds > 0 {
		reset := now.Add(time.Duration(window.ResetsAfterSeconds) * time.Second)
		detail.ResetTime = &reset
	}
	return detail
}

func formatWindow(minutes int64) string {
	if minutes <= 0 {
		return "window"
	}
	if minutes%(24*60) == 0 {
		return fmt.Sprintf("%dd", minutes/(24*60))
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("%dh", minutes/60)
	}
	return fmt.Sprintf("%dm", minutes)
}
