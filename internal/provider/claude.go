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
	claudeUsageURL   = "https://api.anthropic.com/api/oauth/usage"
	claudeOAuthBeta  = "oauth-2025-04-20"
	claudeAPIVersion = "2023-06-01"
)

// Claude fetches Anthropic subscription usage windows. Zero-credential
// system provider: authenticates with the locally cached OAuth token from
// the claude CLI login.
type Claude struct{}

// NewClaude constructs the claude capability.
func NewClaude() *Claude { return &Claude{} }

// ID returns the canonical provider ID.
func (c *Claude) ID() string { return "claude" }

type claudeUsageResponse struct {
	FiveHour claudeWindow `json:"five_hour"`
	SevenDay claudeWindow `json:"seven_day"`
}

type claudeWindow struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

// Fetch retrieves the current Claude usage windows.
func (c *Claude) Fetch(ctx context.Context, cfg Config) ([]Report, error) {
	token := strings.TrimSpace(cfg.Extra["access_token"])
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if token == "" {
		return nil, NewCredentialError("claude: not logged in")
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("anthropic-beta", claudeOAuthBeta)
	headers.Set("anthropic-version", claudeAPIVersion)

	status, payload, errReq := doRequest(ctx, http.MethodGet, claudeUsageURL, nil, headers)
	if errReq != nil {
		return nil, &RequestError{Provider: "claude", Err: errReq}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, NewCredentialStatusError(status, "claude: token rejected (status=%d)", status)
	}
	if !is2xx(status) {
		return nil, &RequestError{
			Provider:   "claude",
			StatusCode: status,
			Err:        fmt.Errorf("claude: non-2xx status=%d", status),
		}
	}

	var parsed claudeUsageResponse
	if errUnmarshal := json.Unmarshal(payload, &parsed); errUnmarshal != nil {
		return nil, &RequestError{Provider: "claude", StatusCode: status, Err: errUnmarshal}
	}

	report := Report{
		ProviderID:      "claude",
		DisplayName:     "Claude",
		PlanKind:        models.PlanKindQuota,
		AmountUsed:      parsed.FiveHour.Utilization,
		AmountAvailable: 100 - parsed.FiveHour.Utilization,
		Percentage:      100 - parsed.FiveHour.Utilization,
		IsAvailable:     true,
		NextResetTime:   parseClaudeReset(parsed.FiveHour.ResetsAt),
		RawPayload:      string(payload),
		RawStatus:       status,
	}

	report.Details = append(report.Details, models.SnapshotDetail{
		Name:      "Session (5h)",
		Used:      fmt.Sprintf("%.0f%%", parsed.FiveHour.Utilization),
		ResetTime: parseClaudeReset(parsed.FiveHour.ResetsAt),
	})
	report.Details = append(report.Details, models.SnapshotDetail{
		Name:      "Week (7d)",
		Used:      fmt.Sprintf("%.0f%%", parsed.SevenDay.Utilization),
		ResetTime: parseClaudeReset(parsed.SevenDay.ResetsAt),
	})

	return []Report{report}, nil
}

func parseClaudeReset(raw string) *time.Time {
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
