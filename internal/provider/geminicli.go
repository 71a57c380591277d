package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/router-for-me/UsageDeck/internal/models"
)

const geminiCLIQuotaURL = "https://cloudcode-pa.googleapis.com/v1internal:retrieveUserQuota"

// GeminiCLI fetches user quota from the Cloud Code backend used by the
// gemini CLI.
type GeminiCLI struct{}

// NewGeminiCLI constructs the gemini-cli capability.
func NewGeminiCLI() *GeminiCLI { return &GeminiCLI{} }

// ID returns the canonical provider ID.
func (g *GeminiCLI) ID() string { return "gemini-cli" }

type geminiQuotaResponse struct {
	Buckets []struct {
		ModelFamily    string  `json:"modelFamily"`
		RemainingCount float64 `json:"remainingCount"`
		TotalCount     float64 `json:"totalCount"`
		ResetTime      string  `json:"resetTime"`
	} `json:"buckets"`
}

// Fetch retrieves the aggregate user quota for the configured project.
func (g *GeminiCLI) Fetch(ctx context.Context, cfg Config) ([]Report, error) {
	token := strings.TrimSpace(cfg.Extra["access_token"])
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if token == "" {
		return nil, NewCredentialError("gemini-cli: missing access token")
	}
	projectID := strings.TrimSpace(cfg.Extra["project_id"])
	if projectID == "" {
		return nil, NewCredentialError("gemini-cli: missing project id")
	}

	body, errMarshal := json.Marshal(map[string]string{"project": projectID})
	if errMarshal != nil {
		return nil, &RequestError{Provider: "gemini-cli", Err: errMarshal}
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+token)

	status, payload, errReq := doRequest(ctx, http.MethodPost, geminiCLIQuotaURL, body, headers)
	if errReq != nil {
		return nil, &RequestError{Provider: "gemini-cli", Err: errReq}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, NewCredentialStatusError(status, "gemini-cli: token rejected (status=%d)", status)
	}
	if !is2xx(status) {
		return nil, &RequestError{
			Provider:   "gemini-cli",
			StatusCode: status,
			Err:        fmt.Errorf("gemini-cli: non-2xx status=%d", status),
		}
	}

	var parsed geminiQuotaResponse
	if errUnmarshal := json.Unmarshal(payload, &parsed); errUnmarshal != nil {
		return nil, &RequestError{Provider: "gemini-cli", StatusCode: status, Err: errUnmarshal}
	}

	var used, total float64
	details := make([]models.SnapshotDetail, 0, len(parsed.Buckets))
	var nextReset *string
	for _, bucket := range parsed.Buckets {
		bucketUsed := bucket.TotalCount - bucket.RemainingCount
		used += bucketUsed
		total += bucket.TotalCount
		details = append(details, models.SnapshotDetail{
			Name:      bucket.ModelFamily,
			Used:      fmt.Sprintf("%.0f/%.0f", bucketUsed, bucket.TotalCount),
			ResetTime: parseAntigravityReset(bucket.ResetTime),
		})
		if nextReset == nil && strings.TrimSpace(bucket.ResetTime) != "" {
			reset := bucket.ResetTime
			nextReset = &reset
		}
	}

	pct := 0.0
	if total > 0 {
		pct = (total - used) / total * 100
	}

	report := Report{
		ProviderID:      "gemini-cli",
		DisplayName:     "Gemini CLI",
		PlanKind:        models.PlanKindQuota,
		AccountName:     projectID,
		AmountUsed:      used,
		AmountAvailable: total - used,
		Percentage:      pct,
		IsAvailable:     true,
		Details:         details,
		RawPayload:      string(payload),
		RawStatus:       status,
	}
	if nextReset != nil {
		report.NextResetTime = parseAntigravityReset(*nextReset)
	}

	return []Report{report}, nil
}
