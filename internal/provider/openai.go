package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/UsageDeck/internal/models"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICompat probes any OpenAI-compatible API. A cheap authenticated call
// to the models listing validates the key and captures the x-ratelimit-*
// headers, from which a usage-based snapshot is derived. This capability
// doubles as the generic fallback for configs with an API-key payment style.
type OpenAICompat struct{}

// NewOpenAICompat constructs the generic OpenAI-compatible capability.
func NewOpenAICompat() *OpenAICompat { return &OpenAICompat{} }

// ID returns the canonical provider ID.
func (o *OpenAICompat) ID() string { return "openai" }

// Fetch probes the configured endpoint and derives usage from rate-limit
// headers.
func (o *OpenAICompat) Fetch(ctx context.Context, cfg Config) ([]Report, error) {
	label := providerLabel(cfg)

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, NewCredentialError("%s: missing api key", label)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/models", nil)
	if errReq != nil {
		return nil, &RequestError{Provider: label, Err: errReq}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if orgID := strings.TrimSpace(cfg.Extra["organization"]); orgID != "" {
		req.Header.Set("OpenAI-Organization", orgID)
	}

	resp, errResp := httpClient.Do(req)
	if errResp != nil {
		return nil, &RequestError{Provider: label, Err: errResp}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return nil, &RequestError{Provider: label, StatusCode: resp.StatusCode, Err: errRead}
	}

	status := resp.StatusCode
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, NewCredentialStatusError(status, "%s: api key rejected (status=%d)", label, status)
	}
	// 429 still carries rate-limit headers, so it stays a usable probe.
	if !is2xx(status) && status != http.StatusTooManyRequests {
		return nil, &RequestError{
			Provider:   label,
			StatusCode: status,
			Err:        fmt.Errorf("%s: non-2xx status=%d", label, status),
		}
	}

	report := Report{
		ProviderID:    label,
		DisplayName:   displayLabel(cfg),
		PlanKind:      models.PlanKindUsage,
		IsAvailable:   true,
		StatusMessage: "key valid",
		RawPayload:    string(payload),
		RawStatus:     status,
	}
	if status == http.StatusTooManyRequests {
		report.StatusMessage = "rate limited"
	}

	if used, limit, resetAt, ok := parseRateLimitHeaders(resp.Header, "requests"); ok {
		report.AmountUsed = used
		report.AmountAvailable = limit
		if limit > 0 {
			report.Percentage = used / limit * 100
		}
		report.NextResetTime = resetAt
		report.Details = append(report.Details, models.SnapshotDetail{
			Name:      "Requests",
			Used:      fmt.Sprintf("%.0f/%.0f", used, limit),
			ResetTime: resetAt,
		})
	}
	if used, limit, resetAt, ok := parseRateLimitHeaders(resp.Header, "tokens"); ok {
		report.Details = append(report.Details, models.SnapshotDetail{
			Name:      "Tokens",
			Used:      fmt.Sprintf("%.0f/%.0f", used, limit),
			ResetTime: resetAt,
		})
	}

	return []Report{report}, nil
}

func providerLabel(cfg Config) string {
	id := strings.ToLower(strings.TrimSpace(cfg.ID))
	if id == "" {
		return "openai"
	}
	return id
}

func displayLabel(cfg Config) string {
	if name := strings.TrimSpace(cfg.DisplayName); name != "" {
		return name
	}
	label := providerLabel(cfg)
	return strings.ToUpper(label[:1]) + label[1:]
}

// parseRateLimitHeaders extracts used/limit from OpenAI style x-ratelimit
// headers, returning ok=false when the pair is absent.
func parseRateLimitHeaders(h http.Header, metric string) (used, limit float64, resetAt *time.Time, ok bool) {
	limitStr := h.Get("x-ratelimit-limit-" + metric)
	remStr := h.Get("x-ratelimit-remaining-" + metric)
	if limitStr == "" || remStr == "" {
		return 0, 0, nil, false
	}
	limitVal, errLimit := strconv.ParseFloat(limitStr, 64)
	remVal, errRem := strconv.ParseFloat(remStr, 64)
	if errLimit != nil || errRem != nil {
		return 0, 0, nil, false
	}
	// Reset strings look like "100ms", "2s" or "6m0s".
	if resetStr := h.Get("x-ratelimit-reset-" + metric); resetStr != "" {
		if dur, errDur := time.ParseDuration(resetStr); errDur == nil {
			t := time.Now().Add(dur)
			resetAt = &t
		}
	}
	return limitVal - remVal, limitVal, resetAt, true
}
